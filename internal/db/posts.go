package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/store"
)

const postColumns = `id, post_date, status, linked_schedule_id, linked_date_offset,
	linked_row_orphaned, client, market, platform, title, caption, notes,
	version, updated_at`

// GetPost retrieves a single post by id.
func (db *DB) GetPost(ctx context.Context, id string) (*schema.Post, error) {
	rowID, err := parseID(store.CollectionPost, id)
	if err != nil {
		return nil, err
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, rowID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(store.CollectionPost, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return post, nil
}

// PutPost inserts a new post (empty id) or updates an existing one,
// bumping its version. The stored record is returned.
func (db *DB) PutPost(ctx context.Context, post *schema.Post) (*schema.Post, error) {
	rec := post.Clone()
	if err := rec.Validate(); err != nil {
		return nil, persistErr(store.CollectionPost, post.ID, "put", err)
	}
	linked, err := linkToNull(rec.LinkedScheduleID)
	if err != nil {
		return nil, persistErr(store.CollectionPost, post.ID, "put", err)
	}
	now := db.now().UTC().Format(time.RFC3339Nano)

	if rec.ID == "" {
		row := db.conn.QueryRowContext(ctx, `
		INSERT INTO posts (
			post_date, status, linked_schedule_id, linked_date_offset,
			linked_row_orphaned, client, market, platform, title, caption,
			notes, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		RETURNING `+postColumns,
			dateToNullString(rec.PostDate),
			string(rec.Status),
			linked,
			rec.LinkedDateOffset,
			boolToInt(rec.LinkedRowOrphaned),
			rec.Client, rec.Market, rec.Platform, rec.Title, rec.Caption, rec.Notes,
			now,
		)
		saved, err := scanPost(row)
		if err != nil {
			return nil, persistErr(store.CollectionPost, "", "insert", err)
		}
		return saved, nil
	}

	rowID, err := parseID(store.CollectionPost, rec.ID)
	if err != nil {
		return nil, err
	}
	// RETURNING reads back the row this UPDATE wrote.
	row := db.conn.QueryRowContext(ctx, `
	UPDATE posts SET
		post_date = ?,
		status = ?,
		linked_schedule_id = ?,
		linked_date_offset = ?,
		linked_row_orphaned = ?,
		client = ?,
		market = ?,
		platform = ?,
		title = ?,
		caption = ?,
		notes = ?,
		version = version + 1,
		updated_at = ?
	WHERE id = ?
	RETURNING `+postColumns,
		dateToNullString(rec.PostDate),
		string(rec.Status),
		linked,
		rec.LinkedDateOffset,
		boolToInt(rec.LinkedRowOrphaned),
		rec.Client, rec.Market, rec.Platform, rec.Title, rec.Caption, rec.Notes,
		now, rowID,
	)
	saved, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(store.CollectionPost, rec.ID)
	}
	if err != nil {
		return nil, persistErr(store.CollectionPost, rec.ID, "update", err)
	}
	return saved, nil
}

// DeletePost removes a post.
func (db *DB) DeletePost(ctx context.Context, id string) error {
	rowID, err := parseID(store.CollectionPost, id)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, rowID)
	if err != nil {
		return persistErr(store.CollectionPost, id, "delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound(store.CollectionPost, id)
	}
	return nil
}

// ListPosts returns every post ordered by id.
func (db *DB) ListPosts(ctx context.Context) ([]*schema.Post, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// QueryByLink returns the posts linked to a schedule entry.
func (db *DB) QueryByLink(ctx context.Context, scheduleID string) ([]*schema.Post, error) {
	rowID, err := parseID(store.CollectionSchedule, scheduleID)
	if err != nil {
		// A provisional or malformed id cannot be linked to anything.
		return nil, nil
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE linked_schedule_id = ? ORDER BY id ASC`, rowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts linked to %s: %w", scheduleID, err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// PostCounts summarizes the posts table.
type PostCounts struct {
	Total    int
	Linked   int
	Orphaned int
	ByStatus map[schema.Status]int
}

// GetPostCounts returns totals used by the status command.
func (db *DB) GetPostCounts(ctx context.Context) (*PostCounts, error) {
	counts := &PostCounts{ByStatus: make(map[schema.Status]int)}
	err := db.conn.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN linked_schedule_id IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(linked_row_orphaned), 0)
	FROM posts`).Scan(&counts.Total, &counts.Linked, &counts.Orphaned)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM posts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts.ByStatus[schema.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

func linkToNull(id *string) (sql.NullInt64, error) {
	if id == nil {
		return sql.NullInt64{}, nil
	}
	rowID, err := parseID(store.CollectionSchedule, *id)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("%w: linked schedule id %q is not a stored id", schema.ErrInvalid, *id)
	}
	return sql.NullInt64{Int64: rowID, Valid: true}, nil
}

func scanPosts(rows *sql.Rows) ([]*schema.Post, error) {
	var posts []*schema.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

func scanPost(row rowScanner) (*schema.Post, error) {
	var (
		post      schema.Post
		rowID     int64
		postDate  sql.NullString
		status    string
		linked    sql.NullInt64
		orphaned  int
		updatedAt string
	)
	err := row.Scan(
		&rowID,
		&postDate,
		&status,
		&linked,
		&post.LinkedDateOffset,
		&orphaned,
		&post.Client,
		&post.Market,
		&post.Platform,
		&post.Title,
		&post.Caption,
		&post.Notes,
		&post.Version,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	post.ID = formatID(rowID)
	post.PostDate = nullStringToDate(postDate)
	post.Status = schema.Status(status)
	if linked.Valid {
		id := formatID(linked.Int64)
		post.LinkedScheduleID = &id
	}
	post.LinkedRowOrphaned = orphaned != 0
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		post.UpdatedAt = t
	}
	return &post, nil
}
