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

const scheduleColumns = `id, due_date, missed_deadline, market, client, project,
	task, team, notes, version, updated_at`

// GetSchedule retrieves a single schedule entry by id.
func (db *DB) GetSchedule(ctx context.Context, id string) (*schema.ScheduleEntry, error) {
	rowID, err := parseID(store.CollectionSchedule, id)
	if err != nil {
		return nil, err
	}
	row := db.conn.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedule WHERE id = ?`, rowID)
	entry, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(store.CollectionSchedule, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return entry, nil
}

// PutSchedule inserts a new entry (empty id) or updates an existing one,
// bumping its version. The stored record is returned.
func (db *DB) PutSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, persistErr(store.CollectionSchedule, entry.ID, "put", err)
	}
	now := db.now().UTC().Format(time.RFC3339Nano)

	if entry.ID == "" {
		row := db.conn.QueryRowContext(ctx, `
		INSERT INTO schedule (
			due_date, missed_deadline, market, client, project,
			task, team, notes, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		RETURNING `+scheduleColumns,
			dateToNullString(entry.DueDate),
			boolToInt(entry.MissedDeadline),
			entry.Market, entry.Client, entry.Project,
			entry.Task, entry.Team, entry.Notes,
			now,
		)
		saved, err := scanSchedule(row)
		if err != nil {
			return nil, persistErr(store.CollectionSchedule, "", "insert", err)
		}
		return saved, nil
	}

	rowID, err := parseID(store.CollectionSchedule, entry.ID)
	if err != nil {
		return nil, err
	}
	// RETURNING reads back the row this UPDATE wrote.
	row := db.conn.QueryRowContext(ctx, `
	UPDATE schedule SET
		due_date = ?,
		missed_deadline = ?,
		market = ?,
		client = ?,
		project = ?,
		task = ?,
		team = ?,
		notes = ?,
		version = version + 1,
		updated_at = ?
	WHERE id = ?
	RETURNING `+scheduleColumns,
		dateToNullString(entry.DueDate),
		boolToInt(entry.MissedDeadline),
		entry.Market, entry.Client, entry.Project,
		entry.Task, entry.Team, entry.Notes,
		now, rowID,
	)
	saved, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(store.CollectionSchedule, entry.ID)
	}
	if err != nil {
		return nil, persistErr(store.CollectionSchedule, entry.ID, "update", err)
	}
	return saved, nil
}

// DeleteSchedule removes a schedule entry. Linked posts are untouched here;
// orphaning them is the cascade's job.
func (db *DB) DeleteSchedule(ctx context.Context, id string) error {
	rowID, err := parseID(store.CollectionSchedule, id)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM schedule WHERE id = ?`, rowID)
	if err != nil {
		return persistErr(store.CollectionSchedule, id, "delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.NotFound(store.CollectionSchedule, id)
	}
	return nil
}

// ListSchedules returns every schedule entry ordered by id.
func (db *DB) ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedule ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var entries []*schema.ScheduleEntry
	for rows.Next() {
		entry, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return entries, nil
}

// GetScheduleCount returns the total number of schedule entries.
func (db *DB) GetScheduleCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM schedule").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get schedule count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*schema.ScheduleEntry, error) {
	var (
		entry     schema.ScheduleEntry
		rowID     int64
		dueDate   sql.NullString
		missed    int
		updatedAt string
	)
	err := row.Scan(
		&rowID,
		&dueDate,
		&missed,
		&entry.Market,
		&entry.Client,
		&entry.Project,
		&entry.Task,
		&entry.Team,
		&entry.Notes,
		&entry.Version,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.ID = formatID(rowID)
	entry.DueDate = nullStringToDate(dueDate)
	entry.MissedDeadline = missed != 0
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		entry.UpdatedAt = t
	}
	return &entry, nil
}
