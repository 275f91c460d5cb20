package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mschirtzinger/postlink/internal/schema"
)

// Memory is a goroutine-safe in-process Store. Records are cloned on the
// way in and out so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	schedules map[string]*schema.ScheduleEntry
	posts     map[string]*schema.Post
	now       func() time.Time
	queries   int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		schedules: make(map[string]*schema.ScheduleEntry),
		posts:     make(map[string]*schema.Post),
		now:       time.Now,
	}
}

func (m *Memory) allocID() string {
	m.nextID++
	return strconv.FormatInt(m.nextID, 10)
}

// GetSchedule implements Store.
func (m *Memory) GetSchedule(ctx context.Context, id string) (*schema.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, NotFound(CollectionSchedule, id)
	}
	return s.Clone(), nil
}

// PutSchedule implements Store.
func (m *Memory) PutSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &PersistError{Collection: CollectionSchedule, ID: entry.ID, Op: "put", Err: err}
	}
	if err := entry.Validate(); err != nil {
		return nil, &PersistError{Collection: CollectionSchedule, ID: entry.ID, Op: "put", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := entry.Clone()
	if rec.ID == "" {
		rec.ID = m.allocID()
		rec.Version = 0
	} else if prev, ok := m.schedules[rec.ID]; ok {
		rec.Version = prev.Version
	} else {
		return nil, NotFound(CollectionSchedule, rec.ID)
	}
	rec.Version++
	rec.UpdatedAt = m.now().UTC()
	m.schedules[rec.ID] = rec
	return rec.Clone(), nil
}

// DeleteSchedule implements Store.
func (m *Memory) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return NotFound(CollectionSchedule, id)
	}
	delete(m.schedules, id)
	return nil
}

// ListSchedules implements Store. Results are ordered by id.
func (m *Memory) ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schema.ScheduleEntry, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

// GetPost implements Store.
func (m *Memory) GetPost(ctx context.Context, id string) (*schema.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, NotFound(CollectionPost, id)
	}
	return p.Clone(), nil
}

// PutPost implements Store.
func (m *Memory) PutPost(ctx context.Context, post *schema.Post) (*schema.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, &PersistError{Collection: CollectionPost, ID: post.ID, Op: "put", Err: err}
	}
	rec := post.Clone()
	if err := rec.Validate(); err != nil {
		return nil, &PersistError{Collection: CollectionPost, ID: post.ID, Op: "put", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = m.allocID()
		rec.Version = 0
	} else if prev, ok := m.posts[rec.ID]; ok {
		rec.Version = prev.Version
	} else {
		return nil, NotFound(CollectionPost, rec.ID)
	}
	rec.Version++
	rec.UpdatedAt = m.now().UTC()
	m.posts[rec.ID] = rec
	return rec.Clone(), nil
}

// DeletePost implements Store.
func (m *Memory) DeletePost(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return NotFound(CollectionPost, id)
	}
	delete(m.posts, id)
	return nil
}

// ListPosts implements Store. Results are ordered by id.
func (m *Memory) ListPosts(ctx context.Context) ([]*schema.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schema.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

// QueryByLink implements Store.
func (m *Memory) QueryByLink(ctx context.Context, scheduleID string) ([]*schema.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	var out []*schema.Post
	for _, p := range m.posts {
		if p.LinkedTo(scheduleID) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

// LinkQueries returns how many times QueryByLink has been called.
func (m *Memory) LinkQueries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// idLess orders numeric ids numerically and everything else lexically.
func idLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
