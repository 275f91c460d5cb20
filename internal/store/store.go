// Package store defines the storage port the synchronization core depends
// on, plus an in-memory implementation used by tests and embedded setups.
//
// Implementations own id assignment and versioning: Put on a record with an
// empty id creates it with a fresh monotonic id; every Put increments the
// record's Version and stamps UpdatedAt.
package store

import (
	"context"

	"github.com/mschirtzinger/postlink/internal/schema"
)

// Collection names a stored collection.
type Collection = schema.Entity

const (
	CollectionSchedule = schema.EntitySchedule
	CollectionPost     = schema.EntityPost
)

// Store is the storage port.
//
// Get and Delete return an error matching ErrNotFound for missing ids.
// QueryByLink returns every post whose linkedScheduleId equals scheduleID;
// callers must not assume it is cheap.
type Store interface {
	GetSchedule(ctx context.Context, id string) (*schema.ScheduleEntry, error)
	PutSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error)

	GetPost(ctx context.Context, id string) (*schema.Post, error)
	PutPost(ctx context.Context, post *schema.Post) (*schema.Post, error)
	DeletePost(ctx context.Context, id string) error
	ListPosts(ctx context.Context) ([]*schema.Post, error)

	QueryByLink(ctx context.Context, scheduleID string) ([]*schema.Post, error)

	Close() error
}
