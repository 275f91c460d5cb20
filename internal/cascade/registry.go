package cascade

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/postlink/internal/schema"
)

// LinkQuerier is the slice of the storage port the registry needs.
type LinkQuerier interface {
	QueryByLink(ctx context.Context, scheduleID string) ([]*schema.Post, error)
}

// LinkRegistry answers which posts are linked to a schedule entry.
type LinkRegistry struct {
	q LinkQuerier
}

// NewLinkRegistry creates a registry backed by q.
func NewLinkRegistry(q LinkQuerier) *LinkRegistry {
	return &LinkRegistry{q: q}
}

// LinkedPosts returns the posts whose linkedScheduleId is scheduleID.
// Provisional ids never have persisted links.
func (r *LinkRegistry) LinkedPosts(ctx context.Context, scheduleID string) ([]*schema.Post, error) {
	if scheduleID == "" || schema.IsProvisional(scheduleID) {
		return nil, nil
	}
	posts, err := r.q.QueryByLink(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts linked to %s: %w", scheduleID, err)
	}
	return posts, nil
}
