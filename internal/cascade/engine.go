package cascade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/store"
)

const defaultConcurrency = 8

// Config holds engine settings.
type Config struct {
	// Concurrency bounds how many posts are persisted at once (default: 8)
	Concurrency int

	// Topic cascaded posts are published on (default: broadcast.DefaultTopic)
	Topic string

	// Logger for cascade failures and link warnings (default: stderr logger)
	Logger *log.Logger
}

// Engine applies cascades: it plans the mutations for a schedule change,
// persists each one and publishes the stored post.
//
// Sibling posts are applied concurrently. Each post is persisted before it
// is published, and a failure on one post neither blocks its siblings nor
// undoes the schedule change that triggered it.
type Engine struct {
	store       store.Store
	registry    *LinkRegistry
	publisher   broadcast.Publisher
	concurrency int
	topic       string
	logger      *log.Logger
}

// NewEngine creates an engine. publisher may be nil, in which case
// mutations are persisted but not broadcast.
func NewEngine(st store.Store, publisher broadcast.Publisher, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Topic == "" {
		cfg.Topic = broadcast.DefaultTopic
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[cascade] ", log.LstdFlags)
	}
	return &Engine{
		store:       st,
		registry:    NewLinkRegistry(st),
		publisher:   publisher,
		concurrency: cfg.Concurrency,
		topic:       cfg.Topic,
		logger:      cfg.Logger,
	}
}

// Registry returns the link registry the engine queries.
func (e *Engine) Registry() *LinkRegistry {
	return e.registry
}

// Outcome reports what a cascade did.
type Outcome struct {
	// Mutations is the plan computed from the linked posts.
	Mutations []PostMutation

	// Applied holds the stored posts, in plan order.
	Applied []*schema.Post

	// Skipped lists posts that were deleted or relinked before their
	// mutation could be applied.
	Skipped []string

	// Failed maps post id to the persist error for that post.
	Failed map[string]error
}

// OnScheduleEntryChanged runs the cascade for one schedule change. prev is
// nil for a create and next is nil for a delete.
//
// The linked posts are queried at most once. An error is returned only if
// that query fails; per-post failures are logged and reported in the
// Outcome.
func (e *Engine) OnScheduleEntryChanged(ctx context.Context, prev, next *schema.ScheduleEntry) (*Outcome, error) {
	t := Detect(prev, next)
	out := &Outcome{Failed: make(map[string]error)}
	if !t.Fires() {
		return out, nil
	}

	linked, err := e.registry.LinkedPosts(ctx, t.ScheduleID)
	if err != nil {
		return nil, err
	}
	out.Mutations = planTrigger(t, linked)
	if len(out.Mutations) == 0 {
		return out, nil
	}

	applied := make([]*schema.Post, len(out.Mutations))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, m := range out.Mutations {
		g.Go(func() error {
			saved, err := e.apply(ctx, t, m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				out.Failed[m.PostID] = err
				e.logger.Printf("WARNING: cascade from schedule %s failed for post %s: %v", t.ScheduleID, m.PostID, err)
			case saved == nil:
				out.Skipped = append(out.Skipped, m.PostID)
			default:
				applied[i] = saved
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range applied {
		if p != nil {
			out.Applied = append(out.Applied, p)
		}
	}
	return out, nil
}

// apply re-reads the post, re-plans against its current state and stores
// the result. It returns nil, nil when the post is gone or no longer linked.
func (e *Engine) apply(ctx context.Context, t Trigger, m PostMutation) (*schema.Post, error) {
	current, err := e.store.GetPost(ctx, m.PostID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !current.LinkedTo(t.ScheduleID) {
		return nil, nil
	}
	patch := planPost(t, current)
	if patch.Empty() {
		return nil, nil
	}

	saved, err := e.store.PutPost(ctx, patch.Apply(current))
	if err != nil {
		return nil, err
	}
	e.publish(ctx, saved)
	return saved, nil
}

func (e *Engine) publish(ctx context.Context, p *schema.Post) {
	if e.publisher == nil {
		return
	}
	msg, err := broadcast.NewMessage(broadcast.OriginCascade, schema.EntityPost, broadcast.OpUpdate, p)
	if err == nil {
		msg.Topic = e.topic
		err = e.publisher.Publish(ctx, msg)
	}
	if err != nil {
		e.logger.Printf("WARNING: failed to publish cascaded post %s: %v", p.ID, err)
	}
}

// ResolveLink checks the link of a post about to be written and derives its
// date. A post linked to an entry with a due date gets postDate = dueDate +
// offset. A link that does not resolve is dropped and the post is flagged
// orphaned; the LinkIntegrityWarning is logged, not returned.
func (e *Engine) ResolveLink(ctx context.Context, p *schema.Post) (*schema.Post, error) {
	out := p.Clone()
	if out.LinkedScheduleID == nil {
		return out, nil
	}
	id := *out.LinkedScheduleID
	entry, err := e.store.GetSchedule(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && entry == nil) {
		e.logger.Printf("WARNING: %v", &LinkIntegrityWarning{PostID: out.ID, ScheduleID: id})
		out.LinkedScheduleID = nil
		out.LinkedRowOrphaned = true
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve link to schedule %s: %w", id, err)
	}
	out.LinkedRowOrphaned = false
	if entry.DueDate != nil {
		d := entry.DueDate.AddDays(out.LinkedDateOffset)
		out.PostDate = &d
	}
	return out, nil
}
