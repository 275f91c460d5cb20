// Package service implements the REST-shaped operations on schedule entries
// and posts: persist, cascade, then publish.
package service

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/cascade"
	"github.com/mschirtzinger/postlink/internal/filter"
	"github.com/mschirtzinger/postlink/internal/options"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/store"
)

// Service coordinates storage, the cascade engine, the option registry and
// the broadcast hub.
type Service struct {
	store     store.Store
	engine    *cascade.Engine
	publisher broadcast.Publisher
	options   *options.Registry
	topic     string
	logger    *log.Logger
}

// Config wires a Service. Publisher and Options are optional.
type Config struct {
	Store     store.Store
	Engine    *cascade.Engine
	Publisher broadcast.Publisher
	Options   *options.Registry

	// Topic mutations are published on (default: broadcast.DefaultTopic)
	Topic string

	Logger *log.Logger
}

// New creates a service. A nil Engine gets a default one on the same store
// and publisher.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	if cfg.Topic == "" {
		cfg.Topic = broadcast.DefaultTopic
	}
	if cfg.Engine == nil {
		cfg.Engine = cascade.NewEngine(cfg.Store, cfg.Publisher, cascade.Config{Topic: cfg.Topic, Logger: cfg.Logger})
	}
	if cfg.Options == nil {
		cfg.Options = options.NewRegistry(cfg.Logger)
	}
	return &Service{
		store:     cfg.Store,
		engine:    cfg.Engine,
		publisher: cfg.Publisher,
		options:   cfg.Options,
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}
}

// Store returns the underlying storage port.
func (s *Service) Store() store.Store {
	return s.store
}

// ScheduleResult is a schedule write and the cascade it triggered.
type ScheduleResult struct {
	Entry   *schema.ScheduleEntry
	Cascade *cascade.Outcome
}

// CreateSchedule persists a new entry. Any id on entry is ignored; storage
// assigns one.
func (s *Service) CreateSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: nil schedule entry", schema.ErrInvalid)
	}
	rec := entry.Clone()
	rec.ID = ""
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	saved, err := s.store.PutSchedule(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.options.RegisterRecord(saved)
	s.publish(ctx, schema.EntitySchedule, broadcast.OpCreate, saved)
	return saved, nil
}

// UpdateSchedule applies patch to entry id and cascades to its posts.
// Cascade failures are logged and reported in the result; they never fail
// the update itself.
func (s *Service) UpdateSchedule(ctx context.Context, id string, patch schema.SchedulePatch) (*ScheduleResult, error) {
	prev, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	next := patch.Apply(prev)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	saved, err := s.store.PutSchedule(ctx, next)
	if err != nil {
		return nil, err
	}
	s.options.RegisterRecord(saved)
	s.publish(ctx, schema.EntitySchedule, broadcast.OpUpdate, saved)

	return &ScheduleResult{Entry: saved, Cascade: s.cascade(ctx, prev, saved)}, nil
}

// DeleteSchedule removes entry id and orphans its posts.
func (s *Service) DeleteSchedule(ctx context.Context, id string) (*ScheduleResult, error) {
	prev, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return nil, err
	}
	s.publish(ctx, schema.EntitySchedule, broadcast.OpDelete, broadcast.DeletePayload{ID: id})

	return &ScheduleResult{Entry: prev, Cascade: s.cascade(ctx, prev, nil)}, nil
}

// cascade runs detached from ctx cancellation: a caller hanging up must not
// leave half the linked posts shifted.
func (s *Service) cascade(ctx context.Context, prev, next *schema.ScheduleEntry) *cascade.Outcome {
	out, err := s.engine.OnScheduleEntryChanged(context.WithoutCancel(ctx), prev, next)
	if err != nil {
		s.logger.Printf("WARNING: cascade for schedule %s skipped: %v", prev.ID, err)
		return &cascade.Outcome{Failed: map[string]error{}}
	}
	if len(out.Failed) > 0 {
		s.logger.Printf("WARNING: cascade for schedule %s: %d applied, %d failed",
			prev.ID, len(out.Applied), len(out.Failed))
	}
	return out
}

// CreatePost persists a new post, resolving its link first.
func (s *Service) CreatePost(ctx context.Context, post *schema.Post) (*schema.Post, error) {
	if post == nil {
		return nil, fmt.Errorf("%w: nil post", schema.ErrInvalid)
	}
	rec := post.Clone()
	rec.ID = ""
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.engine.ResolveLink(ctx, rec)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.PutPost(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.options.RegisterRecord(saved)
	s.publish(ctx, schema.EntityPost, broadcast.OpCreate, saved)
	return saved, nil
}

// UpdatePost applies patch to post id. Setting the link or the offset
// re-resolves the link and re-derives the post date; clearing the link
// clears the orphaned flag unless the patch sets it.
func (s *Service) UpdatePost(ctx context.Context, id string, patch schema.PostPatch) (*schema.Post, error) {
	prev, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	next := patch.Apply(prev)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if patch.LinkedScheduleID.Set && patch.LinkedScheduleID.Null && !patch.LinkedRowOrphaned.Set {
		next.LinkedRowOrphaned = false
	}
	if next.LinkedScheduleID != nil && (patch.LinkedScheduleID.Set || patch.LinkedDateOffset.Set) {
		if next, err = s.engine.ResolveLink(ctx, next); err != nil {
			return nil, err
		}
	}
	saved, err := s.store.PutPost(ctx, next)
	if err != nil {
		return nil, err
	}
	s.options.RegisterRecord(saved)
	s.publish(ctx, schema.EntityPost, broadcast.OpUpdate, saved)
	return saved, nil
}

// DeletePost removes post id.
func (s *Service) DeletePost(ctx context.Context, id string) error {
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, schema.EntityPost, broadcast.OpDelete, broadcast.DeletePayload{ID: id})
	return nil
}

// GetSchedule returns entry id.
func (s *Service) GetSchedule(ctx context.Context, id string) (*schema.ScheduleEntry, error) {
	return s.store.GetSchedule(ctx, id)
}

// GetPost returns post id.
func (s *Service) GetPost(ctx context.Context, id string) (*schema.Post, error) {
	return s.store.GetPost(ctx, id)
}

// ListSchedules returns the entries matching q.
func (s *Service) ListSchedules(ctx context.Context, q filter.Query) ([]*schema.ScheduleEntry, error) {
	all, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Select(all, q), nil
}

// ListPosts returns the posts matching q.
func (s *Service) ListPosts(ctx context.Context, q filter.Query) ([]*schema.Post, error) {
	all, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Select(all, q), nil
}

// Options returns the suggestions for field, or for every field when field
// is empty.
func (s *Service) Options(field string) map[string][]string {
	if field == "" {
		return s.options.All()
	}
	return map[string][]string{field: s.options.Suggest(field)}
}

// Warm registers the vocabularies of everything already stored.
func (s *Service) Warm(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedule: %w", err)
	}
	for _, e := range schedules {
		s.options.RegisterRecord(e)
	}
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}
	for _, p := range posts {
		s.options.RegisterRecord(p)
	}
	return nil
}

// publish broadcasts a persisted mutation. The caller's client id is the
// origin, so the hub keeps the author from receiving its own write;
// anonymous callers publish as OriginServer.
func (s *Service) publish(ctx context.Context, entity schema.Entity, op broadcast.Op, payload any) {
	if s.publisher == nil {
		return
	}
	origin := OriginFrom(ctx)
	if origin == "" {
		origin = broadcast.OriginServer
	}
	msg, err := broadcast.NewMessage(origin, entity, op, payload)
	if err == nil {
		msg.Topic = s.topic
		err = s.publisher.Publish(context.WithoutCancel(ctx), msg)
	}
	if err != nil {
		s.logger.Printf("WARNING: failed to publish %s %s: %v", entity, op, err)
	}
}
