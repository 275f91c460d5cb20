// Package client keeps a client's local view of the schedule and its posts
// consistent with the server and with other clients.
//
// Edits are applied locally at once and rolled back if the server rejects
// them. Broadcasts from other clients are merged by record id; a broadcast
// for a record with an open edit or an outstanding request waits until that
// edit resolves. Records created locally carry a provisional id until the
// server assigns one, and every local reference is rewritten then.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/schema"
)

const defaultPersistTimeout = 10 * time.Second

// Config holds store settings.
type Config struct {
	// ClientID identifies this client on the broadcast channel
	ClientID string

	// Persister sends writes to the server (required)
	Persister Persister

	// PersistTimeout bounds each persist request (default: 10s)
	PersistTimeout time.Duration

	// Logger for dropped broadcasts (default: stderr logger)
	Logger *log.Logger
}

// pendingCreate lets posts linked to a provisional schedule entry wait for
// its server id.
type pendingCreate struct {
	done chan struct{}
	id   string
	err  error
}

// Store is the optimistic client store. It is safe for concurrent use;
// local state changes between network calls are atomic.
type Store struct {
	mu        sync.Mutex
	schedules *collection[*schema.ScheduleEntry]
	posts     *collection[*schema.Post]
	pending   map[string]*pendingCreate
	aliases   map[string]string

	clientID  string
	persister Persister
	timeout   time.Duration
	logger    *log.Logger
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}
	return &Store{
		schedules: newCollection(schema.EntitySchedule, broadcast.Message.Schedule),
		posts:     newCollection(schema.EntityPost, broadcast.Message.Post),
		pending:   make(map[string]*pendingCreate),
		aliases:   make(map[string]string),
		clientID:  cfg.ClientID,
		persister: cfg.Persister,
		timeout:   cfg.PersistTimeout,
		logger:    cfg.Logger,
	}
}

// ClientID returns the id the server publishes this store's writes under.
func (s *Store) ClientID() string {
	return s.clientID
}

// Load performs a full fetch. Clean records are replaced by the server's
// values and records the server no longer has are dropped. Records being
// edited or in flight keep their local value; only their snapshot moves
// forward.
func (s *Store) Load(ctx context.Context) error {
	schedules, err := s.persister.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch schedule: %w", err)
	}
	posts, err := s.persister.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch posts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reload(s.schedules, schedules)
	reload(s.posts, posts)
	return nil
}

func reload[P cloner[P]](c *collection[P], fresh []P) {
	seen := make(map[string]bool, len(fresh))
	for _, rec := range fresh {
		id := rec.RecordID()
		if c.isDeleted(id) {
			continue
		}
		seen[id] = true
		if c.state(id).holdsBroadcasts() {
			if snap, ok := c.snapshot[id]; !ok || rec.RecordVersion() > snap.RecordVersion() {
				c.snapshot[id] = rec.Clone()
			}
			continue
		}
		c.confirm(rec)
	}
	for id := range c.visible {
		if seen[id] || schema.IsProvisional(id) || c.state(id).holdsBroadcasts() {
			continue
		}
		c.bury(id)
	}
}

// recordSet is the entity-independent part of a collection.
type recordSet interface {
	has(id string) bool
	state(id string) State
	setState(id string, st State)
	revert(id string)
	flush(id string) int
}

func (s *Store) collectionFor(entity schema.Entity) (recordSet, error) {
	switch entity {
	case schema.EntitySchedule:
		return s.schedules, nil
	case schema.EntityPost:
		return s.posts, nil
	default:
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
}

// BeginEdit opens an edit on a record. Broadcasts for it are held until the
// edit is committed or cancelled.
func (s *Store) BeginEdit(entity schema.Entity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collectionFor(entity)
	if err != nil {
		return err
	}
	if !c.has(id) {
		return fmt.Errorf("%w: %s %s", ErrUnknownRecord, entity, id)
	}
	switch c.state(id) {
	case InFlight:
		return fmt.Errorf("%w: %s %s", ErrRecordBusy, entity, id)
	case Editing:
		return nil
	}
	c.setState(id, Editing)
	return nil
}

// CancelEdit closes an edit without saving and applies held broadcasts.
func (s *Store) CancelEdit(entity schema.Entity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collectionFor(entity)
	if err != nil {
		return err
	}
	if c.state(id) != Editing {
		return fmt.Errorf("%w: %s %s", ErrNotEditing, entity, id)
	}
	c.revert(id)
	c.flush(id)
	return nil
}

// State returns the local state of a record. Unknown records are Clean.
func (s *Store) State(entity schema.Entity, id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collectionFor(entity)
	if err != nil {
		return Clean
	}
	return c.state(s.resolveLocked(id))
}

// Resolve maps a provisional id that has since been committed to its
// server id. Other ids are returned unchanged.
func (s *Store) Resolve(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) string {
	if real, ok := s.aliases[id]; ok {
		return real
	}
	return id
}

// Schedule returns a copy of a visible schedule entry.
func (s *Store) Schedule(id string) (*schema.ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules.get(s.resolveLocked(id))
}

// Post returns a copy of a visible post.
func (s *Store) Post(id string) (*schema.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts.get(s.resolveLocked(id))
}

// Schedules returns copies of every visible schedule entry, ordered by id.
func (s *Store) Schedules() []*schema.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules.list()
}

// Posts returns copies of every visible post, ordered by id.
func (s *Store) Posts() []*schema.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts.list()
}

// Receive merges a broadcast. Messages from this client are ignored.
func (s *Store) Receive(msg broadcast.Message) error {
	if msg.Origin != "" && msg.Origin == s.clientID {
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	id, err := msg.RecordID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Entity {
	case schema.EntitySchedule:
		_, err = s.schedules.receive(id, msg)
	case schema.EntityPost:
		_, err = s.posts.receive(id, msg)
	}
	return err
}

func (s *Store) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// CreateSchedule adds entry under a provisional id, persists it and swaps
// in the server id. On failure the entry is removed again.
func (s *Store) CreateSchedule(ctx context.Context, entry *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	rec := entry.Clone()
	if rec == nil {
		rec = &schema.ScheduleEntry{}
	}
	provisional := schema.NewProvisionalID()
	rec.ID = provisional

	s.mu.Lock()
	s.schedules.visible[provisional] = rec.Clone()
	s.schedules.setState(provisional, InFlight)
	wait := &pendingCreate{done: make(chan struct{})}
	s.pending[provisional] = wait
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	body := rec.Clone()
	body.ID = ""
	saved, err := s.persister.CreateSchedule(pctx, body)
	cancel()

	s.mu.Lock()
	delete(s.pending, provisional)
	if err != nil {
		s.schedules.forget(provisional)
		wait.err = err
		close(wait.done)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create schedule entry: %w", err)
	}
	s.schedules.rename(provisional, saved.ID)
	saved = s.schedules.settle(saved)
	s.aliases[provisional] = saved.ID
	s.relinkPosts(provisional, saved.ID)
	s.schedules.flush(saved.ID)
	wait.id = saved.ID
	close(wait.done)
	s.mu.Unlock()

	return saved.Clone(), nil
}

// relinkPosts rewrites every local reference to a provisional schedule id.
func (s *Store) relinkPosts(from, to string) {
	for _, m := range []map[string]*schema.Post{s.posts.visible, s.posts.snapshot} {
		for _, p := range m {
			if p.LinkedTo(from) {
				id := to
				p.LinkedScheduleID = &id
			}
		}
	}
}

// CommitSchedule applies patch locally, persists it, and either confirms
// the server's value or reverts to the last confirmed one.
func (s *Store) CommitSchedule(ctx context.Context, id string, patch schema.SchedulePatch) (*schema.ScheduleEntry, error) {
	s.mu.Lock()
	id = s.resolveLocked(id)
	cur, ok := s.schedules.visible[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: schedule %s", ErrUnknownRecord, id)
	}
	if s.schedules.state(id) == InFlight {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: schedule %s", ErrRecordBusy, id)
	}
	s.schedules.visible[id] = patch.Apply(cur)
	s.schedules.setState(id, InFlight)
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	saved, err := s.persister.UpdateSchedule(pctx, id, patch)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.schedules.revert(id)
		s.schedules.flush(id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to update schedule %s: %w", id, err)
	}
	saved = s.schedules.settle(saved)
	s.schedules.flush(id)
	s.mu.Unlock()

	return saved.Clone(), nil
}

// DeleteSchedule hides the entry at once and restores it if the server
// refuses. Linked posts are orphaned by the server's cascade broadcast.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	id = s.resolveLocked(id)
	if _, ok := s.schedules.visible[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: schedule %s", ErrUnknownRecord, id)
	}
	if s.schedules.state(id) == InFlight {
		s.mu.Unlock()
		return fmt.Errorf("%w: schedule %s", ErrRecordBusy, id)
	}
	delete(s.schedules.visible, id)
	s.schedules.setState(id, InFlight)
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	err := s.persister.DeleteSchedule(pctx, id)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.schedules.revert(id)
		s.schedules.flush(id)
		s.mu.Unlock()
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	s.schedules.bury(id)
	s.mu.Unlock()

	return nil
}

// CreatePost adds post under a provisional id and persists it. A post
// linked to a schedule entry that is itself still being created waits for
// that entry's server id; if the entry's creation fails the post is
// dropped with ErrLinkDiscarded.
func (s *Store) CreatePost(ctx context.Context, post *schema.Post) (*schema.Post, error) {
	rec := post.Clone()
	if rec == nil {
		rec = &schema.Post{}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	provisional := schema.NewProvisionalID()
	rec.ID = provisional

	s.mu.Lock()
	var wait *pendingCreate
	if rec.LinkedScheduleID != nil {
		link := s.resolveLocked(*rec.LinkedScheduleID)
		rec.LinkedScheduleID = &link
		if schema.IsProvisional(link) {
			wait = s.pending[link]
			if wait == nil {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrLinkDiscarded, link)
			}
		}
	}
	s.posts.visible[provisional] = rec.Clone()
	s.posts.setState(provisional, InFlight)
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait.done:
		case <-ctx.Done():
			s.discardPost(provisional)
			return nil, ctx.Err()
		}
		if wait.err != nil {
			s.discardPost(provisional)
			return nil, fmt.Errorf("%w: %v", ErrLinkDiscarded, wait.err)
		}
	}

	s.mu.Lock()
	body := s.posts.visible[provisional].Clone()
	s.mu.Unlock()
	body.ID = ""

	pctx, cancel := s.persistContext(ctx)
	saved, err := s.persister.CreatePost(pctx, body)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.posts.forget(provisional)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	s.posts.rename(provisional, saved.ID)
	saved = s.posts.settle(saved)
	s.aliases[provisional] = saved.ID
	s.posts.flush(saved.ID)
	s.mu.Unlock()

	return saved.Clone(), nil
}

func (s *Store) discardPost(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts.forget(id)
}

// CommitPost applies patch locally, persists it, and either confirms the
// server's value or reverts to the last confirmed one.
func (s *Store) CommitPost(ctx context.Context, id string, patch schema.PostPatch) (*schema.Post, error) {
	s.mu.Lock()
	id = s.resolveLocked(id)
	cur, ok := s.posts.visible[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: post %s", ErrUnknownRecord, id)
	}
	if s.posts.state(id) == InFlight {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: post %s", ErrRecordBusy, id)
	}
	if patch.LinkedScheduleID.Set && !patch.LinkedScheduleID.Null {
		link := s.resolveLocked(patch.LinkedScheduleID.V)
		if schema.IsProvisional(link) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: schedule %s is not saved yet", ErrRecordBusy, link)
		}
		patch.LinkedScheduleID = schema.Some(link)
	}
	s.posts.visible[id] = patch.Apply(cur)
	s.posts.setState(id, InFlight)
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	saved, err := s.persister.UpdatePost(pctx, id, patch)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.posts.revert(id)
		s.posts.flush(id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to update post %s: %w", id, err)
	}
	saved = s.posts.settle(saved)
	s.posts.flush(id)
	s.mu.Unlock()

	return saved.Clone(), nil
}

// DeletePost hides the post at once and restores it if the server refuses.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	id = s.resolveLocked(id)
	if _, ok := s.posts.visible[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: post %s", ErrUnknownRecord, id)
	}
	if s.posts.state(id) == InFlight {
		s.mu.Unlock()
		return fmt.Errorf("%w: post %s", ErrRecordBusy, id)
	}
	delete(s.posts.visible, id)
	s.posts.setState(id, InFlight)
	s.mu.Unlock()

	pctx, cancel := s.persistContext(ctx)
	err := s.persister.DeletePost(pctx, id)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.posts.revert(id)
		s.posts.flush(id)
		s.mu.Unlock()
		return fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	s.posts.bury(id)
	s.mu.Unlock()

	return nil
}

// IsTimeout reports whether err came from a persist request running out of
// time.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
