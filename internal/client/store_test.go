package client

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/filter"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/service"
	"github.com/mschirtzinger/postlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePersister runs writes through a real service on a memory store, acting
// as client "me", with per-operation failure and blocking hooks.
type fakePersister struct {
	svc *service.Service

	mu    sync.Mutex
	fail  map[string]error
	gates map[string]chan struct{}
}

func newFakePersister(pub broadcast.Publisher) *fakePersister {
	quiet := log.New(io.Discard, "", 0)
	return &fakePersister{
		svc:   service.New(service.Config{Store: store.NewMemory(), Publisher: pub, Logger: quiet}),
		fail:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakePersister) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakePersister) gate(op string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[op] = ch
	return ch
}

func (f *fakePersister) enter(ctx context.Context, op string) (context.Context, error) {
	f.mu.Lock()
	gate := f.gates[op]
	err := f.fail[op]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return service.WithOrigin(ctx, "me"), nil
}

func (f *fakePersister) CreateSchedule(ctx context.Context, e *schema.ScheduleEntry) (*schema.ScheduleEntry, error) {
	ctx, err := f.enter(ctx, "CreateSchedule")
	if err != nil {
		return nil, err
	}
	return f.svc.CreateSchedule(ctx, e)
}

func (f *fakePersister) UpdateSchedule(ctx context.Context, id string, p schema.SchedulePatch) (*schema.ScheduleEntry, error) {
	ctx, err := f.enter(ctx, "UpdateSchedule")
	if err != nil {
		return nil, err
	}
	res, err := f.svc.UpdateSchedule(ctx, id, p)
	if err != nil {
		return nil, err
	}
	return res.Entry, nil
}

func (f *fakePersister) DeleteSchedule(ctx context.Context, id string) error {
	ctx, err := f.enter(ctx, "DeleteSchedule")
	if err != nil {
		return err
	}
	_, err = f.svc.DeleteSchedule(ctx, id)
	return err
}

func (f *fakePersister) ListSchedules(ctx context.Context) ([]*schema.ScheduleEntry, error) {
	return f.svc.ListSchedules(ctx, filter.Query{})
}

func (f *fakePersister) CreatePost(ctx context.Context, p *schema.Post) (*schema.Post, error) {
	ctx, err := f.enter(ctx, "CreatePost")
	if err != nil {
		return nil, err
	}
	return f.svc.CreatePost(ctx, p)
}

func (f *fakePersister) UpdatePost(ctx context.Context, id string, p schema.PostPatch) (*schema.Post, error) {
	ctx, err := f.enter(ctx, "UpdatePost")
	if err != nil {
		return nil, err
	}
	return f.svc.UpdatePost(ctx, id, p)
}

func (f *fakePersister) DeletePost(ctx context.Context, id string) error {
	ctx, err := f.enter(ctx, "DeletePost")
	if err != nil {
		return err
	}
	return f.svc.DeletePost(ctx, id)
}

func (f *fakePersister) ListPosts(ctx context.Context) ([]*schema.Post, error) {
	return f.svc.ListPosts(ctx, filter.Query{})
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg broadcast.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recordingPublisher) last() broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

type fixture struct {
	ctx   context.Context
	fake  *fakePersister
	pub   *recordingPublisher
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := &recordingPublisher{}
	fake := newFakePersister(pub)
	return &fixture{
		ctx:  context.Background(),
		fake: fake,
		pub:  pub,
		store: NewStore(Config{
			ClientID:       "me",
			Persister:      fake,
			PersistTimeout: 2 * time.Second,
			Logger:         log.New(io.Discard, "", 0),
		}),
	}
}

func day(s string) datenorm.Date {
	d, err := datenorm.Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func remoteSchedule(t *testing.T, e *schema.ScheduleEntry) broadcast.Message {
	t.Helper()
	msg, err := broadcast.NewMessage("other", schema.EntitySchedule, broadcast.OpUpdate, e)
	require.NoError(t, err)
	return msg
}

func (f *fixture) waitState(t *testing.T, entity schema.Entity, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.store.State(entity, id) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStore_LoadAndCommit(t *testing.T) {
	f := newFixture(t)
	seeded, err := f.fake.svc.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	require.NoError(t, f.store.Load(f.ctx))
	require.Len(t, f.store.Schedules(), 1)

	saved, err := f.store.CommitSchedule(f.ctx, seeded.ID, schema.SchedulePatch{Market: schema.Some("UK")})
	require.NoError(t, err)
	assert.Equal(t, "UK", saved.Market)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, Clean, f.store.State(schema.EntitySchedule, seeded.ID))

	got, ok := f.store.Schedule(seeded.ID)
	require.True(t, ok)
	assert.Equal(t, "UK", got.Market)

	require.Equal(t, 2, f.pub.count(), "seed and commit are both published by the server")
	msg := f.pub.last()
	assert.Equal(t, "me", msg.Origin)
	assert.Equal(t, broadcast.OpUpdate, msg.Op)
}

func TestStore_RollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	entry, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)
	published := f.pub.count()

	f.fake.failOn("UpdateSchedule", errors.New("database is locked"))
	_, err = f.store.CommitSchedule(f.ctx, entry.ID, schema.SchedulePatch{Market: schema.Some("UK")})
	require.Error(t, err)

	got, _ := f.store.Schedule(entry.ID)
	assert.Equal(t, "US", got.Market)
	assert.Equal(t, Clean, f.store.State(schema.EntitySchedule, entry.ID))
	assert.Equal(t, published, f.pub.count(), "failed writes are not published")

	f.fake.failOn("DeleteSchedule", errors.New("database is locked"))
	require.Error(t, f.store.DeleteSchedule(f.ctx, entry.ID))
	_, ok := f.store.Schedule(entry.ID)
	assert.True(t, ok, "failed delete restores the record")
}

func TestStore_OptimisticValueVisibleWhileInFlight(t *testing.T) {
	f := newFixture(t)
	entry, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	release := f.fake.gate("UpdateSchedule")
	done := make(chan error, 1)
	go func() {
		_, err := f.store.CommitSchedule(f.ctx, entry.ID, schema.SchedulePatch{Market: schema.Some("UK")})
		done <- err
	}()
	f.waitState(t, schema.EntitySchedule, entry.ID, InFlight)

	got, _ := f.store.Schedule(entry.ID)
	assert.Equal(t, "UK", got.Market)

	_, err = f.store.CommitSchedule(f.ctx, entry.ID, schema.SchedulePatch{Team: schema.Some("A")})
	assert.ErrorIs(t, err, ErrRecordBusy)
	assert.ErrorIs(t, f.store.BeginEdit(schema.EntitySchedule, entry.ID), ErrRecordBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestStore_QueuesBroadcastsWhileInFlight(t *testing.T) {
	f := newFixture(t)
	entry, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	release := f.fake.gate("UpdateSchedule")
	done := make(chan error, 1)
	go func() {
		_, err := f.store.CommitSchedule(f.ctx, entry.ID, schema.SchedulePatch{Market: schema.Some("UK")})
		done <- err
	}()
	f.waitState(t, schema.EntitySchedule, entry.ID, InFlight)

	// A remote edit that is older than the commit, and one that is newer.
	stale := entry.Clone()
	stale.Market, stale.Version = "FR", 2
	newer := entry.Clone()
	newer.Market, newer.Version = "DE", 9
	require.NoError(t, f.store.Receive(remoteSchedule(t, stale)))
	require.NoError(t, f.store.Receive(remoteSchedule(t, newer)))

	got, _ := f.store.Schedule(entry.ID)
	assert.Equal(t, "UK", got.Market, "held until the commit resolves")

	close(release)
	require.NoError(t, <-done)

	got, _ = f.store.Schedule(entry.ID)
	assert.Equal(t, "DE", got.Market)
	assert.Equal(t, int64(9), got.Version)
}

func TestStore_EditingHoldsBroadcasts(t *testing.T) {
	f := newFixture(t)
	entry, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	require.NoError(t, f.store.BeginEdit(schema.EntitySchedule, entry.ID))
	assert.Equal(t, Editing, f.store.State(schema.EntitySchedule, entry.ID))

	remote := entry.Clone()
	remote.Market, remote.Version = "UK", 5
	require.NoError(t, f.store.Receive(remoteSchedule(t, remote)))
	got, _ := f.store.Schedule(entry.ID)
	assert.Equal(t, "US", got.Market)

	require.NoError(t, f.store.CancelEdit(schema.EntitySchedule, entry.ID))
	got, _ = f.store.Schedule(entry.ID)
	assert.Equal(t, "UK", got.Market)
	assert.ErrorIs(t, f.store.CancelEdit(schema.EntitySchedule, entry.ID), ErrNotEditing)
	assert.ErrorIs(t, f.store.BeginEdit(schema.EntitySchedule, "nope"), ErrUnknownRecord)
}

func TestStore_ReceiveMergesByID(t *testing.T) {
	f := newFixture(t)

	// Post update before the schedule update that caused it.
	link := "1"
	post := &schema.Post{ID: "10", LinkedScheduleID: &link, PostDate: datenorm.Ptr(day("2025-06-12")), Status: schema.StatusPending, Version: 2}
	msg, err := broadcast.NewMessage(broadcast.OriginCascade, schema.EntityPost, broadcast.OpUpdate, post)
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(msg))
	require.NoError(t, f.store.Receive(remoteSchedule(t, &schema.ScheduleEntry{ID: "1", DueDate: datenorm.Ptr(day("2025-06-15")), Version: 2})))

	// Redelivery and older versions are ignored.
	require.NoError(t, f.store.Receive(msg))
	older := post.Clone()
	older.Version = 1
	older.PostDate = datenorm.Ptr(day("2025-05-29"))
	msg, err = broadcast.NewMessage("other", schema.EntityPost, broadcast.OpUpdate, older)
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(msg))

	got, ok := f.store.Post("10")
	require.True(t, ok)
	assert.Equal(t, "2025-06-12", got.PostDate.String())

	del, err := broadcast.NewMessage("other", schema.EntitySchedule, broadcast.OpDelete, broadcast.DeletePayload{ID: "1"})
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(del))
	_, ok = f.store.Schedule("1")
	assert.False(t, ok)

	// Own messages are ignored.
	mine, err := broadcast.NewMessage("me", schema.EntitySchedule, broadcast.OpUpdate, &schema.ScheduleEntry{ID: "7", Version: 1})
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(mine))
	_, ok = f.store.Schedule("7")
	assert.False(t, ok)

	assert.Error(t, f.store.Receive(broadcast.Message{Entity: "nope"}))
}

func TestStore_DeletedRecordStaysDeleted(t *testing.T) {
	f := newFixture(t)

	link := "1"
	post := &schema.Post{ID: "10", LinkedScheduleID: &link, PostDate: datenorm.Ptr(day("2025-06-12")), Version: 2}
	create, err := broadcast.NewMessage("other", schema.EntityPost, broadcast.OpCreate, post)
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(create))
	_, ok := f.store.Post("10")
	require.True(t, ok)

	del, err := broadcast.NewMessage("other", schema.EntityPost, broadcast.OpDelete, broadcast.DeletePayload{ID: "10"})
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(del))

	// A cascade update that raced the delete arrives last.
	late := post.Clone()
	late.Version = 3
	late.PostDate = datenorm.Ptr(day("2025-06-20"))
	update, err := broadcast.NewMessage(broadcast.OriginCascade, schema.EntityPost, broadcast.OpUpdate, late)
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(update))

	_, ok = f.store.Post("10")
	assert.False(t, ok, "late update must not resurrect a deleted post")
	assert.Empty(t, f.store.Posts())
}

func TestStore_ReceiveUnreadableDate(t *testing.T) {
	f := newFixture(t)

	msg, err := broadcast.NewMessage("other", schema.EntityPost, broadcast.OpCreate, map[string]any{
		"id":       "11",
		"postDate": "TBD",
		"title":    "Teaser",
		"version":  1,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Receive(msg))

	got, ok := f.store.Post("11")
	require.True(t, ok)
	assert.Nil(t, got.PostDate)
	assert.Equal(t, "Teaser", got.Title)
}

func TestStore_ProvisionalLinkRewrite(t *testing.T) {
	f := newFixture(t)
	release := f.fake.gate("CreateSchedule")

	type result struct {
		entry *schema.ScheduleEntry
		err   error
	}
	created := make(chan result, 1)
	go func() {
		e, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{DueDate: datenorm.Ptr(day("2025-06-01"))})
		created <- result{e, err}
	}()

	var provisional string
	require.Eventually(t, func() bool {
		for _, e := range f.store.Schedules() {
			if schema.IsProvisional(e.ID) {
				provisional = e.ID
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, InFlight, f.store.State(schema.EntitySchedule, provisional))

	posted := make(chan *schema.Post, 1)
	go func() {
		p, err := f.store.CreatePost(f.ctx, &schema.Post{LinkedScheduleID: &provisional, LinkedDateOffset: -3})
		assert.NoError(t, err)
		posted <- p
	}()

	require.Eventually(t, func() bool {
		posts := f.store.Posts()
		return len(posts) == 1 && posts[0].LinkedTo(provisional)
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	res := <-created
	require.NoError(t, res.err)
	p := <-posted
	require.NotNil(t, p)

	assert.Equal(t, res.entry.ID, f.store.Resolve(provisional))
	assert.True(t, p.LinkedTo(res.entry.ID))
	assert.Equal(t, "2025-05-29", p.PostDate.String())

	for _, local := range f.store.Posts() {
		assert.False(t, schema.IsProvisional(local.ID))
		assert.True(t, local.LinkedTo(res.entry.ID))
	}
	_, ok := f.store.Schedule(provisional)
	assert.True(t, ok, "old provisional ids still resolve")
}

func TestStore_LinkDiscardedWhenScheduleCreateFails(t *testing.T) {
	f := newFixture(t)
	release := f.fake.gate("CreateSchedule")
	f.fake.failOn("CreateSchedule", errors.New("quota exceeded"))

	created := make(chan error, 1)
	go func() {
		_, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{})
		created <- err
	}()

	var provisional string
	require.Eventually(t, func() bool {
		for _, e := range f.store.Schedules() {
			provisional = e.ID
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	posted := make(chan error, 1)
	go func() {
		_, err := f.store.CreatePost(f.ctx, &schema.Post{LinkedScheduleID: &provisional})
		posted <- err
	}()
	require.Eventually(t, func() bool { return len(f.store.Posts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	assert.Error(t, <-created)
	assert.ErrorIs(t, <-posted, ErrLinkDiscarded)
	assert.Empty(t, f.store.Schedules())
	assert.Empty(t, f.store.Posts())

	_, err := f.store.CreatePost(f.ctx, &schema.Post{LinkedScheduleID: &provisional})
	assert.ErrorIs(t, err, ErrLinkDiscarded)
}

func TestStore_PersistTimeout(t *testing.T) {
	f := newFixture(t)
	f.store.timeout = 50 * time.Millisecond
	entry, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	f.fake.gate("UpdateSchedule")
	_, err = f.store.CommitSchedule(f.ctx, entry.ID, schema.SchedulePatch{Market: schema.Some("UK")})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	got, _ := f.store.Schedule(entry.ID)
	assert.Equal(t, "US", got.Market)
}

func TestStore_PostLifecycle(t *testing.T) {
	f := newFixture(t)
	p, err := f.store.CreatePost(f.ctx, &schema.Post{Title: "Teaser"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusPending, p.Status)

	p, err = f.store.CommitPost(f.ctx, p.ID, schema.PostPatch{Status: schema.Some(schema.StatusComplete)})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusComplete, p.Status)

	f.fake.failOn("UpdatePost", errors.New("boom"))
	_, err = f.store.CommitPost(f.ctx, p.ID, schema.PostPatch{Title: schema.Some("Changed")})
	require.Error(t, err)
	got, _ := f.store.Post(p.ID)
	assert.Equal(t, "Teaser", got.Title)

	require.NoError(t, f.store.DeletePost(f.ctx, p.ID))
	_, ok := f.store.Post(p.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, f.store.DeletePost(f.ctx, p.ID), ErrUnknownRecord)
}

func TestStore_LoadKeepsLocalEdits(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)
	b, err := f.store.CreateSchedule(f.ctx, &schema.ScheduleEntry{Market: "UK"})
	require.NoError(t, err)

	require.NoError(t, f.store.BeginEdit(schema.EntitySchedule, a.ID))
	_, err = f.fake.svc.UpdateSchedule(f.ctx, a.ID, schema.SchedulePatch{Market: schema.Some("FR")})
	require.NoError(t, err)
	_, err = f.fake.svc.DeleteSchedule(f.ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.Load(f.ctx))
	got, _ := f.store.Schedule(a.ID)
	assert.Equal(t, "US", got.Market, "open edits survive a reload")
	_, ok := f.store.Schedule(b.ID)
	assert.False(t, ok, "records deleted while away are dropped")

	require.NoError(t, f.store.CancelEdit(schema.EntitySchedule, a.ID))
	got, _ = f.store.Schedule(a.ID)
	assert.Equal(t, "FR", got.Market, "cancel falls back to the newest snapshot")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "clean", Clean.String())
	assert.Equal(t, "editing", Editing.String())
	assert.Equal(t, "in-flight", InFlight.String())
	assert.Equal(t, "reconciling", Reconciling.String())
}
