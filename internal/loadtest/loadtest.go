// Package loadtest drives concurrent due-date changes through the cascade
// engine against a real SQLite database and reports write latency.
//
// Each worker owns a disjoint slice of schedule entries, so after a run every
// linked post must still sit exactly its offset away from its entry's due
// date. VerifyConsistency checks that.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/cascade"
	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/db"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/service"
)

// Options configures a Fixture.
type Options struct {
	Schedules        int
	PostsPerSchedule int
	// Concurrency bounds cascade persists per schedule change.
	Concurrency int
	// Publisher receives cascade broadcasts; nil disables publishing.
	Publisher broadcast.Publisher
	Logger    *log.Logger
}

// Fixture is a populated database plus the service that writes to it.
type Fixture struct {
	DB          *db.DB
	Service     *service.Service
	ScheduleIDs []string
	PostIDs     []string
}

// LatencyStats captures per-update latency, including the cascade.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalUpdates int
	Errors       int
	// CascadedPosts counts post mutations applied across all updates.
	CascadedPosts int
}

// CreateFixture opens a SQLite database at dbPath and fills it with
// opts.Schedules entries, each anchoring opts.PostsPerSchedule posts at
// offsets 0, -1, -2, ...
func CreateFixture(ctx context.Context, dbPath string, opts Options) (*Fixture, error) {
	if opts.Schedules <= 0 {
		return nil, fmt.Errorf("schedules must be positive, got %d", opts.Schedules)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	database.RawDB().SetMaxOpenConns(32)
	database.RawDB().SetMaxIdleConns(16)

	engine := cascade.NewEngine(database, opts.Publisher, cascade.Config{
		Concurrency: opts.Concurrency,
		Logger:      opts.Logger,
	})
	svc := service.New(service.Config{
		Store:     database,
		Engine:    engine,
		Publisher: opts.Publisher,
		Logger:    opts.Logger,
	})

	f := &Fixture{
		DB:          database,
		Service:     svc,
		ScheduleIDs: make([]string, 0, opts.Schedules),
		PostIDs:     make([]string, 0, opts.Schedules*opts.PostsPerSchedule),
	}

	base := datenorm.FromTime(time.Now()).AddDays(30)
	for i := 0; i < opts.Schedules; i++ {
		entry, err := svc.CreateSchedule(ctx, generateSchedule(i, base))
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert schedule %d: %w", i, err)
		}
		f.ScheduleIDs = append(f.ScheduleIDs, entry.ID)

		for j := 0; j < opts.PostsPerSchedule; j++ {
			post, err := svc.CreatePost(ctx, generatePost(i, j, entry.ID))
			if err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("failed to insert post %d/%d: %w", i, j, err)
			}
			f.PostIDs = append(f.PostIDs, post.ID)
		}
	}
	return f, nil
}

var markets = []string{"US", "UK", "DE", "FR", "JP"}
var platforms = []string{"Instagram", "TikTok", "LinkedIn", "X"}

func generateSchedule(i int, base datenorm.Date) *schema.ScheduleEntry {
	due := base.AddDays(i % 60)
	return &schema.ScheduleEntry{
		DueDate: &due,
		Market:  markets[i%len(markets)],
		Client:  fmt.Sprintf("client-%02d", i%12),
		Project: fmt.Sprintf("project-%d", i/10),
		Task:    fmt.Sprintf("Deliverable %d", i),
		Team:    "loadtest",
	}
}

func generatePost(i, j int, scheduleID string) *schema.Post {
	id := scheduleID
	return &schema.Post{
		Status:           schema.StatusPending,
		LinkedScheduleID: &id,
		LinkedDateOffset: -j,
		Market:           markets[i%len(markets)],
		Platform:         platforms[j%len(platforms)],
		Title:            fmt.Sprintf("Post %d.%d", i, j),
	}
}

// Close closes the database.
func (f *Fixture) Close() error {
	if f.DB != nil {
		return f.DB.Close()
	}
	return nil
}

// RunConcurrentShifts starts workers goroutines, each shifting the due date
// of its own entries updatesPerWorker times by a random -3..+3 days.
func (f *Fixture) RunConcurrentShifts(ctx context.Context, workers, updatesPerWorker int) (*LatencyStats, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	}
	if workers > len(f.ScheduleIDs) {
		workers = len(f.ScheduleIDs)
	}

	type result struct {
		durations []time.Duration
		cascaded  int
		errs      int
	}
	results := make(chan result, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		owned := partition(f.ScheduleIDs, w, workers)
		wg.Add(1)
		go func(worker int, owned []string) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			r := result{durations: make([]time.Duration, 0, updatesPerWorker)}

			for j := 0; j < updatesPerWorker; j++ {
				if ctx.Err() != nil {
					break
				}
				id := owned[rng.Intn(len(owned))]
				start := time.Now()
				n, err := f.shift(ctx, id, rng.Intn(7)-3)
				r.durations = append(r.durations, time.Since(start))
				if err != nil {
					r.errs++
					continue
				}
				r.cascaded += n
			}
			results <- r
		}(w, owned)
	}

	wg.Wait()
	close(results)

	var all []time.Duration
	var errs, cascaded int
	for r := range results {
		all = append(all, r.durations...)
		errs += r.errs
		cascaded += r.cascaded
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no updates completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errs
	stats.CascadedPosts = cascaded
	return stats, nil
}

func (f *Fixture) shift(ctx context.Context, id string, days int) (int, error) {
	entry, err := f.Service.GetSchedule(ctx, id)
	if err != nil {
		return 0, err
	}
	if entry.DueDate == nil {
		return 0, fmt.Errorf("schedule %s has no due date", id)
	}
	if days == 0 {
		days = 1
	}
	res, err := f.Service.UpdateSchedule(ctx, id, schema.SchedulePatch{
		DueDate: schema.Some(entry.DueDate.AddDays(days)),
	})
	if err != nil {
		return 0, err
	}
	if len(res.Cascade.Failed) > 0 {
		return len(res.Cascade.Applied), fmt.Errorf("schedule %s: %d cascaded posts failed", id, len(res.Cascade.Failed))
	}
	return len(res.Cascade.Applied), nil
}

func partition(ids []string, worker, workers int) []string {
	var owned []string
	for i := worker; i < len(ids); i += workers {
		owned = append(owned, ids[i])
	}
	return owned
}

// VerifyConsistency checks that every linked post's date equals its entry's
// due date plus the post's offset.
func (f *Fixture) VerifyConsistency(ctx context.Context) error {
	schedules, err := f.DB.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedule: %w", err)
	}
	due := make(map[string]*datenorm.Date, len(schedules))
	for _, s := range schedules {
		due[s.ID] = s.DueDate
	}

	posts, err := f.DB.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}
	for _, p := range posts {
		if p.LinkedScheduleID == nil {
			continue
		}
		anchor, ok := due[*p.LinkedScheduleID]
		if !ok || anchor == nil {
			continue
		}
		want := anchor.AddDays(p.LinkedDateOffset)
		if p.PostDate == nil || !p.PostDate.Equal(want) {
			return fmt.Errorf("post %s: postDate %v, want %s (schedule %s offset %d)",
				p.ID, p.PostDate, want, *p.LinkedScheduleID, p.LinkedDateOffset)
		}
	}
	return nil
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalUpdates: len(durations),
	}
}

// Fprint writes the statistics as an aligned table.
func (s *LatencyStats) Fprint(w io.Writer) {
	fmt.Fprintf(w, "  Updates:       %d\n", s.TotalUpdates)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Cascaded:      %d posts\n", s.CascadedPosts)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
