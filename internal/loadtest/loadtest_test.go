package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/postlink/internal/broadcast"
)

func TestCreateFixture(t *testing.T) {
	ctx := context.Background()
	f, err := CreateFixture(ctx, filepath.Join(t.TempDir(), "load.db"), Options{
		Schedules:        20,
		PostsPerSchedule: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create fixture: %v", err)
	}
	defer f.Close()

	if len(f.ScheduleIDs) != 20 {
		t.Errorf("Expected 20 schedule entries, got %d", len(f.ScheduleIDs))
	}
	if len(f.PostIDs) != 60 {
		t.Errorf("Expected 60 posts, got %d", len(f.PostIDs))
	}
	if err := f.VerifyConsistency(ctx); err != nil {
		t.Errorf("Fresh fixture inconsistent: %v", err)
	}
}

func TestCreateFixture_RejectsEmpty(t *testing.T) {
	_, err := CreateFixture(context.Background(), filepath.Join(t.TempDir(), "load.db"), Options{})
	if err == nil {
		t.Fatal("Expected error for zero schedules")
	}
}

func TestRunConcurrentShifts(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub(broadcast.HubConfig{})
	defer hub.Close()
	sub := hub.Subscribe(broadcast.DefaultTopic, "observer")
	defer sub.Close()

	f, err := CreateFixture(ctx, filepath.Join(t.TempDir(), "load.db"), Options{
		Schedules:        16,
		PostsPerSchedule: 2,
		Concurrency:      4,
		Publisher:        hub,
	})
	if err != nil {
		t.Fatalf("Failed to create fixture: %v", err)
	}
	defer f.Close()

	stats, err := f.RunConcurrentShifts(ctx, 4, 5)
	if err != nil {
		t.Fatalf("Concurrent shifts failed: %v", err)
	}
	if stats.Errors > 0 {
		t.Errorf("Got %d errors during shifts", stats.Errors)
	}
	if stats.TotalUpdates != 20 {
		t.Errorf("Expected 20 updates, got %d", stats.TotalUpdates)
	}
	if stats.CascadedPosts != 40 {
		t.Errorf("Expected 40 cascaded posts (2 per update), got %d", stats.CascadedPosts)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.P99 || stats.P99 > stats.Max {
		t.Errorf("Percentiles out of order: %+v", stats)
	}

	if err := f.VerifyConsistency(ctx); err != nil {
		t.Errorf("Inconsistent after shifts: %v", err)
	}

	select {
	case <-sub.Messages():
	case <-time.After(time.Second):
		t.Error("Expected cascade broadcasts on the hub")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Unexpected min/max: %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("Expected P50 51ms, got %v", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("Expected P95 96ms, got %v", stats.P95)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Expected mean 50.5ms, got %v", stats.Mean)
	}

	var buf bytes.Buffer
	stats.Fprint(&buf)
	if !strings.Contains(buf.String(), "P99") {
		t.Errorf("Expected P99 row, got %q", buf.String())
	}
}

func TestPartition(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}
	seen := map[string]int{}
	for w := 0; w < 2; w++ {
		for _, id := range partition(ids, w, 2) {
			seen[id]++
		}
	}
	if len(seen) != len(ids) {
		t.Fatalf("Expected every id owned, got %v", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("id %s owned %d times", id, n)
		}
	}
}
