package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/loadtest"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "server",
	Short:   "Benchmark cascading due-date changes",
	Long: `Populate a scratch SQLite database and measure how long a schedule
due-date change takes, including the cascade to every linked post and the
broadcast of each derived change.

Workers own disjoint schedule entries, so the run ends with a consistency
check: every linked post must sit exactly its offset from its entry.

Example usage:
  postlink bench                                  # 200 entries x 3 posts, 16 workers
  postlink bench --schedules 1000 --workers 64 --json`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("schedules", 200, "Number of schedule entries")
	benchCmd.Flags().Int("posts", 3, "Linked posts per schedule entry")
	benchCmd.Flags().Int("workers", 16, "Concurrent writers")
	benchCmd.Flags().Int("updates", 20, "Due-date changes per worker")
	benchCmd.Flags().Int("concurrency", 0, "Cascade persist concurrency (default: cascade.concurrency)")
	benchCmd.Flags().String("db", "", "Database path (default: a temporary file)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	schedules, _ := cmd.Flags().GetInt("schedules")
	posts, _ := cmd.Flags().GetInt("posts")
	workers, _ := cmd.Flags().GetInt("workers")
	updates, _ := cmd.Flags().GetInt("updates")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	dbPath, _ := cmd.Flags().GetString("db")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if schedules <= 0 || workers <= 0 || updates <= 0 {
		return fmt.Errorf("--schedules, --workers and --updates must be positive")
	}
	if posts < 0 {
		return fmt.Errorf("--posts must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = cfg.Cascade.Concurrency
	}

	if dbPath == "" {
		dir, err := os.MkdirTemp("", "postlink-bench-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "bench.db")
	}

	hub := broadcast.NewHub(broadcast.HubConfig{
		SubscriberBuffer: cfg.Broadcast.Buffer,
		DedupeWindow:     cfg.Broadcast.DedupeWindow,
	})
	defer hub.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if !jsonOutput {
		fmt.Fprintf(out, "Populating %d schedule entries with %d posts each...\n", schedules, posts)
	}
	start := time.Now()
	fixture, err := loadtest.CreateFixture(ctx, dbPath, loadtest.Options{
		Schedules:        schedules,
		PostsPerSchedule: posts,
		Concurrency:      concurrency,
		Publisher:        hub,
	})
	if err != nil {
		return err
	}
	defer fixture.Close()

	if !jsonOutput {
		fmt.Fprintf(out, "Populated in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "Running %d workers x %d updates (cascade concurrency %d)...\n\n", workers, updates, concurrency)
	}
	stats, err := fixture.RunConcurrentShifts(ctx, workers, updates)
	if err != nil {
		return err
	}
	consistency := fixture.VerifyConsistency(ctx)

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(benchResult{
			Schedules:     schedules,
			Posts:         len(fixture.PostIDs),
			Workers:       workers,
			Updates:       stats.TotalUpdates,
			Errors:        stats.Errors,
			CascadedPosts: stats.CascadedPosts,
			MinMS:         ms(stats.Min),
			MeanMS:        ms(stats.Mean),
			P50MS:         ms(stats.P50),
			P95MS:         ms(stats.P95),
			P99MS:         ms(stats.P99),
			MaxMS:         ms(stats.Max),
			Consistent:    consistency == nil,
		})
	}

	fmt.Fprintln(out, ui.Header("Cascade latency"))
	stats.Fprint(out)
	fmt.Fprintln(out)
	if consistency != nil {
		fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗ Inconsistent:"), consistency)
		return consistency
	}
	fmt.Fprintf(out, "%s All linked posts consistent\n", ui.RenderPass("✓"))
	return nil
}

type benchResult struct {
	Schedules     int     `json:"schedules"`
	Posts         int     `json:"posts"`
	Workers       int     `json:"workers"`
	Updates       int     `json:"updates"`
	Errors        int     `json:"errors"`
	CascadedPosts int     `json:"cascaded_posts"`
	MinMS         float64 `json:"min_ms"`
	MeanMS        float64 `json:"mean_ms"`
	P50MS         float64 `json:"p50_ms"`
	P95MS         float64 `json:"p95_ms"`
	P99MS         float64 `json:"p99_ms"`
	MaxMS         float64 `json:"max_ms"`
	Consistent    bool    `json:"consistent"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
