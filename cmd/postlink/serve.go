package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/cascade"
	"github.com/mschirtzinger/postlink/internal/db"
	"github.com/mschirtzinger/postlink/internal/options"
	"github.com/mschirtzinger/postlink/internal/server"
	"github.com/mschirtzinger/postlink/internal/service"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the API and broadcast server",
	Long: `Start the postlink server.

The server exposes:
  /api/schedule, /api/posts   JSON CRUD (send X-Client-ID to suppress echo)
  /api/options                dropdown suggestions
  /ws?topic=...&client=...    broadcast channel
  /health                     liveness and connected client count

Storage is an embedded SQLite file by default; set storage.driver = "libsql"
and storage.url to use a remote Turso database.

Example usage:
  postlink serve                      # 127.0.0.1:8080, .postlink/postlink.db
  postlink serve --port 9000 --db /var/lib/postlink.db`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind")
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	serveCmd.Flags().String("db", "", "SQLite database path")
	serveCmd.Flags().String("options", "", "YAML file of seed dropdown options (reloaded on change)")
	bindFlag(serveCmd, "server.host", "host")
	bindFlag(serveCmd, "server.port", "port")
	bindFlag(serveCmd, "storage.path", "db")
	bindFlag(serveCmd, "options.file", "options")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loggers := newLoggers(cfg)
	defer loggers.Close()

	database, err := db.OpenDriver(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.URL, cfg.Storage.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer database.Close()

	hub := broadcast.NewHub(broadcast.HubConfig{
		SubscriberBuffer: cfg.Broadcast.Buffer,
		DedupeWindow:     cfg.Broadcast.DedupeWindow,
		Logger:           loggers.Logger("hub"),
	})

	registry := options.NewRegistry(loggers.Logger("options"))
	if cfg.Options.File != "" {
		watcher, err := registry.Watch(cfg.Options.File)
		if err != nil {
			return err
		}
		defer watcher.Stop()
		go logReloads(watcher, loggers.Logger("options").Printf)
	}

	engine := cascade.NewEngine(database, hub, cascade.Config{
		Concurrency: cfg.Cascade.Concurrency,
		Topic:       cfg.Broadcast.Topic,
		Logger:      loggers.Logger("cascade"),
	})
	svc := service.New(service.Config{
		Store:     database,
		Engine:    engine,
		Publisher: hub,
		Options:   registry,
		Topic:     cfg.Broadcast.Topic,
		Logger:    loggers.Logger("service"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Warm(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Topic:   cfg.Broadcast.Topic,
		Service: svc,
		Hub:     hub,
		Logger:  loggers.Logger("server"),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	addr := srv.GetAddr()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Postlink server started on http://%s\n", ui.RenderPass("✓"), addr)
	fmt.Fprintln(out, ui.KeyValue("storage", database.Path()))
	fmt.Fprintln(out, ui.KeyValue("websocket", fmt.Sprintf("ws://%s/ws?topic=%s", addr, cfg.Broadcast.Topic)))
	fmt.Fprintln(out, ui.KeyValue("health", fmt.Sprintf("http://%s/health", addr)))
	fmt.Fprintln(out, ui.RenderDim("\nPress Ctrl+C to stop..."))

	<-ctx.Done()

	fmt.Fprintln(out, "\nShutting down...")
	if err := srv.Stop(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}

func logReloads(w *options.Watcher, logf func(string, ...any)) {
	for ev := range w.Events() {
		if ev.Err != nil {
			logf("WARNING: reload of %s failed: %v", ev.Path, ev.Err)
			continue
		}
		logf("Reloaded options from %s", ev.Path)
	}
}
