package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/client"
	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "client",
	Short:   "Follow live changes on a server",
	Long: `Join a server's broadcast topic and print every change as it arrives.

The watcher keeps a full local copy of the schedule and posts, reloading it
after each reconnect, exactly like an interactive client does.

Example usage:
  postlink watch
  postlink watch --server http://10.0.0.5:8080 --topic launch-room`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("server", "", "Server base URL (default: from server.host/server.port)")
	watchCmd.Flags().String("topic", "", "Broadcast topic")
	bindFlag(watchCmd, "broadcast.topic", "topic")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loggers := newLoggers(cfg)
	defer loggers.Close()

	base, _ := cmd.Flags().GetString("server")
	if base == "" {
		base = "http://" + cfg.Server.Addr()
	}

	out := cmd.OutOrStdout()
	session, err := client.NewSession(client.SessionConfig{
		ServerURL:      base,
		Topic:          cfg.Broadcast.Topic,
		Backoff:        cfg.Client.ReconnectBackoff,
		PersistTimeout: cfg.Client.PersistTimeout,
		OnMessage:      func(msg broadcast.Message) { printMessage(out, msg) },
		Logger:         loggers.Logger("client"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(out, "%s Watching %s on %s (Ctrl+C to stop)\n", ui.RenderAccent("◉"), cfg.Broadcast.Topic, base)
	return session.Run(ctx)
}

func printMessage(w io.Writer, msg broadcast.Message) {
	id, _ := msg.RecordID()
	ts := ui.RenderDim(msg.Timestamp.Local().Format("15:04:05"))
	origin := ui.RenderDim("by " + msg.Origin)

	var detail string
	switch {
	case msg.Op == broadcast.OpDelete:
	case msg.Entity == schema.EntitySchedule:
		if e, err := msg.Schedule(); err == nil {
			detail = fmt.Sprintf("due %s %s", dateLabel(e.DueDate), e.Task)
		}
	case msg.Entity == schema.EntityPost:
		if p, err := msg.Post(); err == nil {
			detail = fmt.Sprintf("on %s [%s] %s", dateLabel(p.PostDate), p.Status, p.Title)
			if p.LinkedRowOrphaned {
				detail += " " + ui.RenderWarn("(orphaned)")
			}
		}
	}

	fmt.Fprintf(w, "%s %s %s %s %s %s\n", ts, opLabel(msg.Op), msg.Entity, ui.RenderBold(id), detail, origin)
}

func opLabel(op broadcast.Op) string {
	switch op {
	case broadcast.OpCreate:
		return ui.RenderPass("+")
	case broadcast.OpDelete:
		return ui.RenderFail("-")
	default:
		return ui.RenderAccent("~")
	}
}

func dateLabel(d *datenorm.Date) string {
	if d == nil {
		return "(none)"
	}
	return d.String()
}
