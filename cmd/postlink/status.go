package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/server"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "server",
	Short:   "Show the status of a running server",
	Long: `Query a running postlink server's /health endpoint.

Shows:
  - Whether the server is reachable
  - The broadcast topic and number of connected clients
  - Whether the server speaks a compatible protocol version`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("server", "", "Server base URL (default: from server.host/server.port)")
	statusCmd.Flags().Bool("json", false, "Output the raw health document")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("server")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = "http://" + cfg.Server.Addr()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	health, err := fetchHealth(ctx, base)
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "\n%s Server not reachable at %s\n", ui.RenderWarn("⚠"), base)
		fmt.Fprintf(out, "   Run 'postlink serve' to start it\n\n")
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	}

	fmt.Fprintf(out, "\n%s\n", ui.Header("Postlink server"))
	fmt.Fprintln(out, ui.KeyValue("url", base))
	fmt.Fprintln(out, ui.KeyValue("status", ui.RenderPass(health.Status)))
	fmt.Fprintln(out, ui.KeyValue("topic", health.Topic))
	fmt.Fprintln(out, ui.KeyValue("clients", health.Clients))

	protocol := health.Protocol
	if err := broadcast.CheckProtocol(health.Protocol); err != nil {
		protocol = ui.RenderFail(protocol + " (incompatible with " + broadcast.ProtocolVersion + ")")
	}
	fmt.Fprintln(out, ui.KeyValue("protocol", protocol))
	fmt.Fprintln(out)
	return nil
}

func fetchHealth(ctx context.Context, base string) (*server.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}
	var health server.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &health, nil
}
