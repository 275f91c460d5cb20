// Command postlink runs the schedule/post sync server and its companion
// tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/config"
	"github.com/mschirtzinger/postlink/internal/logging"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var (
	configFile string
	v          = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "postlink",
	Short: "Live-synced schedule and post calendar",
	Long: `Postlink keeps a production schedule and the social posts derived from it
in sync across every connected client.

Posts linked to a schedule entry follow its due date: move the entry and
every linked post moves with it, and every client sees the change live.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "client", Title: "Client:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: ./postlink.toml or ~/.config/postlink/postlink.toml)")
}

// loadConfig resolves the configuration after flags are parsed. Flags bound
// with bindFlag win over the file and environment.
func loadConfig() (*config.Config, error) {
	return config.Load(v, configFile)
}

// bindFlag ties a command flag to a config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s to %s: %v", flag, key, err))
	}
}

func newLoggers(cfg *config.Config) *logging.Factory {
	return logging.NewFactory(cfg.Log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
