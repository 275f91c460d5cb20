package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/postlink/internal/config"
	"github.com/mschirtzinger/postlink/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage postlink configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Long: `Write postlink.toml with every setting at its default.

With --interactive, prompts for the server port, storage driver and
database location first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", ui.Header("Configuration"))
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintln(out, ui.KeyValue("file", used))
		}
		fmt.Fprintln(out, ui.KeyValue("listen", cfg.Server.Addr()))
		fmt.Fprintln(out, ui.KeyValue("storage", storageLabel(cfg)))
		fmt.Fprintln(out, ui.KeyValue("topic", cfg.Broadcast.Topic))
		fmt.Fprintln(out, ui.KeyValue("concurrency", cfg.Cascade.Concurrency))
		if cfg.Options.File != "" {
			fmt.Fprintln(out, ui.KeyValue("options", cfg.Options.File))
		}
		if cfg.Log.File != "" {
			fmt.Fprintln(out, ui.KeyValue("log", cfg.Log.File))
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolP("interactive", "i", false, "Prompt for the main settings")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func storageLabel(cfg *config.Config) string {
	if cfg.Storage.Driver == "libsql" {
		return "libsql " + cfg.Storage.URL
	}
	return "sqlite " + cfg.Storage.Path
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName + ".toml"
	if len(args) == 1 {
		path = args[0]
	}
	interactive, _ := cmd.Flags().GetBool("interactive")

	cfg := config.Default()
	if interactive {
		if err := promptConfig(cfg); err != nil {
			return err
		}
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
	return nil
}

func promptConfig(cfg *config.Config) error {
	port := strconv.Itoa(cfg.Server.Port)
	driver := cfg.Storage.Driver
	location := cfg.Storage.Path

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server port").
				Value(&port).
				Validate(validatePort),
			huh.NewSelect[string]().
				Title("Storage").
				Options(
					huh.NewOption("Embedded SQLite file", "sqlite"),
					huh.NewOption("Remote Turso (libSQL)", "libsql"),
				).
				Value(&driver),
		),
	).WithShowHelp(false).Run()
	if err != nil {
		return fmt.Errorf("config prompt aborted: %w", err)
	}

	title := "Database path"
	if driver == "libsql" {
		title = "Database URL (libsql://...)"
		location = ""
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Value(&location).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("required")
					}
					return nil
				}),
		),
	).WithShowHelp(false).Run()
	if err != nil {
		return fmt.Errorf("config prompt aborted: %w", err)
	}

	cfg.Server.Port, _ = strconv.Atoi(strings.TrimSpace(port))
	cfg.Storage.Driver = driver
	if driver == "libsql" {
		cfg.Storage.URL = strings.TrimSpace(location)
	} else {
		cfg.Storage.Path = strings.TrimSpace(location)
	}
	return cfg.Validate()
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("enter a port between 1 and 65535")
	}
	return nil
}
