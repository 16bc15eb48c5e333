package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/config"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/ui"
)

var (
	cfgFile    string
	envFile    string
	outputFlag string
	userFlag   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cutburn",
	Short: "Local-first progress tracking with background sync",
	Long: `cutburn keeps your profile and daily progress in a local cache and
syncs every change to the remote store when it is reachable.

Writes never wait for the network. While offline they are queued and
replayed in order as soon as the remote comes back.

Configuration is read from $HOME/.cutburn/config.yaml (or --config),
a .env file, and CUTBURN_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.cutburn/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default ./.env when present)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json, yaml or toml")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "User ID (overrides user_id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log sync activity to stderr")
}

// loadConfig reads configuration and exits on failure.
func loadConfig() (*config.Config, *config.Loader) {
	overrides := map[string]any{}
	if userFlag != "" {
		overrides["user_id"] = userFlag
	}

	loader := config.NewLoader(config.Options{
		ConfigFile: cfgFile,
		EnvFile:    envFile,
		Overrides:  overrides,
	})
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("Warning:"), w)
	}
	return cfg, loader
}

// outputFormat validates --output and exits on failure.
func outputFormat() ui.Format {
	format, err := ui.ParseFormat(outputFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return format
}

// exitf prints an error and exits. Use session.fail once a session is open.
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
