// Package cli implements the customchat commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelfsepulveda/customchatfree/internal/config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "customchat",
	Short: "Persona-driven chat front-end backed by a local SQLite history",
	Long: `customchat keeps multi-turn conversations, user-defined personas and
message history in a single SQLite file and forwards each turn to a remote
completion API.

Running it without a subcommand starts the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"directory holding config.yaml (default $"+config.ConfigDirEnv+" or the working directory)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
