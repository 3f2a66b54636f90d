// Package cli implements the drivesim command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "drivesim",
	Short: "Goal-driven agents planning against their drives",
	Long: `drivesim runs a hex sandbox where agents pick the most urgent drive,
build a plan tree of catalog actions that relieves it, and execute it.

Running 'drivesim' without a subcommand is equivalent to 'drivesim run'.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

// cfg is the configuration loaded by setup for the running command.
var cfg config.Config

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(stewardCmd)

	addRunFlags(rootCmd)
	addRunFlags(runCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to drivesim.yaml (default: built-in settings)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

// setup loads the configuration and installs the default logger.
func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		loaded.LogLevel = lvl
	}
	level, err := loaded.Level()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	cfg = loaded
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
