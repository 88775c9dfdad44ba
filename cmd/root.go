package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/learntrace/internal/config"
	"github.com/fakeyudi/learntrace/internal/logging"
	"github.com/fakeyudi/learntrace/internal/profile"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded learner profile, if any.
var activeProfile *profile.Profile

var logger = zap.NewNop()

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "learntrace",
	Short: "Capture, collect and review behavioral events from learning sessions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// First run on a terminal: walk through setup before anything else.
		if cmd.Name() != "setup" && !profile.Exists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to learntrace! Looks like this is your first time.")
			if err := runSetup(cmd, true); err != nil {
				return err
			}
		}

		activeProfile = nil
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)
		if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		// Profile values fill in config gaps.
		if activeProfile != nil {
			if cfg.DefaultFormat == "markdown" && activeProfile.DefaultFormat != "" {
				cfg.DefaultFormat = activeProfile.DefaultFormat
			}
			if cfg.OutputDir == "." && activeProfile.OutputDir != "" {
				cfg.OutputDir = activeProfile.OutputDir
			}
		}

		l, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active learner profile.
func GetProfile() *profile.Profile {
	return activeProfile
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}
