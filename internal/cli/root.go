// Package cli provides the command-line interface for the ensemble engine.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/store"
	"ensemble-trader/pkg/utils"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Journal     store.Journal
	Checkpoints store.CheckpointStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// A WAL lock held by a concurrent engine process clears quickly, so the
	// open is retried before reporting commands are declared unavailable.
	journal, err := utils.RetryWithResult(context.Background(), utils.DefaultRetryConfig(),
		func() (*store.SQLiteJournal, error) {
			return store.NewSQLiteJournal(cfg.Checkpoint.JournalPath)
		})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize journal, reporting commands unavailable")
	} else {
		app.Journal = journal
	}

	checkpoints, err := store.NewFileCheckpointStore(
		cfg.Checkpoint.Dir, cfg.Checkpoint.MaxRetries,
		cfg.Checkpoint.EquityTolerance, cfg.Checkpoint.RetainCount, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize checkpoint store")
	} else {
		app.Checkpoints = checkpoints
	}

	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Ensemble risk and execution engine",
		Long: `Ensemble risk and execution engine.

Combines signals from multiple trading strategies into single decisions,
allocates capital by risk-adjusted performance, enforces a drawdown
circuit breaker, and simulates execution with realistic market friction.

Use 'engine help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ensemble-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newCheckpointCmd(app))
	rootCmd.AddCommand(newJournalCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("Ensemble Engine v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	return cmd
}
