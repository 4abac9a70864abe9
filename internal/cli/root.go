package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"barscan/internal/config"
	"barscan/internal/exit"
	"barscan/internal/logging"
	"barscan/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-30"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.Store
	Templates *exit.Registry
}

// Execute loads configuration, wires the application and runs the root
// command. It is the entry point called from main.
func Execute() {
	configDir := os.Getenv("BARSCAN_CONFIG_DIR")
	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger()

	rootCmd := NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Templates: exit.NewRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:   "barscan",
		Short: "Barscan - lookahead-safe intraday pattern backtesting",
		Long: `Barscan drives external pattern detectors over historical intraday bars
one bar at a time, so a detector can never see data past the bar being
evaluated, then simulates exit strategies against the signals it finds.

Use 'barscan help <command>' for more information about a command.`,
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
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/barscan)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newSimulateCmd(app))
	rootCmd.AddCommand(newTemplatesCmd(app))
	rootCmd.AddCommand(newBarsCmd(app))

	return rootCmd
}

// openStore opens the configured market-data store, lazily so commands that
// never touch data do not require a database.
func (a *App) openStore() (store.Store, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	st, err := store.NewSQLiteStore(a.Config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", a.Config.Database.Path, err)
	}
	a.Store = st
	return st, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Barscan v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
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
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
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

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Database")
	output.Printf("  Path:        %s\n", cfg.Database.Path)
	output.Printf("  Timeframe:   %s\n", cfg.Database.Timeframe)
	output.Println()

	output.Bold("Scan")
	output.Printf("  Batch Size:  %d\n", cfg.Scan.BatchSize)
	output.Printf("  Max Signals: %d\n", cfg.Scan.MaxSignals)
	output.Printf("  Warmup Bars: %d\n", cfg.Scan.WarmupBars)
	output.Printf("  Temp Dir:    %s\n", cfg.Scan.TempDir)
	output.Println()

	output.Bold("Worker")
	output.Printf("  Command:     %s\n", cfg.Worker.Command)
	output.Printf("  Ready Timeout:    %s\n", cfg.Worker.ReadyTimeout)
	output.Printf("  Response Timeout: %s\n", cfg.Worker.ResponseTimeout)
	output.Println()

	output.Bold("Exit")
	output.Printf("  Template:    %s\n", cfg.Exit.Template)
	output.Println()

	output.Bold("Metrics")
	output.Printf("  Enabled:     %v\n", cfg.Metrics.Enabled)
	output.Printf("  Addr:        %s\n", cfg.Metrics.Addr)

	return nil
}
