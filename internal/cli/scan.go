package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"barscan/internal/metrics"
	"barscan/internal/models"
	"barscan/internal/scan"
	"barscan/internal/worker"
)

const summaryRounding = 10 * time.Millisecond

func newScanCmd(app *App) *cobra.Command {
	var (
		tickers       []string
		startDate     string
		endDate       string
		workerCommand string
		workerArgs    []string
		batchSize     int
		maxSignals    int
		warmupBars    int
		tempDir       string
		templateName  string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan tickers for detector signals",
		Long: `Scan runs the detector over every trading day in the date range, one
ticker per worker process, feeding each worker a growing prefix of the
day's bars. At most one signal is accepted per ticker per day.`,
		Example: `  barscan scan --tickers AAPL,MSFT --start 2026-01-02 --end 2026-01-30
  barscan scan --tickers SPY --start 2026-03-02 --end 2026-03-02 --worker ./detector.py --max-signals 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if len(tickers) == 0 {
				return fmt.Errorf("at least one ticker is required")
			}
			if startDate == "" || endDate == "" {
				return fmt.Errorf("both --start and --end are required")
			}

			cfg := app.Config
			if workerCommand == "" {
				workerCommand = cfg.Worker.Command
			}
			if workerCommand == "" {
				return fmt.Errorf("no detector command configured (--worker or worker.command in config)")
			}
			if batchSize == 0 {
				batchSize = cfg.Scan.BatchSize
			}
			if maxSignals == 0 {
				maxSignals = cfg.Scan.MaxSignals
			}
			if warmupBars == 0 {
				warmupBars = cfg.Scan.WarmupBars
			}
			if tempDir == "" {
				tempDir = cfg.Scan.TempDir
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if cfg.Metrics.Enabled {
				metrics.Serve(cfg.Metrics.Addr)
				app.Logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint started")
			}

			wcfg := worker.DefaultConfig(workerCommand, workerArgs...)
			if cfg.Worker.ReadyTimeout > 0 {
				wcfg.ReadyTimeout = cfg.Worker.ReadyTimeout
			}
			if cfg.Worker.ResponseTimeout > 0 {
				wcfg.ResponseTimeout = cfg.Worker.ResponseTimeout
			}

			orch := scan.New(st, scan.Options{
				Tickers:    tickers,
				StartDate:  startDate,
				EndDate:    endDate,
				BatchSize:  batchSize,
				MaxSignals: maxSignals,
				WarmupBars: warmupBars,
				TempDir:    tempDir,
				Worker:     wcfg,
			}, app.Logger)

			summary, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}

			// With a template, each signal is simulated and the outcome
			// persisted in the same run.
			var outcomes []models.TradeOutcome
			if templateName != "" {
				outcomes, err = app.simulateSignals(cmd.Context(), summary.Signals, templateName)
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"summary":  summary,
					"outcomes": outcomes,
				})
			}
			renderScanSummary(output, summary)
			if templateName != "" {
				output.Println()
				renderOutcomes(output, templateName, outcomes)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tickers, "tickers", "t", nil, "tickers to scan (comma-separated)")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&workerCommand, "worker", "", "detector command (overrides config)")
	cmd.Flags().StringSliceVar(&workerArgs, "worker-args", nil, "detector command arguments")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "tickers scanned in parallel per batch")
	cmd.Flags().IntVar(&maxSignals, "max-signals", 0, "stop launching batches after this many signals (0 = unlimited)")
	cmd.Flags().IntVar(&warmupBars, "warmup", 0, "minimum bars before the first scan step")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "directory for per-step scan stores")
	cmd.Flags().StringVar(&templateName, "template", "", "also simulate this exit template and persist outcomes")

	return cmd
}

func renderScanSummary(output *Output, summary *scan.Summary) {
	output.Bold("Scan Results")
	output.Printf("  Signals: %d   Days scanned: %d   Elapsed: %s\n",
		len(summary.Signals), summary.DaysScanned, summary.Elapsed.Round(summaryRounding))
	if summary.CapReached {
		output.Warning("  Signal cap reached: %d of %d batches run", summary.BatchesRun, summary.BatchesTotal)
	}
	output.Println()

	if len(summary.Signals) > 0 {
		table := NewTable(output, "TICKER", "DATE", "TIME", "DIR", "STRENGTH")
		for _, sig := range summary.Signals {
			table.AddRow(
				sig.Ticker,
				sig.SignalDate,
				sig.SignalTime,
				string(sig.Direction),
				fmt.Sprintf("%.1f", sig.PatternStrength),
			)
		}
		table.Render()
	} else {
		output.Dim("No signals found.")
	}

	if len(summary.Skipped) > 0 {
		output.Println()
		output.Warning("Skipped tickers:")
		for ticker, reason := range summary.Skipped {
			output.Printf("  %s: %s\n", ticker, firstLine(reason))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
