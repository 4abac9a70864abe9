package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"barscan/internal/errors"
	"barscan/internal/exit"
	"barscan/internal/logging"
	"barscan/internal/models"
)

func newSimulateCmd(app *App) *cobra.Command {
	var (
		ticker       string
		startDate    string
		endDate      string
		templateName string
		save         bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate an exit strategy against saved signals",
		Long: `Simulate replays an exit template over the day bars of every saved
signal in the range. Entry is taken at the open of the bar after the
signal bar; exits follow the template's stop, target and session-close
rules in fixed priority order.`,
		Example: `  barscan simulate --template gap-fill --start 2026-01-02 --end 2026-01-30
  barscan simulate --ticker AAPL --template atr-adaptive --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if templateName == "" {
				templateName = app.Config.Exit.Template
			}
			tpl, err := app.Templates.Lookup(templateName)
			if err != nil {
				return err
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			signals, err := st.Signals(ctx, ticker, startDate, endDate)
			if err != nil {
				return err
			}
			if len(signals) == 0 {
				output.Dim("No saved signals match; run 'barscan scan' first.")
				return nil
			}

			outcomes, err := app.runSimulations(ctx, signals, tpl, save)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(outcomes)
			}
			renderOutcomes(output, templateName, outcomes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "restrict to one ticker")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&templateName, "template", "", "exit template name (default from config)")
	cmd.Flags().BoolVar(&save, "save", false, "persist outcomes to the store")

	return cmd
}

// simulateSignals runs the named template over freshly scanned signals and
// persists every outcome. Used by the scan command's --template flow.
func (a *App) simulateSignals(ctx context.Context, signals []models.Signal, templateName string) ([]models.TradeOutcome, error) {
	tpl, err := a.Templates.Lookup(templateName)
	if err != nil {
		return nil, err
	}
	return a.runSimulations(ctx, signals, tpl, true)
}

// runSimulations replays one exit template over each signal's day bars.
func (a *App) runSimulations(ctx context.Context, signals []models.Signal, tpl exit.Template, save bool) ([]models.TradeOutcome, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}

	log := logging.WithOperation(a.Logger, "simulate")
	engine := exit.NewEngine(log)

	var outcomes []models.TradeOutcome
	for _, sig := range signals {
		bars, err := st.GetDayBars(ctx, sig.Ticker, sig.SignalDate)
		if err != nil {
			log.Warn().Err(err).
				Str("ticker", sig.Ticker).
				Str("date", sig.SignalDate).
				Msg("Failed to load bars for signal, skipping")
			continue
		}

		prevClose, err := st.PreviousClose(ctx, sig.Ticker, sig.SignalDate)
		if err != nil {
			// Gap templates refuse to trade without it; others ignore it.
			prevClose = 0
		}

		outcome, err := engine.Run(sig, bars, prevClose, tpl)
		if err != nil {
			if errors.Is(err, errors.ErrNoBars) {
				continue
			}
			return outcomes, err
		}

		logging.LogOutcome(log, outcome.Ticker, outcome.SignalDate, outcome.Template, outcome.PnLPercent, len(outcome.Exits))
		outcomes = append(outcomes, *outcome)

		if save {
			if err := st.SaveOutcome(ctx, outcome); err != nil {
				log.Warn().Err(err).
					Str("ticker", outcome.Ticker).
					Msg("Failed to persist outcome")
			}
		}
	}

	return outcomes, nil
}

func renderOutcomes(output *Output, templateName string, outcomes []models.TradeOutcome) {
	output.Bold("Simulation Results (%s)", templateName)
	output.Println()

	if len(outcomes) == 0 {
		output.Dim("No outcomes.")
		return
	}

	table := NewTable(output, "TICKER", "DATE", "ENTRY", "EXITS", "P&L/SH", "P&L %", "STATUS")
	var wins, losses, noTrades int
	var totalPct float64

	for _, o := range outcomes {
		status := "closed"
		if o.NoTrade {
			status = o.NoTradeReason
			noTrades++
		} else {
			totalPct += o.PnLPercent
			if o.PnL > 0 {
				wins++
			} else if o.PnL < 0 {
				losses++
			}
		}

		entry := "-"
		if !o.NoTrade {
			entry = fmt.Sprintf("%.2f @ %s", o.EntryPrice, o.EntryTime)
		}

		table.AddRow(
			o.Ticker,
			o.SignalDate,
			entry,
			summarizeExits(o.Exits),
			output.FormatPnL(o.PnL),
			output.FormatPercent(o.PnLPercent),
			status,
		)
	}
	table.Render()

	output.Println()
	traded := len(outcomes) - noTrades
	output.Printf("  Trades: %d   Wins: %d   Losses: %d   No-trades: %d\n", traded, wins, losses, noTrades)
	if traded > 0 {
		output.Printf("  Avg P&L: %s\n", output.FormatPercent(totalPct/float64(traded)))
	}
}

func summarizeExits(exits []models.Exit) string {
	if len(exits) == 0 {
		return "-"
	}
	if len(exits) == 1 {
		return exits[0].Reason
	}
	return fmt.Sprintf("%s +%d more", exits[0].Reason, len(exits)-1)
}
