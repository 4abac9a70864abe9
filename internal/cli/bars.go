package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"barscan/internal/models"
)

func newBarsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Manage the intraday bar store",
	}

	cmd.AddCommand(newBarsLoadCmd(app))
	cmd.AddCommand(newBarsDaysCmd(app))

	return cmd
}

func newBarsLoadCmd(app *App) *cobra.Command {
	var (
		timeframe string
		tz        string
	)

	cmd := &cobra.Command{
		Use:   "load <file.csv>",
		Short: "Load OHLCV bars from a CSV file",
		Long: `Load reads bars from a CSV with columns
ticker,timestamp,open,high,low,close,volume where timestamp is epoch
milliseconds. The bar's time of day is derived in the venue timezone
given by --tz. Rows replace existing bars with the same ticker and
timestamp. A header row is detected and skipped.`,
		Example: `  barscan bars load bars.csv --tz America/New_York`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if timeframe == "" {
				timeframe = app.Config.Database.Timeframe
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("invalid --tz %q: %w", tz, err)
			}

			bars, err := readBarsCSV(args[0], loc)
			if err != nil {
				return err
			}
			if len(bars) == 0 {
				output.Warning("No bars found in %s", args[0])
				return nil
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveBars(cmd.Context(), timeframe, bars); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"loaded": len(bars), "timeframe": timeframe})
			}
			output.Success("Loaded %d bars (%s)", len(bars), timeframe)
			return nil
		},
	}

	cmd.Flags().StringVar(&timeframe, "timeframe", "", "bar timeframe label (default from config)")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "venue timezone for bar times (IANA name)")
	return cmd
}

func newBarsDaysCmd(app *App) *cobra.Command {
	var (
		ticker    string
		startDate string
		endDate   string
	)

	cmd := &cobra.Command{
		Use:   "days",
		Short: "List trading days with stored bars for a ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if ticker == "" {
				return fmt.Errorf("--ticker is required")
			}
			if startDate == "" {
				startDate = "0000-01-01"
			}
			if endDate == "" {
				endDate = "9999-12-31"
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			days, err := st.TradingDays(cmd.Context(), ticker, startDate, endDate)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"ticker": ticker, "days": days})
			}
			for _, day := range days {
				output.Println(day)
			}
			output.Dim("%d trading days", len(days))
			return nil
		},
	}

	cmd.Flags().StringVarP(&ticker, "ticker", "t", "", "ticker to list")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func readBarsCSV(path string, loc *time.Location) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 7

	var bars []models.Bar
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		line++

		bar, err := parseBarRecord(record, loc)
		if err != nil {
			// First row may be a header.
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

func parseBarRecord(record []string, loc *time.Location) (models.Bar, error) {
	ts, err := strconv.ParseInt(record[1], 10, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("timestamp: %w", err)
	}

	fields := make([]float64, 4)
	for i, idx := range []int{2, 3, 4, 5} {
		v, err := strconv.ParseFloat(record[idx], 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("price field %d: %w", idx, err)
		}
		fields[i] = v
	}

	volume, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("volume: %w", err)
	}

	return models.Bar{
		Ticker:    record[0],
		Timestamp: ts,
		TimeOfDay: time.UnixMilli(ts).In(loc).Format("15:04:05"),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    volume,
	}, nil
}
