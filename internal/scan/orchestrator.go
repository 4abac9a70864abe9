// Package scan coordinates multi-ticker scan runs: batching, worker
// lifecycle, result aggregation and the global signal cap.
package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"barscan/internal/errors"
	"barscan/internal/feed"
	"barscan/internal/logging"
	"barscan/internal/metrics"
	"barscan/internal/models"
	"barscan/internal/store"
	"barscan/internal/worker"
)

// Options configures one orchestrated scan run.
type Options struct {
	Tickers   []string
	StartDate string
	EndDate   string

	// BatchSize tickers are scanned in parallel; batches run sequentially.
	BatchSize int

	// MaxSignals caps the run; 0 means unlimited. The cap is a soft
	// checkpoint between batches, so a run can finish slightly over it.
	MaxSignals int

	WarmupBars int
	TempDir    string
	Worker     worker.Config
}

// Summary describes a completed scan run.
type Summary struct {
	Signals      []models.Signal
	Skipped      map[string]string
	DaysScanned  int
	Elapsed      time.Duration
	CapReached   bool
	BatchesTotal int
	BatchesRun   int
}

// tickerRunner scans one ticker across the date range and returns its
// accepted signals. Swappable in tests.
type tickerRunner func(ctx context.Context, ticker string) ([]models.Signal, int, error)

// Orchestrator runs scans over a ticker universe using one detector worker
// per ticker.
type Orchestrator struct {
	store  store.Store
	opts   Options
	log    zerolog.Logger
	runner tickerRunner
}

// New creates a scan orchestrator.
func New(st store.Store, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	o := &Orchestrator{
		store: st,
		opts:  opts,
		log:   logger,
	}
	o.runner = o.runTicker
	return o
}

// Run executes the scan: tickers are split into fixed-size batches, batches
// run sequentially, tickers within a batch in parallel. A worker crash
// abandons its ticker only; remaining batch members and later batches
// proceed. Returns the aggregated summary with signals sorted by pattern
// strength descending, ties broken by ticker.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary := &Summary{Skipped: make(map[string]string)}

	batches := splitBatches(o.opts.Tickers, o.opts.BatchSize)
	summary.BatchesTotal = len(batches)

	var mu sync.Mutex

	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		mu.Lock()
		capReached := o.opts.MaxSignals > 0 && len(summary.Signals) >= o.opts.MaxSignals
		mu.Unlock()
		if capReached {
			summary.CapReached = true
			o.log.Info().
				Int("signals", len(summary.Signals)).
				Int("max_signals", o.opts.MaxSignals).
				Msg("Signal cap reached, stopping before next batch")
			break
		}

		o.log.Info().
			Int("batch", bi+1).
			Int("batches", len(batches)).
			Strs("tickers", batch).
			Msg("Scanning batch")

		var wg sync.WaitGroup
		for _, ticker := range batch {
			wg.Add(1)
			go func(ticker string) {
				defer wg.Done()

				sigs, days, err := o.runner(ctx, ticker)
				mu.Lock()
				defer mu.Unlock()
				summary.DaysScanned += days
				// Signals accepted before a failure stand; only the ticker's
				// remaining days are lost.
				summary.Signals = append(summary.Signals, sigs...)
				if err != nil {
					summary.Skipped[ticker] = err.Error()
					o.log.Warn().Err(err).Str("ticker", ticker).Msg("Ticker abandoned")
				}
			}(ticker)
		}
		wg.Wait()
		summary.BatchesRun++
	}

	sortSignals(summary.Signals)
	summary.Elapsed = time.Since(started)

	o.log.Info().
		Int("signals", len(summary.Signals)).
		Int("days", summary.DaysScanned).
		Int("skipped", len(summary.Skipped)).
		Dur("elapsed", summary.Elapsed).
		Msg("Scan complete")

	return summary, nil
}

// runTicker spawns a detector worker for one ticker and walks every trading
// day in the range chronologically through the bar feed controller. The
// worker is reused across days and torn down when the ticker finishes.
func (o *Orchestrator) runTicker(ctx context.Context, ticker string) ([]models.Signal, int, error) {
	days, err := o.store.TradingDays(ctx, ticker, o.opts.StartDate, o.opts.EndDate)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "listing trading days for %s", ticker)
	}
	if len(days) == 0 {
		return nil, 0, errors.NewDataError("bars", ticker, "no trading days in range", errors.ErrNoBars)
	}

	w, err := worker.Spawn(ctx, ticker, o.opts.Worker, o.log)
	if err != nil {
		metrics.WorkerFailuresTotal.Inc()
		return nil, 0, err
	}
	defer w.Close()

	log := logging.WithTicker(o.log, ticker)
	controller := feed.NewController(w, &store.WindowMaterializer{}, o.opts.TempDir, o.opts.WarmupBars, log)

	var signals []models.Signal
	var scanned int
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return signals, scanned, err
		}

		bars, err := o.store.GetDayBars(ctx, ticker, day)
		if err != nil {
			log.Warn().Err(err).Str("date", day).Msg("Failed to load day bars, skipping day")
			continue
		}

		sig, err := controller.Run(ctx, ticker, day, bars)
		scanned++
		if err != nil {
			if errors.Is(err, errors.ErrWorkerTerminated) {
				// Dead worker: the ticker's remaining days are abandoned.
				metrics.WorkerFailuresTotal.Inc()
				return signals, scanned, err
			}
			return signals, scanned, err
		}
		if sig == nil {
			continue
		}

		signals = append(signals, *sig)
		if err := o.store.SaveSignal(ctx, sig); err != nil {
			log.Warn().Err(err).Str("date", day).Msg("Failed to persist signal")
		}
	}

	return signals, scanned, nil
}

func splitBatches(tickers []string, size int) [][]string {
	var batches [][]string
	for len(tickers) > 0 {
		n := size
		if n > len(tickers) {
			n = len(tickers)
		}
		batches = append(batches, tickers[:n])
		tickers = tickers[n:]
	}
	return batches
}

func sortSignals(sigs []models.Signal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].PatternStrength != sigs[j].PatternStrength {
			return sigs[i].PatternStrength > sigs[j].PatternStrength
		}
		return sigs[i].Ticker < sigs[j].Ticker
	})
}
