package scan

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"barscan/internal/models"
)

func newTestOrchestrator(opts Options) *Orchestrator {
	return New(nil, opts, zerolog.Nop())
}

func TestRunProcessesAllTickersInBatches(t *testing.T) {
	opts := Options{
		Tickers:   []string{"A", "B", "C", "D", "E", "F", "G"},
		BatchSize: 3,
	}
	o := newTestOrchestrator(opts)

	var mu sync.Mutex
	seen := map[string]bool{}
	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		mu.Lock()
		seen[ticker] = true
		mu.Unlock()
		return nil, 2, nil
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) != 7 {
		t.Errorf("Processed %d tickers, want 7", len(seen))
	}
	if summary.BatchesRun != 3 || summary.BatchesTotal != 3 {
		t.Errorf("Batches run/total = %d/%d, want 3/3", summary.BatchesRun, summary.BatchesTotal)
	}
	if summary.DaysScanned != 14 {
		t.Errorf("Days scanned = %d, want 14", summary.DaysScanned)
	}
	if summary.CapReached {
		t.Error("Cap should not be reached without a limit")
	}
}

func TestRunStopsLaunchingBatchesAtSignalCap(t *testing.T) {
	opts := Options{
		Tickers:    []string{"A", "B", "C", "D", "E", "F"},
		BatchSize:  2,
		MaxSignals: 3,
	}
	o := newTestOrchestrator(opts)

	var calls int
	var mu sync.Mutex
	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []models.Signal{{Ticker: ticker, SignalDate: "2026-03-02"}}, 1, nil
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The cap is a soft checkpoint: batch 1 yields 2 signals, batch 2 runs
	// and pushes the total past the cap, batch 3 never launches.
	if !summary.CapReached {
		t.Error("Expected cap to be reported")
	}
	if summary.BatchesRun != 2 {
		t.Errorf("Batches run = %d, want 2", summary.BatchesRun)
	}
	if calls != 4 {
		t.Errorf("Runner calls = %d, want 4", calls)
	}
	if len(summary.Signals) != 4 {
		t.Errorf("Signals = %d, want 4 (in-flight batch finishes)", len(summary.Signals))
	}
}

func TestRunSortsSignalsByStrengthThenTicker(t *testing.T) {
	opts := Options{
		Tickers:   []string{"ZZZ", "AAA", "MMM"},
		BatchSize: 3,
	}
	o := newTestOrchestrator(opts)

	strengths := map[string]float64{"ZZZ": 90, "AAA": 75, "MMM": 75}
	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		return []models.Signal{{Ticker: ticker, PatternStrength: strengths[ticker]}}, 1, nil
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Signals) != 3 {
		t.Fatalf("Signals = %d, want 3", len(summary.Signals))
	}

	gotOrder := []string{summary.Signals[0].Ticker, summary.Signals[1].Ticker, summary.Signals[2].Ticker}
	wantOrder := []string{"ZZZ", "AAA", "MMM"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("Order = %v, want %v", gotOrder, wantOrder)
		}
	}
}

func TestRunAbandonsFailedTickerOnly(t *testing.T) {
	opts := Options{
		Tickers:   []string{"GOOD", "BAD", "ALSO"},
		BatchSize: 3,
	}
	o := newTestOrchestrator(opts)

	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		if ticker == "BAD" {
			return nil, 1, fmt.Errorf("worker crashed")
		}
		return []models.Signal{{Ticker: ticker}}, 1, nil
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Signals) != 2 {
		t.Errorf("Signals = %d, want 2 from surviving tickers", len(summary.Signals))
	}
	if len(summary.Skipped) != 1 {
		t.Fatalf("Skipped = %v, want just BAD", summary.Skipped)
	}
	if _, ok := summary.Skipped["BAD"]; !ok {
		t.Errorf("Skipped = %v, missing BAD", summary.Skipped)
	}
}

func TestRunKeepsEarlierSignalsFromCrashedTicker(t *testing.T) {
	opts := Options{
		Tickers:   []string{"DIES"},
		BatchSize: 1,
	}
	o := newTestOrchestrator(opts)

	// The worker dies on day two, after day one already produced a signal.
	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		sigs := []models.Signal{{Ticker: ticker, SignalDate: "2026-03-02", PatternStrength: 70}}
		return sigs, 2, fmt.Errorf("process exited mid-request")
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Signals) != 1 {
		t.Fatalf("Signals = %d, want 1 (earlier-day signal kept)", len(summary.Signals))
	}
	if summary.Signals[0].SignalDate != "2026-03-02" {
		t.Errorf("Kept signal = %+v", summary.Signals[0])
	}
	if _, ok := summary.Skipped["DIES"]; !ok {
		t.Errorf("Skipped = %v, missing DIES", summary.Skipped)
	}
}

func TestPartialSignalsCountTowardCap(t *testing.T) {
	opts := Options{
		Tickers:    []string{"A", "B"},
		BatchSize:  1,
		MaxSignals: 1,
	}
	o := newTestOrchestrator(opts)

	var calls int
	o.runner = func(ctx context.Context, ticker string) ([]models.Signal, int, error) {
		calls++
		sigs := []models.Signal{{Ticker: ticker}}
		return sigs, 1, fmt.Errorf("worker crashed")
	}

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The crashed ticker's signal still fills the cap, so the second
	// batch never launches.
	if calls != 1 {
		t.Errorf("Runner calls = %d, want 1", calls)
	}
	if !summary.CapReached {
		t.Error("Expected cap to be reported")
	}
}

func TestSplitBatches(t *testing.T) {
	batches := splitBatches([]string{"A", "B", "C", "D", "E"}, 2)
	if len(batches) != 3 {
		t.Fatalf("Batch count = %d, want 3", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 || len(batches[2]) != 1 {
		t.Errorf("Batch sizes = %d/%d/%d", len(batches[0]), len(batches[1]), len(batches[2]))
	}

	if got := splitBatches(nil, 5); len(got) != 0 {
		t.Errorf("Empty input produced %d batches", len(got))
	}
}
