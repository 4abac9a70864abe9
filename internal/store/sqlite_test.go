package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"barscan/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// barAt builds a bar at the given date and minute offset from 09:30 UTC.
func barAt(ticker, date string, minute int, close float64) models.Bar {
	base := map[string]int64{
		"2026-03-02": 1772443800000, // 2026-03-02 09:30:00 UTC
		"2026-03-03": 1772530200000,
		"2026-03-04": 1772616600000,
	}[date]
	ts := base + int64(minute)*60000
	return models.Bar{
		Ticker:    ticker,
		Timestamp: ts,
		TimeOfDay: timeOfMinute(minute),
		Open:      close - 0.1,
		High:      close + 0.2,
		Low:       close - 0.2,
		Close:     close,
		Volume:    1000,
	}
}

func timeOfMinute(minute int) string {
	h := 9 + (30+minute)/60
	m := (30 + minute) % 60
	return fmt.Sprintf("%02d:%02d:00", h, m)
}

func TestSaveAndGetDayBars(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bars := []models.Bar{
		barAt("AAPL", "2026-03-02", 2, 101.0),
		barAt("AAPL", "2026-03-02", 0, 100.0),
		barAt("AAPL", "2026-03-02", 1, 100.5),
		barAt("MSFT", "2026-03-02", 0, 400.0),
		barAt("AAPL", "2026-03-03", 0, 102.0),
	}
	if err := st.SaveBars(ctx, "1min", bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	got, err := st.GetDayBars(ctx, "AAPL", "2026-03-02")
	if err != nil {
		t.Fatalf("GetDayBars failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Bar count = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp <= got[i-1].Timestamp {
			t.Errorf("Bars not in timestamp order at %d", i)
		}
	}
	if got[0].Close != 100.0 {
		t.Errorf("First bar close = %v, want 100.0", got[0].Close)
	}
}

func TestSaveBarsReplacesDuplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := barAt("AAPL", "2026-03-02", 0, 100.0)
	if err := st.SaveBars(ctx, "1min", []models.Bar{first}); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	updated := first
	updated.Close = 105.0
	if err := st.SaveBars(ctx, "1min", []models.Bar{updated}); err != nil {
		t.Fatalf("SaveBars (replace) failed: %v", err)
	}

	got, err := st.GetDayBars(ctx, "AAPL", "2026-03-02")
	if err != nil {
		t.Fatalf("GetDayBars failed: %v", err)
	}
	if len(got) != 1 || got[0].Close != 105.0 {
		t.Errorf("Got %+v, want single replaced bar", got)
	}
}

func TestTradingDaysChronological(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bars := []models.Bar{
		barAt("AAPL", "2026-03-04", 0, 103.0),
		barAt("AAPL", "2026-03-02", 0, 100.0),
		barAt("AAPL", "2026-03-03", 0, 102.0),
		barAt("AAPL", "2026-03-03", 1, 102.5),
	}
	if err := st.SaveBars(ctx, "1min", bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	days, err := st.TradingDays(ctx, "AAPL", "2026-03-02", "2026-03-03")
	if err != nil {
		t.Fatalf("TradingDays failed: %v", err)
	}
	want := []string{"2026-03-02", "2026-03-03"}
	if len(days) != len(want) {
		t.Fatalf("Days = %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("Days = %v, want %v", days, want)
			break
		}
	}
}

func TestPreviousClose(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bars := []models.Bar{
		barAt("AAPL", "2026-03-02", 0, 100.0),
		barAt("AAPL", "2026-03-02", 1, 111.0), // last bar of prior day
		barAt("AAPL", "2026-03-03", 0, 105.0),
	}
	if err := st.SaveBars(ctx, "1min", bars); err != nil {
		t.Fatalf("SaveBars failed: %v", err)
	}

	prev, err := st.PreviousClose(ctx, "AAPL", "2026-03-03")
	if err != nil {
		t.Fatalf("PreviousClose failed: %v", err)
	}
	if math.Abs(prev-111.0) > 1e-9 {
		t.Errorf("Previous close = %v, want 111.0", prev)
	}

	if _, err := st.PreviousClose(ctx, "AAPL", "2026-03-02"); err == nil {
		t.Error("Expected error when no prior day exists")
	}
}

func TestSignalUpsertAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sig := &models.Signal{
		Ticker:          "AAPL",
		SignalDate:      "2026-03-02",
		SignalTime:      "10:15:00",
		Direction:       models.DirectionLong,
		PatternStrength: 80,
		Metrics:         map[string]interface{}{"gapPct": 2.5},
	}
	if err := st.SaveSignal(ctx, sig); err != nil {
		t.Fatalf("SaveSignal failed: %v", err)
	}

	// Same ticker/day replaces rather than duplicating.
	sig2 := *sig
	sig2.SignalTime = "11:00:00"
	if err := st.SaveSignal(ctx, &sig2); err != nil {
		t.Fatalf("SaveSignal (replace) failed: %v", err)
	}

	got, err := st.Signals(ctx, "AAPL", "", "")
	if err != nil {
		t.Fatalf("Signals failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Signal count = %d, want 1", len(got))
	}
	if got[0].SignalTime != "11:00:00" {
		t.Errorf("Signal time = %s, want replacement 11:00:00", got[0].SignalTime)
	}
	if got[0].Direction != models.DirectionLong {
		t.Errorf("Direction = %s", got[0].Direction)
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	outcome := &models.TradeOutcome{
		Ticker:     "AAPL",
		SignalDate: "2026-03-02",
		Template:   "gap-fill",
		Direction:  models.DirectionLong,
		EntryTime:  "10:16:00",
		EntryPrice: 10.0,
		Exits: []models.Exit{
			{Time: "11:00:00", Price: 10.90, Reason: "Primary target (90% gap fill)", SizeFraction: 0.70},
			{Time: "15:55:00", Price: 10.70, Reason: "Session close", SizeFraction: 0.30},
		},
		PnL:        0.84,
		PnLPercent: 8.4,
	}
	if err := st.SaveOutcome(ctx, outcome); err != nil {
		t.Fatalf("SaveOutcome failed: %v", err)
	}

	got, err := st.Outcomes(ctx, OutcomeFilter{Ticker: "AAPL", Template: "gap-fill"})
	if err != nil {
		t.Fatalf("Outcomes failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Outcome count = %d, want 1", len(got))
	}
	if len(got[0].Exits) != 2 {
		t.Fatalf("Exit legs = %d, want 2", len(got[0].Exits))
	}
	if got[0].Exits[0].Reason != "Primary target (90% gap fill)" {
		t.Errorf("Exit reason = %q", got[0].Exits[0].Reason)
	}
	if got[0].NoTrade {
		t.Error("Outcome should not be a no-trade")
	}
}
