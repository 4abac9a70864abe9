package feed

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"barscan/internal/errors"
	"barscan/internal/models"
)

// fakeMaterializer records every window it is asked to build and how many
// bars each contained.
type fakeMaterializer struct {
	windows []int
	removed []string
	fail    bool
}

func (m *fakeMaterializer) MaterializeWindow(dir, ticker string, step int, bars []models.Bar) (string, error) {
	if m.fail {
		return "", fmt.Errorf("disk full")
	}
	m.windows = append(m.windows, len(bars))
	return fmt.Sprintf("%s/scan_%s_%d.db", dir, ticker, step), nil
}

func (m *fakeMaterializer) RemoveWindow(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

// fakeChannel returns canned responses keyed by scan invocation count.
type fakeChannel struct {
	calls     int
	responses map[int]*models.ScanResponse
	errs      map[int]error
}

func (c *fakeChannel) Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResponse, error) {
	call := c.calls
	c.calls++
	if err, ok := c.errs[call]; ok {
		return nil, err
	}
	if resp, ok := c.responses[call]; ok {
		resp.RequestID = req.RequestID
		return resp, nil
	}
	return &models.ScanResponse{Success: true, RequestID: req.RequestID}, nil
}

func makeDayBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{
			Ticker:    "AAPL",
			Timestamp: int64(i) * 60000,
			TimeOfDay: fmt.Sprintf("09:%02d:00", 30+i),
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: 1000,
		}
	}
	return bars
}

func newTestController(ch ScanChannel, m *fakeMaterializer, warmup int) *Controller {
	return NewController(ch, m, "/tmp/feedtest", warmup, zerolog.Nop())
}

func TestControllerOnlyExposesStrictPrefixes(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{}
	c := newTestController(ch, mat, 3)

	bars := makeDayBars(10)
	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sig != nil {
		t.Fatalf("Unexpected signal: %+v", sig)
	}

	// Steps run from the warmup index to the last bar; each window is one
	// bar longer than the last and never exceeds the day.
	wantSteps := len(bars) - 3
	if len(mat.windows) != wantSteps {
		t.Fatalf("Window count = %d, want %d", len(mat.windows), wantSteps)
	}
	for i, size := range mat.windows {
		want := 3 + i + 1
		if size != want {
			t.Errorf("Window %d has %d bars, want %d", i, size, want)
		}
		if size > len(bars) {
			t.Errorf("Window %d leaked past the day: %d bars", i, size)
		}
	}
	if len(mat.removed) != wantSteps {
		t.Errorf("Removed %d windows, want %d", len(mat.removed), wantSteps)
	}
}

func TestControllerStopsAtFirstSignal(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{
		responses: map[int]*models.ScanResponse{
			2: {Success: true, Data: []models.Signal{{
				Ticker:          "AAPL",
				SignalTime:      "09:33:00",
				PatternStrength: 82,
			}}},
		},
	}
	c := newTestController(ch, mat, 3)

	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(10))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a signal")
	}
	if ch.calls != 3 {
		t.Errorf("Scan calls = %d, want 3 (stop at first accept)", ch.calls)
	}
	if sig.SignalDate != "2026-03-02" {
		t.Errorf("Signal date not filled in: %q", sig.SignalDate)
	}
}

func TestControllerRejectsFutureSignalTime(t *testing.T) {
	// The detector claims a time past the bar it was allowed to see.
	mat := &fakeMaterializer{}
	ch := &fakeChannel{
		responses: map[int]*models.ScanResponse{
			0: {Success: true, Data: []models.Signal{{
				Ticker:     "AAPL",
				SignalTime: "15:59:00",
			}}},
		},
	}
	c := newTestController(ch, mat, 3)

	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(6))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sig != nil {
		t.Fatalf("Fabricated future signal accepted: %+v", sig)
	}
	if ch.calls != 3 {
		t.Errorf("Scan calls = %d, want 3 (walk continues past rejection)", ch.calls)
	}
}

func TestControllerSkipsShortDays(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{}
	c := newTestController(ch, mat, 30)

	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sig != nil || ch.calls != 0 || len(mat.windows) != 0 {
		t.Errorf("Short day was scanned: calls=%d windows=%d", ch.calls, len(mat.windows))
	}
}

func TestControllerContinuesAfterTimeout(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{
		errs: map[int]error{
			0: errors.NewProtocolError("req", "response timeout", errors.ErrWorkerTimeout),
		},
	}
	c := newTestController(ch, mat, 3)

	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(6))
	if err != nil {
		t.Fatalf("Timeout should not abort the day: %v", err)
	}
	if sig != nil {
		t.Fatalf("Unexpected signal: %+v", sig)
	}
	if ch.calls != 3 {
		t.Errorf("Scan calls = %d, want 3", ch.calls)
	}
}

func TestControllerAbortsWhenWorkerDies(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{
		errs: map[int]error{
			1: errors.NewWorkerError("AAPL", "busy", "process exited", errors.ErrWorkerTerminated),
		},
	}
	c := newTestController(ch, mat, 3)

	_, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(8))
	if err == nil {
		t.Fatal("Expected error for dead worker")
	}
	if !errors.Is(err, errors.ErrWorkerTerminated) {
		t.Errorf("Error = %v, want ErrWorkerTerminated", err)
	}
	if ch.calls != 2 {
		t.Errorf("Scan calls = %d, want 2 (abort on death)", ch.calls)
	}
	// Windows built so far still get cleaned up.
	if len(mat.removed) != len(mat.windows) {
		t.Errorf("Removed %d of %d windows", len(mat.removed), len(mat.windows))
	}
}

func TestControllerTreatsDetectorFailureAsNoSignal(t *testing.T) {
	mat := &fakeMaterializer{}
	ch := &fakeChannel{
		responses: map[int]*models.ScanResponse{
			0: {Success: false, Error: "KeyError: 'vwap'"},
		},
	}
	c := newTestController(ch, mat, 3)

	sig, err := c.Run(context.Background(), "AAPL", "2026-03-02", makeDayBars(6))
	if err != nil {
		t.Fatalf("Detector failure should not abort the day: %v", err)
	}
	if sig != nil {
		t.Fatalf("Unexpected signal: %+v", sig)
	}
	if ch.calls != 3 {
		t.Errorf("Scan calls = %d, want 3", ch.calls)
	}
}
