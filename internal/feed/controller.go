// Package feed implements the bar feed controller, the lookahead-safety
// boundary of the engine. For one ticker and one trading day it advances an
// index through the day's bars and only ever exposes a strict historical
// prefix to the detector worker.
package feed

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"barscan/internal/errors"
	"barscan/internal/logging"
	"barscan/internal/metrics"
	"barscan/internal/models"
	"barscan/internal/store"
	"barscan/pkg/utils"
)

// ScanChannel is the request/response connection to a detector worker.
type ScanChannel interface {
	Scan(ctx context.Context, req models.ScanRequest) (*models.ScanResponse, error)
}

// Controller walks one ticker's day bar-by-bar. The detector never receives
// future data because the temp store handed to it is materialized from the
// authorized prefix only and removed as soon as the response is consumed.
type Controller struct {
	channel      ScanChannel
	materializer store.Materializer
	tempDir      string
	warmupBars   int
	log          zerolog.Logger
}

// NewController creates a bar feed controller.
func NewController(channel ScanChannel, materializer store.Materializer, tempDir string, warmupBars int, logger zerolog.Logger) *Controller {
	return &Controller{
		channel:      channel,
		materializer: materializer,
		tempDir:      tempDir,
		warmupBars:   warmupBars,
		log:          logger,
	}
}

// Run scans one ticker/day and returns the first accepted signal, or nil
// when the day produced none. Days with fewer than warmupBars bars are
// skipped without error. Detector failures at a step are treated as "no
// signal at this step" and the walk continues; only a dead worker aborts
// the day.
func (c *Controller) Run(ctx context.Context, ticker, date string, dayBars []models.Bar) (*models.Signal, error) {
	if len(dayBars) < c.warmupBars {
		c.log.Debug().
			Str("ticker", ticker).
			Str("date", date).
			Int("bars", len(dayBars)).
			Int("warmup", c.warmupBars).
			Msg("Skipping day with insufficient bars")
		return nil, nil
	}

	for i := c.warmupBars; i < len(dayBars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		sig, err := c.scanStep(ctx, ticker, date, dayBars, i)
		if err != nil {
			if errors.Is(err, errors.ErrWorkerTerminated) {
				return nil, err
			}
			// Timeouts and detector-side failures degrade to "no signal".
			if errors.Is(err, errors.ErrWorkerTimeout) {
				metrics.WorkerTimeoutsTotal.Inc()
			}
			c.log.Warn().Err(err).
				Str("ticker", ticker).
				Str("date", date).
				Int("step", i).
				Msg("Scan step failed, continuing")
			continue
		}
		if sig != nil {
			// One signal per ticker per day: stop at the first accept.
			metrics.SignalsTotal.WithLabelValues(ticker).Inc()
			logging.LogSignal(c.log, sig.Ticker, sig.SignalDate, sig.SignalTime, sig.PatternStrength)
			return sig, nil
		}
	}

	return nil, nil
}

// scanStep materializes the prefix window bars[0..i], points the worker at
// it and interprets the response. The temp store is removed before
// returning regardless of outcome.
func (c *Controller) scanStep(ctx context.Context, ticker, date string, dayBars []models.Bar, i int) (*models.Signal, error) {
	window := dayBars[:i+1]

	path, err := c.materializer.MaterializeWindow(c.tempDir, ticker, i, window)
	if err != nil {
		return nil, errors.Wrap(err, "materializing bar window")
	}
	defer func() {
		if rmErr := c.materializer.RemoveWindow(path); rmErr != nil {
			c.log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove scan store")
		}
	}()

	metrics.ScanStepsTotal.WithLabelValues(ticker).Inc()

	resp, err := c.channel.Scan(ctx, models.ScanRequest{
		DatabasePath: path,
		Tickers:      []string{ticker},
		StartDate:    date,
		EndDate:      date,
		RequestID:    uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		// Opaque detector code threw; identical to "no signal here".
		c.log.Debug().
			Str("ticker", ticker).
			Int("step", i).
			Str("detector_error", resp.Error).
			Msg("Detector reported failure")
		return nil, nil
	}

	current := dayBars[i]
	for _, sig := range resp.Data {
		if sig.Ticker != ticker {
			continue
		}
		// Reject signals claiming a time later than the current bar; a
		// detector that fabricates future times does not get a trade.
		if utils.CompareTimeOfDay(sig.SignalTime, current.TimeOfDay) > 0 {
			c.log.Warn().
				Str("ticker", ticker).
				Str("signal_time", sig.SignalTime).
				Str("bar_time", current.TimeOfDay).
				Msg("Rejecting signal claiming a future time")
			continue
		}
		accepted := sig
		if accepted.SignalDate == "" {
			accepted.SignalDate = date
		}
		return &accepted, nil
	}

	return nil, nil
}
