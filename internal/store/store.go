// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"barscan/internal/models"
)

// Store defines the interface for market-data access and result persistence.
type Store interface {
	// Bars
	SaveBars(ctx context.Context, timeframe string, bars []models.Bar) error
	GetDayBars(ctx context.Context, ticker, date string) ([]models.Bar, error)
	TradingDays(ctx context.Context, ticker, startDate, endDate string) ([]string, error)
	PreviousClose(ctx context.Context, ticker, date string) (float64, error)

	// Result sink
	SaveSignal(ctx context.Context, sig *models.Signal) error
	Signals(ctx context.Context, ticker, startDate, endDate string) ([]models.Signal, error)
	SaveOutcome(ctx context.Context, outcome *models.TradeOutcome) error
	Outcomes(ctx context.Context, filter OutcomeFilter) ([]models.TradeOutcome, error)

	// Lifecycle
	Close() error
}

// OutcomeFilter represents filters for querying trade outcomes.
type OutcomeFilter struct {
	Ticker    string
	StartDate string
	EndDate   string
	Template  string
	Limit     int
}
