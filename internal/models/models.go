// Package models provides domain models for the scanning engine.
package models

import (
	"time"
)

// Direction represents the side of a candidate trade.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Bar represents a single OHLCV bar. Bars are immutable once read from the
// store and are ordered by timestamp within a ticker.
type Bar struct {
	Ticker    string  `json:"ticker"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	TimeOfDay string  `json:"timeOfDay"` // HH:MM:SS, venue-local
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// Time returns the bar timestamp as a time.Time in UTC.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Signal represents a candidate trade entry emitted by a detector for a
// specific ticker, date and time. At most one signal is retained per
// ticker/day.
type Signal struct {
	Ticker          string                 `json:"ticker"`
	SignalDate      string                 `json:"signalDate"` // YYYY-MM-DD
	SignalTime      string                 `json:"signalTime"` // HH:MM:SS
	Direction       Direction              `json:"direction,omitempty"`
	PatternStrength float64                `json:"patternStrength,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// ScanRequest is the controller-to-worker wire message. The worker must only
// query the database at DatabasePath, which contains the authorized bar
// window and nothing else.
type ScanRequest struct {
	DatabasePath string   `json:"databasePath"`
	Tickers      []string `json:"tickers"`
	StartDate    string   `json:"startDate"`
	EndDate      string   `json:"endDate"`
	RequestID    string   `json:"requestId"`
}

// ScanResponse is the worker-to-controller wire message.
type ScanResponse struct {
	Success   bool     `json:"success"`
	Data      []Signal `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	RequestID string   `json:"requestId"`
}
