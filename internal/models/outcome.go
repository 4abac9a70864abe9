package models

// Exit represents one partial or final exit from a position.
type Exit struct {
	Time         string  `json:"time"` // HH:MM:SS
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
	SizeFraction float64 `json:"sizeFraction"`
}

// TradeOutcome is the result of simulating an exit strategy forward from a
// signal. When no exit condition fired before the day's bars ran out, NoTrade
// is set with a reason code; every template's session-close rule should make
// that unreachable.
type TradeOutcome struct {
	Ticker        string  `json:"ticker"`
	SignalDate    string  `json:"signalDate"`
	Template      string  `json:"template"`
	Direction     Direction `json:"direction"`
	EntryTime     string  `json:"entryTime"`
	EntryPrice    float64 `json:"entryPrice"`
	Exits         []Exit  `json:"exits,omitempty"`
	PnL           float64 `json:"pnl"`
	PnLPercent    float64 `json:"pnlPercent"`
	NoTrade       bool    `json:"noTrade,omitempty"`
	NoTradeReason string  `json:"noTradeReason,omitempty"`
}

// NoTrade reason codes.
const (
	NoTradeNotClosed  = "position not closed"
	NoTradeNoNextBar  = "no bar after signal"
	NoTradeNoPrevClose = "no previous close"
)

// Position holds the mutable state of one open simulated position. It is
// mutated only within a single synchronous walk over one ticker/day's
// post-signal bars and discarded after producing a TradeOutcome.
type Position struct {
	Direction         Direction
	EntryPrice        float64
	EntryTime         string
	HighestPrice      float64
	LowestPrice       float64
	RemainingFraction float64
	TrailingActive    bool
	TrailingLevel     float64
	Exits             []Exit
}

// NewPosition opens a position at the given price and time with the full
// size fraction.
func NewPosition(dir Direction, price float64, entryTime string) *Position {
	return &Position{
		Direction:         dir,
		EntryPrice:        price,
		EntryTime:         entryTime,
		HighestPrice:      price,
		LowestPrice:       price,
		RemainingFraction: 1.0,
	}
}

// Closed reports whether the position has been fully exited.
func (p *Position) Closed() bool {
	return p.RemainingFraction <= 0
}

// RecordExit appends an exit leg and reduces the remaining fraction.
func (p *Position) RecordExit(timeOfDay string, price float64, reason string, fraction float64) {
	if fraction > p.RemainingFraction {
		fraction = p.RemainingFraction
	}
	p.Exits = append(p.Exits, Exit{
		Time:         timeOfDay,
		Price:        price,
		Reason:       reason,
		SizeFraction: fraction,
	})
	p.RemainingFraction -= fraction
}
