package exit

import (
	"fmt"

	"github.com/rs/zerolog"

	"barscan/internal/errors"
	"barscan/internal/metrics"
	"barscan/internal/models"
	"barscan/pkg/utils"
)

// Exit reason strings.
const (
	ReasonHardStop      = "Hard stop loss"
	ReasonVWAPBreakdown = "VWAP breakdown"
	ReasonTrailingStop  = "Trailing stop"
	ReasonSessionClose  = "Session close"
)

// Engine runs the shared exit state machine forward from an entry. It is a
// pure, synchronous walk over already-materialized bars and never suspends.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates an exit strategy engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{log: logger}
}

// levels holds the per-position exit thresholds derived from entry price,
// template parameters and the overnight gap. Primary/secondary targets are
// marked done after firing so partial exits execute at most once.
type levels struct {
	hardStop        float64
	primaryTarget   float64
	primaryReason   string
	primaryFraction float64
	primaryDone     bool

	secondaryTarget   float64
	secondaryFraction float64
	secondaryDone     bool
}

// Run simulates a template against one signal and its day's bars. Entry
// fires at the open of the bar immediately following the signal bar, never
// the signal bar itself. prevClose is the previous session's close, used
// for gap targets; pass 0 when unavailable.
func (e *Engine) Run(sig models.Signal, dayBars []models.Bar, prevClose float64, tpl Template) (*models.TradeOutcome, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if len(dayBars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", errors.ErrNoBars, sig.Ticker, sig.SignalDate)
	}

	dir := sig.Direction
	if dir == "" {
		dir = models.DirectionLong
	}

	outcome := &models.TradeOutcome{
		Ticker:     sig.Ticker,
		SignalDate: sig.SignalDate,
		Template:   tpl.Name,
		Direction:  dir,
	}

	signalIdx := signalBarIndex(dayBars, sig.SignalTime)
	entryIdx := signalIdx + 1
	if entryIdx >= len(dayBars) {
		outcome.NoTrade = true
		outcome.NoTradeReason = models.NoTradeNoNextBar
		return outcome, nil
	}

	if tpl.GapFillTargetPct > 0 && prevClose <= 0 {
		outcome.NoTrade = true
		outcome.NoTradeReason = models.NoTradeNoPrevClose
		return outcome, nil
	}

	entryBar := dayBars[entryIdx]
	pos := models.NewPosition(dir, entryBar.Open, entryBar.TimeOfDay)
	outcome.EntryTime = pos.EntryTime
	outcome.EntryPrice = pos.EntryPrice

	lv := e.computeLevels(pos, dayBars[:entryIdx], prevClose, tpl)
	vwap := newVWAP(dayBars[:entryIdx])

	for i := entryIdx; i < len(dayBars); i++ {
		bar := dayBars[i]
		vwap.add(bar)
		e.step(pos, bar, lv, vwap.value(), tpl)
		if pos.Closed() {
			break
		}
	}

	outcome.Exits = pos.Exits
	if !pos.Closed() {
		// Every template's session-close rule should make this unreachable;
		// its appearance means the simulation itself is defective.
		outcome.NoTrade = true
		outcome.NoTradeReason = models.NoTradeNotClosed
		metrics.UnclosedPositionsTotal.Inc()
		simErr := errors.NewSimulationError(sig.Ticker, sig.SignalDate, tpl.Name, "bars exhausted with open position")
		e.log.Error().Err(simErr).Msg("Exit engine invariant violation")
	}

	e.settle(outcome, pos)
	return outcome, nil
}

// step checks one bar against the exit conditions in fixed priority order:
// hard stop, structural stop, trailing stop, primary target, secondary
// target, session close. The first match wins for the bar. Disabled
// conditions never match; the list is never reordered per template.
func (e *Engine) step(pos *models.Position, bar models.Bar, lv *levels, vwap float64, tpl Template) {
	long := pos.Direction == models.DirectionLong

	// Track running extremes before evaluating the trailing stop so the
	// level reflects everything seen so far.
	if bar.High > pos.HighestPrice {
		pos.HighestPrice = bar.High
	}
	if bar.Low < pos.LowestPrice {
		pos.LowestPrice = bar.Low
	}
	e.updateTrailing(pos, tpl, long)

	// 1. Hard stop.
	if lv.hardStop > 0 && crossedAgainst(bar, lv.hardStop, long) {
		pos.RecordExit(bar.TimeOfDay, lv.hardStop, ReasonHardStop, pos.RemainingFraction)
		return
	}

	// 2. Structural stop (VWAP break).
	if tpl.VWAPStop && vwap > 0 && crossedAgainst(bar, vwap, long) {
		pos.RecordExit(bar.TimeOfDay, vwap, ReasonVWAPBreakdown, pos.RemainingFraction)
		return
	}

	// 3. Trailing stop.
	if pos.TrailingActive && crossedAgainst(bar, pos.TrailingLevel, long) {
		pos.RecordExit(bar.TimeOfDay, pos.TrailingLevel, ReasonTrailingStop, pos.RemainingFraction)
		return
	}

	// 4. Primary profit target, possibly partial.
	if !lv.primaryDone && lv.primaryTarget > 0 && crossedFor(bar, lv.primaryTarget, long) {
		lv.primaryDone = true
		pos.RecordExit(bar.TimeOfDay, lv.primaryTarget, lv.primaryReason, lv.primaryFraction)
		return
	}

	// 5. Secondary profit target.
	if !lv.secondaryDone && lv.secondaryTarget > 0 && crossedFor(bar, lv.secondaryTarget, long) {
		lv.secondaryDone = true
		pos.RecordExit(bar.TimeOfDay, lv.secondaryTarget, fmt.Sprintf("Secondary target (%g%%)", tpl.SecondaryTargetPct), lv.secondaryFraction)
		return
	}

	// 6. Hard session close: always fires when reached, at the bar close.
	if utils.CompareTimeOfDay(bar.TimeOfDay, tpl.CloseTime) >= 0 {
		pos.RecordExit(bar.TimeOfDay, bar.Close, ReasonSessionClose, pos.RemainingFraction)
	}
}

// updateTrailing activates and ratchets the trailing stop. Levels are
// relative to the running extreme, not the entry, and only ever tighten.
func (e *Engine) updateTrailing(pos *models.Position, tpl Template, long bool) {
	if tpl.TrailingPct <= 0 {
		return
	}

	if long {
		activation := pos.EntryPrice * (1 + tpl.TrailingActivationPct/100)
		if !pos.TrailingActive && pos.HighestPrice >= activation {
			pos.TrailingActive = true
		}
		if pos.TrailingActive {
			level := pos.HighestPrice * (1 - tpl.TrailingPct/100)
			if level > pos.TrailingLevel {
				pos.TrailingLevel = level
			}
		}
	} else {
		activation := pos.EntryPrice * (1 - tpl.TrailingActivationPct/100)
		if !pos.TrailingActive && pos.LowestPrice <= activation {
			pos.TrailingActive = true
			pos.TrailingLevel = pos.LowestPrice * (1 + tpl.TrailingPct/100)
		}
		if pos.TrailingActive {
			level := pos.LowestPrice * (1 + tpl.TrailingPct/100)
			if level < pos.TrailingLevel {
				pos.TrailingLevel = level
			}
		}
	}
}

// computeLevels derives the stop and target prices from the entry price.
// All percentage thresholds are relative to entry; only the trailing stop
// tracks the running extreme.
func (e *Engine) computeLevels(pos *models.Position, priorBars []models.Bar, prevClose float64, tpl Template) *levels {
	long := pos.Direction == models.DirectionLong
	entry := pos.EntryPrice
	lv := &levels{
		primaryFraction:   tpl.PrimaryExitFraction,
		secondaryFraction: tpl.SecondaryExitFraction,
	}
	if lv.primaryFraction == 0 {
		lv.primaryFraction = 1.0
	}

	switch {
	case tpl.ATRStopMult > 0:
		atr := averageTrueRange(priorBars, tpl.ATRPeriod)
		if atr > 0 {
			lv.hardStop = applyOffset(entry, tpl.ATRStopMult*atr, !long)
		} else if tpl.HardStopPct > 0 {
			lv.hardStop = applyPct(entry, tpl.HardStopPct, !long)
		}
	case tpl.HardStopPct > 0:
		lv.hardStop = applyPct(entry, tpl.HardStopPct, !long)
	}

	if tpl.GapFillTargetPct > 0 {
		// A gap trade targets a fraction of the distance back to the prior
		// close; the direction of the fill matches the position side.
		var gap float64
		if long {
			gap = prevClose - entry
		} else {
			gap = entry - prevClose
		}
		if gap > 0 {
			lv.primaryTarget = applyOffset(entry, gap*tpl.GapFillTargetPct/100, long)
			lv.primaryReason = fmt.Sprintf("Primary target (%g%% gap fill)", tpl.GapFillTargetPct)
		}
	} else if tpl.PrimaryTargetPct > 0 {
		lv.primaryTarget = applyPct(entry, tpl.PrimaryTargetPct, long)
		lv.primaryReason = fmt.Sprintf("Primary target (%g%%)", tpl.PrimaryTargetPct)
	}

	if tpl.SecondaryTargetPct > 0 && tpl.SecondaryExitFraction > 0 {
		lv.secondaryTarget = applyPct(entry, tpl.SecondaryTargetPct, long)
	}

	return lv
}

// settle computes the size-weighted P&L of all exit legs.
func (e *Engine) settle(outcome *models.TradeOutcome, pos *models.Position) {
	if len(pos.Exits) == 0 || outcome.EntryPrice == 0 {
		return
	}

	var pnl float64
	for _, ex := range pos.Exits {
		legMove := ex.Price - outcome.EntryPrice
		if pos.Direction == models.DirectionShort {
			legMove = -legMove
		}
		pnl += ex.SizeFraction * legMove
	}

	outcome.PnL = pnl
	outcome.PnLPercent = pnl / outcome.EntryPrice * 100
}

// signalBarIndex returns the index of the last bar at or before the signal
// time; a signal claiming a time before the first bar maps to index 0.
func signalBarIndex(dayBars []models.Bar, signalTime string) int {
	idx := 0
	for i, b := range dayBars {
		if utils.CompareTimeOfDay(b.TimeOfDay, signalTime) <= 0 {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// crossedAgainst reports whether the bar moved through an adverse level:
// low at or below it for longs, high at or above it for shorts.
func crossedAgainst(bar models.Bar, level float64, long bool) bool {
	if long {
		return bar.Low <= level
	}
	return bar.High >= level
}

// crossedFor reports whether the bar moved through a favorable level.
func crossedFor(bar models.Bar, level float64, long bool) bool {
	if long {
		return bar.High >= level
	}
	return bar.Low <= level
}

func applyPct(entry, pct float64, up bool) float64 {
	if up {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

func applyOffset(entry, offset float64, up bool) float64 {
	if up {
		return entry + offset
	}
	return entry - offset
}

// averageTrueRange computes a simple ATR over the trailing period of the
// given bars. Returns 0 when there is not enough history.
func averageTrueRange(bars []models.Bar, period int) float64 {
	if period <= 0 {
		period = 14
	}
	if len(bars) < 2 {
		return 0
	}

	start := len(bars) - period
	if start < 1 {
		start = 1
	}

	var sum float64
	var n int
	for i := start; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		if d := abs(bars[i].High - bars[i-1].Close); d > tr {
			tr = d
		}
		if d := abs(bars[i].Low - bars[i-1].Close); d > tr {
			tr = d
		}
		sum += tr
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// vwapTracker accumulates a running volume-weighted average price from the
// start of the day.
type vwapTracker struct {
	cumPV  float64
	cumVol float64
}

func newVWAP(priorBars []models.Bar) *vwapTracker {
	v := &vwapTracker{}
	for _, b := range priorBars {
		v.add(b)
	}
	return v
}

func (v *vwapTracker) add(b models.Bar) {
	typical := (b.High + b.Low + b.Close) / 3
	v.cumPV += typical * float64(b.Volume)
	v.cumVol += float64(b.Volume)
}

func (v *vwapTracker) value() float64 {
	if v.cumVol == 0 {
		return 0
	}
	return v.cumPV / v.cumVol
}
