// Package exit simulates exit-strategy state machines over intraday bars.
package exit

import (
	"fmt"
	"sort"

	"barscan/internal/errors"
	"barscan/pkg/utils"
)

// Template is a named bundle of thresholds for the shared exit state
// machine. Templates differ only in parameter values and which conditions
// are enabled; a zero threshold disables its condition. New templates are
// added by defining a new bundle, never by forking the state machine.
type Template struct {
	Name        string
	Description string

	// Hard stop sizing: percent of entry, or an ATR multiple when
	// ATRStopMult > 0 (computed from bars before entry).
	HardStopPct float64
	ATRStopMult float64
	ATRPeriod   int

	// Structural stop on a VWAP break.
	VWAPStop bool

	// Trailing stop, active once price moves TrailingActivationPct in the
	// position's favor; the level is relative to the running extreme.
	TrailingPct           float64
	TrailingActivationPct float64

	// Primary profit target: percent of entry, or a fraction of the
	// overnight gap when GapFillTargetPct > 0.
	PrimaryTargetPct    float64
	GapFillTargetPct    float64
	PrimaryExitFraction float64

	// Secondary profit target.
	SecondaryTargetPct    float64
	SecondaryExitFraction float64

	// Hard session-close exit, HH:MM:SS. Always enabled.
	CloseTime string
}

// Validate checks that the template parameters are coherent.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name required", errors.ErrConfigInvalid)
	}
	if t.CloseTime == "" {
		return fmt.Errorf("%w: template %s has no close time", errors.ErrConfigInvalid, t.Name)
	}
	if _, err := utils.ParseTimeOfDay(t.CloseTime); err != nil {
		return fmt.Errorf("%w: template %s close time: %v", errors.ErrConfigInvalid, t.Name, err)
	}
	if t.PrimaryExitFraction < 0 || t.PrimaryExitFraction > 1 {
		return fmt.Errorf("%w: template %s primary exit fraction out of range", errors.ErrConfigInvalid, t.Name)
	}
	if t.SecondaryExitFraction < 0 || t.SecondaryExitFraction > 1 {
		return fmt.Errorf("%w: template %s secondary exit fraction out of range", errors.ErrConfigInvalid, t.Name)
	}
	return nil
}

// Registry holds the exit template library keyed by name.
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns a registry populated with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range builtinTemplates() {
		r.templates[t.Name] = t
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.templates[t.Name] = t
	return nil
}

// Lookup returns the template with the given name.
func (r *Registry) Lookup(name string) (Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", errors.ErrTemplateNotFound, name)
	}
	return t, nil
}

// Names returns all template names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all templates sorted by name.
func (r *Registry) All() []Template {
	var all []Template
	for _, name := range r.Names() {
		all = append(all, r.templates[name])
	}
	return all
}

func builtinTemplates() []Template {
	return []Template{
		{
			Name:                  "gap-fill",
			Description:           "Fade an overnight gap, scaling out as it fills",
			HardStopPct:           2.5,
			GapFillTargetPct:      90,
			PrimaryExitFraction:   0.70,
			TrailingPct:           1.0,
			TrailingActivationPct: 1.5,
			CloseTime:             "15:55:00",
		},
		{
			Name:                "conservative-scalper",
			Description:         "Tight stop, single full-size target",
			HardStopPct:         1.0,
			PrimaryTargetPct:    1.5,
			PrimaryExitFraction: 1.0,
			CloseTime:           "15:45:00",
		},
		{
			Name:                  "atr-adaptive",
			Description:           "Volatility-sized stop with staged profit taking",
			ATRStopMult:           1.5,
			ATRPeriod:             14,
			TrailingPct:           1.25,
			TrailingActivationPct: 1.0,
			PrimaryTargetPct:      2.0,
			PrimaryExitFraction:   0.50,
			SecondaryTargetPct:    4.0,
			SecondaryExitFraction: 0.25,
			CloseTime:             "15:55:00",
		},
		{
			Name:                  "trend-rider",
			Description:           "Let winners run behind a trailing stop and VWAP",
			HardStopPct:           2.0,
			VWAPStop:              true,
			TrailingPct:           1.5,
			TrailingActivationPct: 0.75,
			CloseTime:             "15:55:00",
		},
	}
}
