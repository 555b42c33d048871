// Package config loads the three configuration surfaces: the strict-JSON
// worker settings, the YAML application config, and the YAML credentials
// file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lexmulier/crypton/internal/market"
)

// Worker-level defaults, applied when the settings file stays silent.
const (
	DefaultMinProfitPerc   = 0.01
	DefaultMinProfitAmount = 0.0
	DefaultCollectorSleep  = 1.0 // seconds
)

// VenueSettings are the per-venue options of a worker.
type VenueSettings struct {
	CollectorType       string   `json:"collector_type"`
	SleepTime           *float64 `json:"sleep_time"`
	MinProfitPerc       *float64 `json:"min_profit_perc"`
	MinProfitAmount     *float64 `json:"min_profit_amount"`
	LayeredQuoteQtyCalc *bool    `json:"layered_quote_qty_calc"`
	AuthEndpoints       bool     `json:"auth_endpoints"`
}

// Layered reports whether the quote quantity accumulates per book layer.
// Defaults to true.
func (s VenueSettings) Layered() bool {
	return s.LayeredQuoteQtyCalc == nil || *s.LayeredQuoteQtyCalc
}

// CollectorSleep is the polling interval in seconds.
func (s VenueSettings) CollectorSleep() float64 {
	if s.SleepTime == nil {
		return DefaultCollectorSleep
	}
	return *s.SleepTime
}

// ProfitPerc is the venue's percentage floor, contributed when the venue
// sells.
func (s VenueSettings) ProfitPerc() float64 {
	if s.MinProfitPerc == nil {
		return DefaultMinProfitPerc
	}
	return *s.MinProfitPerc
}

// ProfitAmount is the venue's quote-amount floor, contributed when the venue
// buys.
func (s VenueSettings) ProfitAmount() float64 {
	if s.MinProfitAmount == nil {
		return DefaultMinProfitAmount
	}
	return *s.MinProfitAmount
}

// Worker is one arbitrage worker: a market traded across exactly two venues.
type Worker struct {
	Name      string                   `json:"-"`
	Market    string                   `json:"market"`
	Exchanges []string                 `json:"exchanges"`
	Settings  map[string]VenueSettings `json:"settings"`

	MinBaseQty     *float64 `json:"min_base_qty"`
	MinQuoteQty    *float64 `json:"min_quote_qty"`
	BasePrecision  *int     `json:"base_precision"`
	QuotePrecision *int     `json:"quote_precision"`

	PerformanceMode     bool     `json:"performance_mode"`
	SleepTime           *float64 `json:"sleep_time"`
	LogContinuously     bool     `json:"log_continuously"`
	PersistRejections   bool     `json:"persist_rejections"`
	ProfitThresholdMode string   `json:"profit_threshold_mode"`
}

// LoadWorker reads <dir>/<name>.json. Unknown keys are rejected so a typo in
// a threshold never silently trades with defaults.
func LoadWorker(dir, name string) (*Worker, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker settings: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w Worker
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("parse worker settings %s: %w", path, err)
	}
	w.Name = name

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("worker settings %s: %w", path, err)
	}
	return &w, nil
}

// Validate checks the structural requirements before anything connects.
func (w *Worker) Validate() error {
	if _, err := market.ParseSymbol(w.Market); err != nil {
		return err
	}
	if len(w.Exchanges) != 2 {
		return fmt.Errorf("config: a worker pairs exactly two exchanges, got %d", len(w.Exchanges))
	}
	if w.Exchanges[0] == w.Exchanges[1] {
		return fmt.Errorf("config: exchanges must differ, got %q twice", w.Exchanges[0])
	}
	for _, id := range w.Exchanges {
		s, ok := w.Settings[id]
		if !ok {
			return fmt.Errorf("config: no settings block for exchange %q", id)
		}
		switch s.CollectorType {
		case "", "request", "stream":
		default:
			return fmt.Errorf("config: exchange %q: unknown collector_type %q", id, s.CollectorType)
		}
	}
	switch w.ProfitThresholdMode {
	case "", "any", "all":
	default:
		return fmt.Errorf("config: unknown profit_threshold_mode %q", w.ProfitThresholdMode)
	}
	return nil
}

// Symbol returns the parsed market. Validate must have passed.
func (w *Worker) Symbol() market.Symbol {
	sym, _ := market.ParseSymbol(w.Market)
	return sym
}

// Overrides returns the explicit pair-level limits, if any.
func (w *Worker) Overrides() market.Overrides {
	return market.Overrides{
		MinBaseQty:     w.MinBaseQty,
		MinQuoteQty:    w.MinQuoteQty,
		BasePrecision:  w.BasePrecision,
		QuotePrecision: w.QuotePrecision,
	}
}

// RequireBothProfits reports whether both profit gates must pass
// (profit_threshold_mode "all").
func (w *Worker) RequireBothProfits() bool {
	return w.ProfitThresholdMode == "all"
}

// LoopSleep is the dispatch loop's minimum tick sleep in seconds.
func (w *Worker) LoopSleep() float64 {
	if w.SleepTime == nil {
		return 0.01
	}
	return *w.SleepTime
}
