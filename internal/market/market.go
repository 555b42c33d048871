// Package market defines the shared vocabulary of the engine: assets,
// symbols, per-venue listings, fee schedules, and order book snapshots.
package market

import (
	"fmt"
	"strings"
)

// Asset is an uppercase ticker such as "BTC" or "USDT".
type Asset string

// Symbol identifies a market as an ordered base/quote asset pair.
type Symbol struct {
	Base  Asset
	Quote Asset
}

// ParseSymbol parses a "BASE/QUOTE" string into a Symbol.
func ParseSymbol(s string) (Symbol, error) {
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" {
		return Symbol{}, fmt.Errorf("market: malformed symbol %q, want BASE/QUOTE", s)
	}
	return Symbol{
		Base:  Asset(strings.ToUpper(base)),
		Quote: Asset(strings.ToUpper(quote)),
	}, nil
}

func (s Symbol) String() string {
	return string(s.Base) + "/" + string(s.Quote)
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s.Base == "" && s.Quote == ""
}

// FeeSchedule carries venue trading fees as proportions (0.002 is 0.2%).
type FeeSchedule struct {
	Maker float64
	Taker float64
}

// Meta describes a symbol as listed on one venue: the quantity floors and
// the decimal precisions the venue accepts.
type Meta struct {
	Venue          string
	Symbol         Symbol
	MinBaseQty     float64
	MinQuoteQty    float64
	BasePrecision  int
	QuotePrecision int
	PricePrecision int
}
