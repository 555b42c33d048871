package market

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is the two-venue trading surface for one symbol: the symbol, the
// participating venues, and the combined limits both legs must satisfy.
type Pair struct {
	Symbol         Symbol
	Venues         []string
	Key            string
	MinBaseQty     float64
	MinQuoteQty    float64
	BasePrecision  int
	QuotePrecision int
}

// Overrides force pair-level limits from worker configuration; nil fields
// keep the venue-derived value.
type Overrides struct {
	MinBaseQty     *float64
	MinQuoteQty    *float64
	BasePrecision  *int
	QuotePrecision *int
}

// ResolvePair combines two per-venue listings into the pair-level limits:
// minimum quantities take the stricter venue, precisions the coarser, so an
// order valid for the pair is valid on both venues.
func ResolvePair(a, b Meta, ov Overrides) (Pair, error) {
	if a.Symbol != b.Symbol {
		return Pair{}, fmt.Errorf("market: listings disagree on symbol: %s vs %s", a.Symbol, b.Symbol)
	}
	if a.Venue == b.Venue {
		return Pair{}, fmt.Errorf("market: pair needs two distinct venues, got %s twice", a.Venue)
	}

	p := Pair{
		Symbol:         a.Symbol,
		Venues:         sortedVenues(a.Venue, b.Venue),
		MinBaseQty:     max(a.MinBaseQty, b.MinBaseQty),
		MinQuoteQty:    max(a.MinQuoteQty, b.MinQuoteQty),
		BasePrecision:  min(a.BasePrecision, b.BasePrecision),
		QuotePrecision: min(a.QuotePrecision, b.QuotePrecision),
	}

	if ov.MinBaseQty != nil {
		p.MinBaseQty = *ov.MinBaseQty
	}
	if ov.MinQuoteQty != nil {
		p.MinQuoteQty = *ov.MinQuoteQty
	}
	if ov.BasePrecision != nil {
		p.BasePrecision = *ov.BasePrecision
	}
	if ov.QuotePrecision != nil {
		p.QuotePrecision = *ov.QuotePrecision
	}

	p.Key = PairKey(p.Venues, p.Symbol)
	return p, nil
}

// PairKey is the canonical identifier joining the sorted venue ids with the
// symbol, stable across restarts: "BINANCE_KUCOIN_ETH/USDT".
func PairKey(venues []string, sym Symbol) string {
	vs := append([]string(nil), venues...)
	sort.Strings(vs)
	return strings.ToUpper(strings.Join(append(vs, sym.String()), "_"))
}

func sortedVenues(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
