package book

import "github.com/lexmulier/crypton/internal/numeric"

// CapKind selects which quantity bounds an opportunity walk. A walk is
// capped by base or by quote, never both.
type CapKind int

const (
	CapNone CapKind = iota
	CapBase
	CapQuote
)

// Cap bounds an opportunity walk.
type Cap struct {
	Kind CapKind
	Qty  float64
}

// BaseCap bounds the walk by base quantity.
func BaseCap(qty float64) Cap { return Cap{Kind: CapBase, Qty: qty} }

// QuoteCap bounds the walk by quote quantity.
func QuoteCap(qty float64) Cap { return Cap{Kind: CapQuote, Qty: qty} }

// NoCap leaves the walk bounded only by the book.
func NoCap() Cap { return Cap{} }

// Opportunity walks the book side layer by layer while arbitrage against the
// opposite venue's fee-adjusted first price still holds, accumulating how
// much can be taken under the cap. The planned price and quantity fields are
// overwritten on every call, so a walk can be re-run with a tighter cap for
// mutual recalibration.
//
// A level that would overshoot the cap is taken proportionally; the walk
// stops when the cap is exhausted or the fee-adjusted level price crosses
// pOpp (an ASK stops at p >= pOpp, a BID at p <= pOpp).
func (o *Order) Opportunity(pOpp float64, cap Cap) {
	o.BaseQty = 0
	o.QuoteQty = 0
	o.Found = false

	remaining := cap.Qty
	var lastPrice, lastFee float64

	for _, lvl := range o.levels() {
		pFee := o.FeeAdjust(lvl.Price)
		if !o.arbitrageHolds(pFee, pOpp) {
			break
		}

		takeBase := lvl.Qty
		takeQuote := pFee * lvl.Qty

		switch cap.Kind {
		case CapQuote:
			if takeQuote > remaining {
				scale := remaining / takeQuote
				takeBase *= scale
				takeQuote = remaining
			}
		case CapBase:
			if takeBase > remaining {
				scale := remaining / takeBase
				takeQuote *= scale
				takeBase = remaining
			}
		}

		o.BaseQty += takeBase
		o.QuoteQty += takeQuote
		lastPrice = lvl.Price
		lastFee = pFee
		o.Found = true

		if cap.Kind != CapNone {
			if cap.Kind == CapQuote {
				remaining -= takeQuote
			} else {
				remaining -= takeBase
			}
			if remaining <= 0 {
				break
			}
		}
	}

	if !o.Found {
		return
	}

	o.Price = numeric.Round(lastPrice, o.Meta.PricePrecision)
	o.PriceWithFee = numeric.Round(lastFee, o.Meta.PricePrecision)
	if !o.LayeredQuote {
		o.QuoteQty = numeric.Round(o.PriceWithFee*o.BaseQty, o.Meta.QuotePrecision)
	}
}

// arbitrageHolds reports whether a level at feePrice still beats the
// opposite venue's first price.
func (o *Order) arbitrageHolds(feePrice, pOpp float64) bool {
	if o.Role == RoleAsk {
		return feePrice < pOpp
	}
	return feePrice > pOpp
}
