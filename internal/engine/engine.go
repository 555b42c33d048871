// Package engine sizes a candidate arbitrage. Evaluate is a pure function
// of the two legs, the balances backing them, and the pair-level thresholds;
// it either returns a sized decision or the reason the pair was rejected.
package engine

import (
	"fmt"
	"math"

	"github.com/lexmulier/crypton/internal/book"
	"github.com/lexmulier/crypton/internal/numeric"
)

// Reason is the stable code attached to every decision, accepted or not.
type Reason string

const (
	ReasonAccepted          Reason = "ACCEPTED"
	ReasonSameVenue         Reason = "SAME_VENUE"
	ReasonInsufficientBase  Reason = "INSUFFICIENT_BASE"
	ReasonInsufficientQuote Reason = "INSUFFICIENT_QUOTE"
	ReasonNoArbitrage       Reason = "NO_ARBITRAGE"
	ReasonBelowMinBase      Reason = "BELOW_MIN_BASE"
	ReasonBelowMinQuote     Reason = "BELOW_MIN_QUOTE"
	ReasonBelowMinProfit    Reason = "BELOW_MIN_PROFIT"
)

// Thresholds are the pair-level gates a decision must clear.
type Thresholds struct {
	MinBaseQty     float64
	MinQuoteQty    float64
	BasePrecision  int
	QuotePrecision int

	MinProfitPerc   float64
	MinProfitAmount float64

	// RequireBothProfits demands both profit gates pass; by default either
	// one passing accepts.
	RequireBothProfits bool
}

// Decision is the outcome of one evaluation. OrderBaseQty is the shared
// quantity both legs place; OrderQuoteQty is what the buy leg spends.
type Decision struct {
	Accepted bool
	Reason   Reason

	OrderBaseQty  float64
	OrderQuoteQty float64
	ProfitPerc    float64
	ProfitQuote   float64

	// Balances at decision time, recorded for the trade document.
	AskQuoteBalance float64
	BidBaseBalance  float64
}

// Evaluate walks both legs against each other's fee-adjusted best price,
// recalibrates them to a common base quantity, and applies the minimum
// quantity and profit gates. The legs' planned fields are overwritten. The
// returned error is an internal invariant violation, fatal for the process.
func Evaluate(ask, bid *book.Order, askQuoteBalance, bidBaseBalance float64, th Thresholds) (Decision, error) {
	d := Decision{
		AskQuoteBalance: askQuoteBalance,
		BidBaseBalance:  bidBaseBalance,
	}

	if ask.Venue == bid.Venue {
		d.Reason = ReasonSameVenue
		return d, nil
	}
	if askQuoteBalance < th.MinQuoteQty {
		d.Reason = ReasonInsufficientQuote
		return d, nil
	}
	if bidBaseBalance < th.MinBaseQty || bidBaseBalance == 0 {
		d.Reason = ReasonInsufficientBase
		return d, nil
	}

	// Each leg walks as deep as its own funding allows: the buy leg is
	// bounded by quote on its venue, the sell leg by base on its venue.
	ask.Opportunity(bid.FirstPriceWithFee(), book.QuoteCap(askQuoteBalance))
	bid.Opportunity(ask.FirstPriceWithFee(), book.BaseCap(bidBaseBalance))

	// Mutual recalibration: the smaller side dictates the quantity, the
	// larger side re-walks under that cap so the legs agree.
	switch {
	case ask.BaseQty > bid.BaseQty:
		ask.Opportunity(bid.FirstPriceWithFee(), book.BaseCap(bid.BaseQty))
	case bid.BaseQty > ask.BaseQty:
		bid.Opportunity(ask.FirstPriceWithFee(), book.BaseCap(ask.BaseQty))
	}

	if !ask.Found || !bid.Found {
		d.Reason = ReasonNoArbitrage
		return d, nil
	}

	if diff := math.Abs(ask.BaseQty - bid.BaseQty); diff > math.Pow(10, -float64(th.BasePrecision)) {
		return d, fmt.Errorf("engine: legs disagree on base quantity after recalibration: ask %v vs bid %v",
			ask.BaseQty, bid.BaseQty)
	}

	d.OrderBaseQty = numeric.Floor(bid.BaseQty, th.BasePrecision)
	if d.OrderBaseQty < th.MinBaseQty || d.OrderBaseQty <= 0 {
		d.Reason = ReasonBelowMinBase
		return d, nil
	}

	d.OrderQuoteQty = numeric.Floor(ask.QuoteQty, th.QuotePrecision)
	if d.OrderQuoteQty < th.MinQuoteQty {
		d.Reason = ReasonBelowMinQuote
		return d, nil
	}

	d.ProfitQuote = bid.QuoteQty - ask.QuoteQty
	d.ProfitPerc = d.ProfitQuote / bid.QuoteQty * 100.0

	percOK := d.ProfitPerc >= th.MinProfitPerc
	amountOK := d.ProfitQuote >= th.MinProfitAmount
	adequate := percOK || amountOK
	if th.RequireBothProfits {
		adequate = percOK && amountOK
	}
	if !adequate {
		d.Reason = ReasonBelowMinProfit
		return d, nil
	}

	d.Accepted = true
	d.Reason = ReasonAccepted
	return d, nil
}
