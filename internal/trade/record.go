package trade

import (
	"time"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/book"
	"github.com/lexmulier/crypton/internal/engine"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
)

// document assembles the persisted trade record. withActual is false for
// evaluations that never reached placement.
func (c *Controller) document(d engine.Decision, reason string, withActual, verified bool) persistence.TradeDocument {
	doc := persistence.TradeDocument{
		ID:             c.id.String(),
		OrdersVerified: verified,
		Timestamp:      time.Now().UTC(),
		AskExchange:    c.ask.Venue,
		BidExchange:    c.bid.Venue,
		Market:         c.ask.Symbol.String(),
		OrderQuantity:  d.OrderBaseQty,
		MarketPairID:   c.cfg.MarketPairID,
		Reason:         reason,
		Expected: persistence.ExpectedDocument{
			Ask:              c.expectedLeg(c.ask, c.askBalances),
			Bid:              c.expectedLeg(c.bid, c.bidBalances),
			ProfitPercentage: d.ProfitPerc,
			ProfitAmount:     d.ProfitQuote,
		},
	}
	if withActual {
		doc.Actual = c.actualDocument()
	}
	return doc
}

func (c *Controller) expectedLeg(leg *book.Order, balances *balance.Snapshot) persistence.ExpectedLeg {
	out := persistence.ExpectedLeg{
		Price:         leg.Price,
		PriceWithFee:  leg.PriceWithFee,
		BaseQuantity:  leg.BaseQty,
		QuoteQuantity: leg.QuoteQty,
		OrderBook:     bookDocument(leg.Book),
	}
	if balances != nil {
		out.Balance = balances.Assets
	}
	return out
}

func (c *Controller) actualDocument() *persistence.ActualDocument {
	doc := &persistence.ActualDocument{
		Ask: actualLeg(c.ask),
		Bid: actualLeg(c.bid),
	}
	doc.ProfitAmount = c.bid.ActualQuoteQty - c.ask.ActualQuoteQty
	if c.bid.ActualQuoteQty != 0 {
		doc.ProfitPercentage = doc.ProfitAmount / c.bid.ActualQuoteQty * 100.0
	}
	return doc
}

func actualLeg(leg *book.Order) persistence.ActualLeg {
	return persistence.ActualLeg{
		ExchangeOrderID: leg.VenueOrderID,
		Price:           leg.ActualPrice,
		PriceWithFee:    leg.ActualPriceWithFee,
		Timestamp:       leg.PlacedAt,
		BaseQuantity:    leg.ActualBaseQty,
		Filled:          leg.Filled(),
	}
}

func bookDocument(snap *market.Snapshot) persistence.BookDocument {
	if snap == nil {
		return persistence.BookDocument{}
	}
	doc := persistence.BookDocument{
		Asks: make([][2]float64, len(snap.Asks)),
		Bids: make([][2]float64, len(snap.Bids)),
	}
	for i, l := range snap.Asks {
		doc.Asks[i] = [2]float64{l.Price, l.Qty}
	}
	for i, l := range snap.Bids {
		doc.Bids[i] = [2]float64{l.Price, l.Qty}
	}
	return doc
}
