// Package persistence defines the document store the engine records into:
// trades, current balances, an append-only balance ledger, and market-pair
// bookkeeping. The postgres subpackage implements it.
package persistence

import (
	"context"
	"time"

	"github.com/lexmulier/crypton/internal/market"
)

// BookDocument is the order book snapshot embedded in a trade record.
type BookDocument struct {
	Asks [][2]float64 `json:"asks"`
	Bids [][2]float64 `json:"bids"`
}

// ExpectedLeg is one leg as planned at decision time.
type ExpectedLeg struct {
	Price         float64                  `json:"price"`
	PriceWithFee  float64                  `json:"price_with_fee"`
	BaseQuantity  float64                  `json:"base_quantity"`
	QuoteQuantity float64                  `json:"quote_quantity"`
	OrderBook     BookDocument             `json:"order_book"`
	Balance       map[market.Asset]float64 `json:"balance"`
}

// ActualLeg is one leg as the venue confirmed it.
type ActualLeg struct {
	ExchangeOrderID string    `json:"exchange_order_id"`
	Price           float64   `json:"price"`
	PriceWithFee    float64   `json:"price_with_fee"`
	Timestamp       time.Time `json:"timestamp"`
	BaseQuantity    float64   `json:"base_quantity"`
	Filled          bool      `json:"filled"`
}

// ExpectedDocument carries both planned legs and the expected profit.
type ExpectedDocument struct {
	Ask              ExpectedLeg `json:"ask"`
	Bid              ExpectedLeg `json:"bid"`
	ProfitPercentage float64     `json:"profit_percentage"`
	ProfitAmount     float64     `json:"profit_amount"`
}

// ActualDocument carries both confirmed legs and the realised profit. It is
// absent on trades that never reached placement.
type ActualDocument struct {
	Ask              ActualLeg `json:"ask"`
	Bid              ActualLeg `json:"bid"`
	ProfitPercentage float64   `json:"profit_percentage"`
	ProfitAmount     float64   `json:"profit_amount"`
}

// TradeDocument is one trade-placement attempt. OrdersVerified is true only
// when both legs were confirmed filled.
type TradeDocument struct {
	ID             string           `json:"_id"`
	OrdersVerified bool             `json:"orders_verified"`
	Timestamp      time.Time        `json:"timestamp"`
	AskExchange    string           `json:"ask_exchange"`
	BidExchange    string           `json:"bid_exchange"`
	Market         string           `json:"market"`
	OrderQuantity  float64          `json:"order_quantity"`
	MarketPairID   string           `json:"market_pair_id"`
	Reason         string           `json:"reason,omitempty"`
	Expected       ExpectedDocument `json:"expected"`
	Actual         *ActualDocument  `json:"actual,omitempty"`
}

// Store is the document store contract. Implementations carry their own
// operation timeouts.
type Store interface {
	// SaveTrade inserts one trade document.
	SaveTrade(ctx context.Context, doc TradeDocument) error

	// UpsertBalances mirrors a venue's current balances.
	UpsertBalances(ctx context.Context, venue string, balances map[market.Asset]float64) error

	// AppendBalanceHistory appends one ledger row per asset.
	AppendBalanceHistory(ctx context.Context, venue string, balances map[market.Asset]float64, at time.Time) error

	// LoadBalances reads a venue's mirrored balances; empty when absent.
	LoadBalances(ctx context.Context, venue string) (map[market.Asset]float64, error)

	// TouchMarketPair records a pair run: first sight sets first_run, every
	// call advances last_run.
	TouchMarketPair(ctx context.Context, key string, symbol market.Symbol, venues []string) error
}
