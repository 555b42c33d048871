// Package venue holds the uniform adapter contract over a single exchange
// and the concrete REST dialects implementing it. Adapters normalise venue
// wire formats into the shared market types and map every failure into an
// AdapterError; nothing in this package panics across the engine boundary.
package venue

import (
	"context"
	"time"

	"github.com/lexmulier/crypton/internal/market"
)

// Side is the direction of an order from our point of view.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// OrderRequest is one limit IOC order as handed to an adapter. Quantities and
// prices arrive already rounded to the pair's precisions; the precisions ride
// along so dialects can render exact wire strings.
type OrderRequest struct {
	ClientOrderID  string
	Symbol         market.Symbol
	Side           Side
	BaseQty        float64
	Price          float64
	QtyPrecision   int
	PricePrecision int
}

// Ack is the venue's immediate answer to a placement. Accepted=false means
// the venue rejected the request outright.
type Ack struct {
	Accepted     bool
	VenueOrderID string
}

// OrderStatus is one poll of a placed order. FeeQuote is nil when the venue
// does not report the fee with the order; Filled is the venue's own verdict.
type OrderStatus struct {
	Price     float64
	BaseQty   float64
	FeeQuote  *float64
	Filled    bool
	Timestamp time.Time
}

// Indeterminate reports whether the poll carried no usable fill information
// yet and the caller should poll again.
func (s *OrderStatus) Indeterminate() bool {
	return s == nil || s.Price <= 0
}

// Adapter is the uniform capability set over one venue. Implementations
// retry only idempotent reads; placements and cancels execute at most once.
type Adapter interface {
	// Name returns the venue id ("binance", "kucoin", ...).
	Name() string

	// FetchMarkets returns every tradable symbol with precision and
	// minimum-quantity data.
	FetchMarkets(ctx context.Context) ([]market.Meta, error)

	// FetchBalance returns available amounts per asset, never locked funds.
	FetchBalance(ctx context.Context) (map[market.Asset]float64, error)

	// FetchOrderBook returns the top-N levels, asks ascending and bids
	// descending, possibly empty.
	FetchOrderBook(ctx context.Context, symbol market.Symbol, depth int) (*market.Snapshot, error)

	// FetchFees returns the fee schedule for the symbol. Adapters may fall
	// back to a configured default when the venue refuses.
	FetchFees(ctx context.Context, symbol market.Symbol) (market.FeeSchedule, error)

	// PlaceOrder submits a limit order with immediate-or-cancel semantics.
	PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error)

	// CancelOrder cancels a resting order; the boolean reports whether the
	// venue acknowledged the cancel.
	CancelOrder(ctx context.Context, venueOrderID string, symbol market.Symbol) (bool, error)

	// FetchOrderStatus polls one order. A nil status with nil error means the
	// venue had nothing to report yet.
	FetchOrderStatus(ctx context.Context, venueOrderID string, symbol market.Symbol) (*OrderStatus, error)
}

// Streamer is implemented by adapters whose venue pushes depth updates over a
// websocket. The stream collector drives the connection; the adapter only
// supplies dialect knowledge.
type Streamer interface {
	// StreamURL is the websocket endpoint to dial.
	StreamURL() string

	// SubscribeFrame is the frame that subscribes to depth updates for the
	// symbol.
	SubscribeFrame(symbol market.Symbol) []byte

	// PongFrame answers a venue ping.
	PongFrame() []byte

	// ParseFrame classifies one raw frame and extracts depth deltas. A delta
	// with quantity zero removes the level.
	ParseFrame(raw []byte) (StreamEvent, error)
}

// StreamEventKind classifies a websocket frame.
type StreamEventKind int

const (
	StreamIgnore StreamEventKind = iota
	StreamPing
	StreamDepth
)

// StreamEvent is one classified websocket frame.
type StreamEvent struct {
	Kind StreamEventKind
	Asks []market.Level
	Bids []market.Level
}
