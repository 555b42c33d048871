// Package book models one leg of a candidate arbitrage: a side-aware order
// entity that owns an immutable order book snapshot, computes fee-adjusted
// prices, walks book layers to size an opportunity, and records placement
// and fill state.
package book

import (
	"context"
	"fmt"
	"time"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/numeric"
	"github.com/lexmulier/crypton/internal/venue"
)

// Role distinguishes the two legs. An ASK leg buys at the venue's ask
// prices; a BID leg sells at the venue's bid prices.
type Role int

const (
	RoleAsk Role = iota
	RoleBid
)

func (r Role) String() string {
	if r == RoleAsk {
		return "ASK"
	}
	return "BID"
}

// Status is the execution state of a leg. NONE is the only origin; FILLED
// and FAILED are terminal.
type Status int

const (
	StatusNone Status = iota
	StatusActive
	StatusFailed
	StatusFilled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusFailed:
		return "FAILED"
	case StatusFilled:
		return "FILLED"
	default:
		return "NONE"
	}
}

// Order is one leg of a candidate trade. The planned fields are overwritten
// by each opportunity walk; the actual fields fill in as the venue confirms.
type Order struct {
	Role   Role
	Venue  string
	Symbol market.Symbol
	Book   *market.Snapshot
	Meta   market.Meta
	Fee    float64

	// LayeredQuote keeps the per-level quote accumulation; when false the
	// quote quantity derives flat from the final level price.
	LayeredQuote bool

	// Planned by the opportunity walk.
	Price        float64
	PriceWithFee float64
	BaseQty      float64
	QuoteQty     float64
	Found        bool

	// Execution state.
	VenueOrderID string
	PlacedAt     time.Time
	Status       Status

	ActualPrice        float64
	ActualPriceWithFee float64
	ActualBaseQty      float64
	ActualQuoteQty     float64
}

// NewAsk builds the buy leg over a snapshot's ask side.
func NewAsk(snap *market.Snapshot, meta market.Meta, fee float64, layered bool) (*Order, error) {
	return newOrder(RoleAsk, snap, meta, fee, layered)
}

// NewBid builds the sell leg over a snapshot's bid side.
func NewBid(snap *market.Snapshot, meta market.Meta, fee float64, layered bool) (*Order, error) {
	return newOrder(RoleBid, snap, meta, fee, layered)
}

func newOrder(role Role, snap *market.Snapshot, meta market.Meta, fee float64, layered bool) (*Order, error) {
	if snap == nil {
		return nil, fmt.Errorf("book: nil snapshot for %s leg", role)
	}
	if len(levelsFor(role, snap)) == 0 {
		return nil, fmt.Errorf("book: %s %s has no %s levels", snap.Venue, snap.Symbol, role)
	}
	return &Order{
		Role:         role,
		Venue:        snap.Venue,
		Symbol:       snap.Symbol,
		Book:         snap,
		Meta:         meta,
		Fee:          fee,
		LayeredQuote: layered,
	}, nil
}

func levelsFor(role Role, snap *market.Snapshot) []market.Level {
	if role == RoleAsk {
		return snap.Asks
	}
	return snap.Bids
}

// levels returns the book side in walk order: asks ascending, bids
// descending, exactly as the snapshot stores them.
func (o *Order) levels() []market.Level {
	return levelsFor(o.Role, o.Book)
}

// FeeAdjust returns the effective unit price of a level once the taker fee
// is included, rounded at the venue's price precision. Buying costs more
// than the quoted ask; selling yields less than the quoted bid.
func (o *Order) FeeAdjust(price float64) float64 {
	if o.Role == RoleAsk {
		return numeric.Round(price*(1+o.Fee), o.Meta.PricePrecision)
	}
	return numeric.Round(price*(1-o.Fee), o.Meta.PricePrecision)
}

// FirstPrice is the raw best level price.
func (o *Order) FirstPrice() float64 {
	return o.levels()[0].Price
}

// FirstPriceWithFee is the fee-adjusted best level price, the reference the
// opposite leg walks against.
func (o *Order) FirstPriceWithFee() float64 {
	return o.FeeAdjust(o.FirstPrice())
}

// Side is the order side this leg places: ASK buys, BID sells.
func (o *Order) Side() venue.Side {
	if o.Role == RoleAsk {
		return venue.Buy
	}
	return venue.Sell
}

// Buy places the leg as a limit IOC buy. Only ASK legs buy.
func (o *Order) Buy(ctx context.Context, ad venue.Adapter, clientOrderID string, qty, price float64) error {
	return o.place(ctx, ad, clientOrderID, venue.Buy, qty, price)
}

// Sell places the leg as a limit IOC sell. Only BID legs sell.
func (o *Order) Sell(ctx context.Context, ad venue.Adapter, clientOrderID string, qty, price float64) error {
	return o.place(ctx, ad, clientOrderID, venue.Sell, qty, price)
}

func (o *Order) place(ctx context.Context, ad venue.Adapter, clientOrderID string, side venue.Side, qty, price float64) error {
	if o.Status != StatusNone {
		return fmt.Errorf("book: %s leg on %s already %s", o.Role, o.Venue, o.Status)
	}
	o.Status = StatusActive
	o.PlacedAt = time.Now()

	ack, err := ad.PlaceOrder(ctx, venue.OrderRequest{
		ClientOrderID:  clientOrderID,
		Symbol:         o.Symbol,
		Side:           side,
		BaseQty:        qty,
		Price:          price,
		QtyPrecision:   o.Meta.BasePrecision,
		PricePrecision: o.Meta.PricePrecision,
	})
	if err != nil {
		o.Status = StatusFailed
		return err
	}
	if !ack.Accepted {
		o.Status = StatusFailed
		return nil
	}
	o.VenueOrderID = ack.VenueOrderID
	return nil
}

// Cancel asks the venue to cancel the leg. The leg stays in its current
// status; cancellation is cleanup, not a state transition.
func (o *Order) Cancel(ctx context.Context, ad venue.Adapter) (bool, error) {
	if o.VenueOrderID == "" {
		return false, nil
	}
	return ad.CancelOrder(ctx, o.VenueOrderID, o.Symbol)
}

// RefreshStatus polls the venue once and applies any fill information. An
// indeterminate answer leaves the leg ACTIVE for the next poll.
func (o *Order) RefreshStatus(ctx context.Context, ad venue.Adapter) error {
	if o.Status != StatusActive {
		return nil
	}
	st, err := ad.FetchOrderStatus(ctx, o.VenueOrderID, o.Symbol)
	if err != nil {
		return err
	}
	if st.Indeterminate() {
		return nil
	}

	o.ActualPrice = st.Price
	o.ActualBaseQty = st.BaseQty
	o.ActualPriceWithFee = o.actualFeeAdjust(st)
	o.ActualQuoteQty = numeric.Round(o.ActualBaseQty*o.ActualPriceWithFee, o.Meta.QuotePrecision)
	if st.Filled {
		o.Status = StatusFilled
	}
	return nil
}

// actualFeeAdjust prefers the venue-reported fee spread over the filled
// quantity; otherwise the schedule proportion applies.
func (o *Order) actualFeeAdjust(st *venue.OrderStatus) float64 {
	if st.FeeQuote != nil && st.BaseQty > 0 {
		perUnit := *st.FeeQuote / st.BaseQty
		if o.Role == RoleAsk {
			return numeric.Round(st.Price+perUnit, o.Meta.PricePrecision)
		}
		return numeric.Round(st.Price-perUnit, o.Meta.PricePrecision)
	}
	return o.FeeAdjust(st.Price)
}

// Filled reports whether the venue confirmed a complete fill.
func (o *Order) Filled() bool {
	return o.Status == StatusFilled
}
