package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexmulier/crypton/internal/market"
)

// Fake is a deterministic in-memory venue for tests and simulate runs. Every
// order is accepted and fills at its limit price on the first status poll
// unless scripted otherwise.
type Fake struct {
	name string

	mu       sync.Mutex
	metas    []market.Meta
	balances map[market.Asset]float64
	books    []*market.Snapshot
	bookIdx  int
	fees     market.FeeSchedule
	orders   map[string]*fakeOrder

	// RejectOrders makes PlaceOrder answer accepted=false.
	RejectOrders bool
	// StallFills keeps orders unfilled so pollers hit their budget.
	StallFills bool
	// FailBooks makes FetchOrderBook return a network error.
	FailBooks bool
}

type fakeOrder struct {
	req   OrderRequest
	polls int
}

// NewFake builds a fake venue with 0.2% fees and precision 8 for the symbol.
func NewFake(name string, symbol market.Symbol) *Fake {
	return &Fake{
		name: name,
		metas: []market.Meta{{
			Venue:          name,
			Symbol:         symbol,
			BasePrecision:  8,
			QuotePrecision: 8,
			PricePrecision: 8,
		}},
		balances: make(map[market.Asset]float64),
		fees:     market.FeeSchedule{Maker: 0.002, Taker: 0.002},
		orders:   make(map[string]*fakeOrder),
	}
}

func (f *Fake) Name() string { return f.name }

// SetBalances replaces the fake's balances.
func (f *Fake) SetBalances(balances map[market.Asset]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = balances
}

// PushBook appends a snapshot to the scripted sequence; the last one repeats.
func (f *Fake) PushBook(snap *market.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = append(f.books, snap)
}

// Orders returns the requests placed so far, in placement order keyed by
// client order id.
func (f *Fake) Orders() map[string]OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]OrderRequest, len(f.orders))
	for id, o := range f.orders {
		out[id] = o.req
	}
	return out
}

func (f *Fake) FetchMarkets(ctx context.Context) ([]market.Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]market.Meta(nil), f.metas...), nil
}

func (f *Fake) FetchBalance(ctx context.Context) (map[market.Asset]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[market.Asset]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) FetchOrderBook(ctx context.Context, symbol market.Symbol, depth int) (*market.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBooks {
		return nil, Errorf(f.name, "fetch_order_book", KindNetwork, "scripted failure")
	}
	if len(f.books) == 0 {
		return nil, Errorf(f.name, "fetch_order_book", KindVenue, "no scripted book")
	}
	snap := f.books[f.bookIdx]
	if f.bookIdx < len(f.books)-1 {
		f.bookIdx++
	}
	return snap, nil
}

func (f *Fake) FetchFees(ctx context.Context, symbol market.Symbol) (market.FeeSchedule, error) {
	return f.fees, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RejectOrders {
		return Ack{}, nil
	}
	id := req.ClientOrderID
	if id == "" {
		id = uuid.NewString()
	}
	f.orders[id] = &fakeOrder{req: req}
	return Ack{Accepted: true, VenueOrderID: id}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, venueOrderID string, symbol market.Symbol) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.orders[venueOrderID]
	return ok, nil
}

func (f *Fake) FetchOrderStatus(ctx context.Context, venueOrderID string, symbol market.Symbol) (*OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[venueOrderID]
	if !ok {
		return nil, fmt.Errorf("fake %s: unknown order %s", f.name, venueOrderID)
	}
	o.polls++
	if f.StallFills {
		return nil, nil
	}
	return &OrderStatus{
		Price:     o.req.Price,
		BaseQty:   o.req.BaseQty,
		Filled:    true,
		Timestamp: time.Now(),
	}, nil
}

var _ Adapter = (*Fake)(nil)
