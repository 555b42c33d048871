// Package loop is the engine's single-threaded dispatcher. It watches the
// collectors' changed flags, builds the best ask and bid legs across both
// venues, and runs one trade controller at a time. The loop alone evaluates
// opportunities, mutates the balance cache, and writes trades.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/book"
	"github.com/lexmulier/crypton/internal/collector"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/trade"
	"github.com/lexmulier/crypton/internal/venue"
)

// Leg binds one venue's adapter, its book slot, and the order parameters the
// loop builds candidate legs with.
type Leg struct {
	Adapter venue.Adapter
	Slot    *collector.Slot
	Meta    market.Meta
	Fee     float64
	Layered bool

	// Profit gates contributed when this venue wins the respective side:
	// the sell venue's percentage floor, the buy venue's amount floor.
	MinProfitPerc   float64
	MinProfitAmount float64
}

// Config tunes the loop. Zero values take the defaults.
type Config struct {
	MinSleep       time.Duration // between ticks, default 10ms
	PostTradeSleep time.Duration // after a placed trade, default 2s

	StoreRefreshEvery int // ticks between store balance reads, default 1000
	VenueRefreshEvery int // ticks between venue balance pulls, default 10000

	Trade trade.Config
}

func (c Config) withDefaults() Config {
	if c.MinSleep <= 0 {
		c.MinSleep = 10 * time.Millisecond
	}
	if c.PostTradeSleep <= 0 {
		c.PostTradeSleep = 2 * time.Second
	}
	if c.StoreRefreshEvery <= 0 {
		c.StoreRefreshEvery = 1000
	}
	if c.VenueRefreshEvery <= 0 {
		c.VenueRefreshEvery = 10000
	}
	return c
}

// Stats is a point-in-time view for the ops surface. The age maps are
// computed on read, keyed by venue.
type Stats struct {
	Ticks       uint64
	Trades      uint64
	LastReason  string
	LastTradeAt time.Time

	BookAges    map[string]time.Duration
	BalanceAges map[string]time.Duration
}

// Loop pairs exactly two venues over one market.
type Loop struct {
	legs     [2]Leg
	adapters map[string]venue.Adapter
	balances *balance.Cache
	store    persistence.Store
	metrics  *telemetry.Metrics
	cfg      Config
	log      zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a loop over two legs. store and metrics may be nil.
func New(left, right Leg, balances *balance.Cache, store persistence.Store,
	metrics *telemetry.Metrics, cfg Config, log zerolog.Logger) *Loop {
	return &Loop{
		legs: [2]Leg{left, right},
		adapters: map[string]venue.Adapter{
			left.Adapter.Name():  left.Adapter,
			right.Adapter.Name(): right.Adapter,
		},
		balances: balances,
		store:    store,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "loop").Logger(),
	}
}

// Stats returns the current counters plus the age of each venue's freshest
// snapshot and balance.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	s := l.stats
	l.mu.Unlock()

	s.BookAges = make(map[string]time.Duration, len(l.legs))
	s.BalanceAges = make(map[string]time.Duration, len(l.legs))
	for _, leg := range l.legs {
		name := leg.Adapter.Name()
		if snap := leg.Slot.Latest(); snap != nil {
			s.BookAges[name] = time.Since(snap.Observed)
		}
		if bal := l.balances.Venue(name); bal != nil {
			s.BalanceAges[name] = time.Since(bal.Refreshed)
		}
	}
	return s
}

// Run ticks until ctx is cancelled. The returned error is a fatal engine
// condition; cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.MinSleep):
		}
		tick++
		l.metrics.RecordTick()
		for _, leg := range l.legs {
			if snap := leg.Slot.Latest(); snap != nil {
				l.metrics.RecordBookAge(leg.Adapter.Name(), time.Since(snap.Observed))
			}
		}
		l.mu.Lock()
		l.stats.Ticks = tick
		l.mu.Unlock()

		l.refreshBalances(ctx, tick)

		if !l.legs[0].Slot.Changed() && !l.legs[1].Slot.Changed() {
			continue
		}
		l.legs[0].Slot.Clear()
		l.legs[1].Slot.Clear()

		if err := l.dispatch(ctx); err != nil {
			// A cancellation surfacing through a controller mid-trade is a
			// clean stop: the trade finished its cleanup before reporting it.
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// dispatch builds the best leg pair from the latest snapshots and runs one
// controller to completion.
func (l *Loop) dispatch(ctx context.Context) error {
	asks := make([]*book.Order, 0, 2)
	bids := make([]*book.Order, 0, 2)
	for _, leg := range l.legs {
		snap := leg.Slot.Latest()
		if snap == nil || !snap.TwoSided() {
			continue
		}
		if ask, err := book.NewAsk(snap, leg.Meta, leg.Fee, leg.Layered); err == nil {
			asks = append(asks, ask)
		}
		if bid, err := book.NewBid(snap, leg.Meta, leg.Fee, leg.Layered); err == nil {
			bids = append(bids, bid)
		}
	}

	ask := book.BestAsk(asks)
	bid := book.BestBid(bids)
	if ask == nil || bid == nil {
		return nil
	}

	cfg := l.cfg.Trade
	if leg := l.legByVenue(bid.Venue); leg != nil {
		cfg.Thresholds.MinProfitPerc = leg.MinProfitPerc
	}
	if leg := l.legByVenue(ask.Venue); leg != nil {
		cfg.Thresholds.MinProfitAmount = leg.MinProfitAmount
	}

	ctrl := trade.NewController(ask, bid,
		l.adapters[ask.Venue], l.adapters[bid.Venue],
		l.balances, l.store, l.metrics, cfg, l.log)
	res, err := ctrl.Run(ctx)

	// Even a run cut short by shutdown reached a terminal state; count it.
	l.mu.Lock()
	l.stats.LastReason = string(res.Decision.Reason)
	if res.Outcome == trade.OutcomeSuccess || res.Outcome == trade.OutcomePartialFill {
		l.stats.Trades++
		l.stats.LastTradeAt = time.Now()
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}

	// A placed trade moved real funds; wait out venue settlement and re-pull.
	if res.Outcome == trade.OutcomeSuccess || res.Outcome == trade.OutcomePartialFill {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.PostTradeSleep):
		}
		l.refreshFromVenues(ctx)
	}
	return nil
}

func (l *Loop) legByVenue(name string) *Leg {
	for i := range l.legs {
		if l.legs[i].Adapter.Name() == name {
			return &l.legs[i]
		}
	}
	return nil
}

// refreshBalances syncs the cache on the slow timers: usually from the
// document store, periodically from the venues themselves.
func (l *Loop) refreshBalances(ctx context.Context, tick uint64) {
	switch {
	case tick%uint64(l.cfg.VenueRefreshEvery) == 0:
		l.refreshFromVenues(ctx)
	case tick%uint64(l.cfg.StoreRefreshEvery) == 0:
		l.refreshFromStore(ctx)
	}
}

func (l *Loop) refreshFromVenues(ctx context.Context) {
	for _, leg := range l.legs {
		name := leg.Adapter.Name()
		assets, err := leg.Adapter.FetchBalance(ctx)
		if err != nil {
			l.log.Warn().Err(err).Str("venue", name).Msg("venue balance pull failed")
			continue
		}
		if err := l.balances.Replace(name, assets); err != nil {
			l.log.Error().Err(err).Str("venue", name).Msg("balance replace failed")
			continue
		}
		l.metrics.RecordBalanceRefresh(name, "venue")

		if l.store != nil {
			if err := l.store.UpsertBalances(ctx, name, assets); err != nil {
				l.log.Warn().Err(err).Str("venue", name).Msg("balance upsert failed")
			}
			if err := l.store.AppendBalanceHistory(ctx, name, assets, time.Now().UTC()); err != nil {
				l.log.Warn().Err(err).Str("venue", name).Msg("balance history append failed")
			}
		}
	}
}

func (l *Loop) refreshFromStore(ctx context.Context) {
	if l.store == nil {
		return
	}
	for _, leg := range l.legs {
		name := leg.Adapter.Name()
		assets, err := l.store.LoadBalances(ctx, name)
		if err != nil {
			l.log.Warn().Err(err).Str("venue", name).Msg("stored balance read failed")
			continue
		}
		if len(assets) == 0 {
			continue
		}
		if err := l.balances.Replace(name, assets); err != nil {
			l.log.Error().Err(err).Str("venue", name).Msg("balance replace failed")
			continue
		}
		l.metrics.RecordBalanceRefresh(name, "store")
	}
}
