package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/venue"
)

// Depth is how many levels a collector keeps per book side.
const Depth = 20

// Request polls a venue's order book on a fixed interval and publishes into
// its slot whenever the best price moves.
type Request struct {
	adapter venue.Adapter
	symbol  market.Symbol
	sleep   time.Duration
	slot    *Slot
	mirror  Mirror
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// NewRequest builds a polling collector. mirror and metrics may be nil.
func NewRequest(adapter venue.Adapter, symbol market.Symbol, sleep time.Duration, slot *Slot, mirror Mirror, metrics *telemetry.Metrics, log zerolog.Logger) *Request {
	return &Request{
		adapter: adapter,
		symbol:  symbol,
		sleep:   sleep,
		slot:    slot,
		mirror:  mirror,
		metrics: metrics,
		log: log.With().
			Str("component", "collector").
			Str("mode", "request").
			Str("venue", adapter.Name()).
			Logger(),
	}
}

// Slot returns the slot this collector publishes into.
func (c *Request) Slot() *Slot {
	return c.slot
}

// Run polls until the context is cancelled. Fetch failures and malformed
// books skip the cycle; the previous snapshot stays current.
func (c *Request) Run(ctx context.Context) error {
	c.log.Info().Str("symbol", c.symbol.String()).Dur("sleep", c.sleep).Msg("collector started")

	timer := time.NewTimer(c.sleep)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("collector stopped")
			return ctx.Err()
		case <-timer.C:
		}

		c.collect(ctx)
		timer.Reset(c.sleep)
	}
}

func (c *Request) collect(ctx context.Context) {
	started := time.Now()
	snap, err := c.adapter.FetchOrderBook(ctx, c.symbol, Depth)
	c.metrics.RecordBookFetch(c.adapter.Name(), time.Since(started))
	if err != nil {
		c.metrics.RecordCollectorError(c.adapter.Name())
		c.log.Warn().Err(err).Msg("order book fetch failed")
		return
	}
	if err := snap.Validate(); err != nil {
		c.metrics.RecordCollectorError(c.adapter.Name())
		c.log.Warn().Err(err).Msg("order book discarded")
		return
	}
	if !snap.TwoSided() {
		return
	}

	if c.slot.Publish(snap) {
		c.log.Debug().
			Float64("best_ask", snap.Asks[0].Price).
			Float64("best_bid", snap.Bids[0].Price).
			Msg("best price moved")
	}
	c.publishMirror(ctx, snap)
}

func (c *Request) publishMirror(ctx context.Context, snap *market.Snapshot) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Publish(ctx, snap); err != nil {
		c.log.Warn().Err(err).Msg("mirror publish failed")
	}
}
