package collector

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/venue"
)

// Stream maintains a live order book from a venue's websocket depth channel
// and publishes top-N snapshots through the same slot contract as the
// polling collector. The adapter supplies dialect knowledge (endpoint,
// subscription frame, frame parsing); this type owns the connection.
type Stream struct {
	name     string
	streamer venue.Streamer
	symbol   market.Symbol
	slot     *Slot
	mirror   Mirror
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewStream builds a streaming collector for a venue that implements
// venue.Streamer. mirror and metrics may be nil.
func NewStream(name string, streamer venue.Streamer, symbol market.Symbol, slot *Slot, mirror Mirror, metrics *telemetry.Metrics, log zerolog.Logger) *Stream {
	return &Stream{
		name:     name,
		streamer: streamer,
		symbol:   symbol,
		slot:     slot,
		mirror:   mirror,
		metrics:  metrics,
		log: log.With().
			Str("component", "collector").
			Str("mode", "stream").
			Str("venue", name).
			Logger(),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Slot returns the slot this collector publishes into.
func (c *Stream) Slot() *Slot {
	return c.slot
}

// Run keeps a connection alive until the context is cancelled, reconnecting
// with backoff on read errors. The live book resets on every reconnect; the
// venue replays depth after subscription.
func (c *Stream) Run(ctx context.Context) error {
	c.log.Info().Str("symbol", c.symbol.String()).Msg("collector started")

	backoff := time.Second
	for {
		if err := c.session(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("collector stopped")
				return ctx.Err()
			}
			c.metrics.RecordCollectorError(c.name)
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream session ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			c.log.Info().Msg("collector stopped")
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// session runs one connection: dial, subscribe, then read frames until the
// connection drops or the context is cancelled.
func (c *Stream) session(ctx context.Context) error {
	conn, err := c.dial(ctx, c.streamer.StreamURL())
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, c.streamer.SubscribeFrame(c.symbol)); err != nil {
		return err
	}

	book := newLiveBook(c.name, c.symbol)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := c.streamer.ParseFrame(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("frame dropped")
			continue
		}

		switch ev.Kind {
		case venue.StreamPing:
			if err := conn.WriteMessage(websocket.TextMessage, c.streamer.PongFrame()); err != nil {
				return err
			}
		case venue.StreamDepth:
			book.apply(ev.Asks, ev.Bids)
			c.publish(ctx, book)
		}
	}
}

func (c *Stream) publish(ctx context.Context, book *liveBook) {
	snap := book.snapshot(Depth, time.Now())
	if !snap.TwoSided() {
		return
	}
	if err := snap.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("live book discarded, resetting")
		book.reset()
		return
	}

	if c.slot.Publish(snap) {
		c.log.Debug().
			Float64("best_ask", snap.Asks[0].Price).
			Float64("best_bid", snap.Bids[0].Price).
			Msg("best price moved")
	}
	if c.mirror != nil {
		if err := c.mirror.Publish(ctx, snap); err != nil {
			c.log.Warn().Err(err).Msg("mirror publish failed")
		}
	}
}
