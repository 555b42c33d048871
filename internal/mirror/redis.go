// Package mirror publishes top-of-book quotes to Redis so dashboards and
// sibling workers can observe the books this worker trades on. The mirror is
// best-effort: a failed publish is logged and dropped.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
)

// DefaultTTL expires stale quotes shortly after a worker stops publishing.
const DefaultTTL = 10 * time.Second

// Quote is the published top-of-book document.
type Quote struct {
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	BidQty float64   `json:"bid_qty"`
	AskQty float64   `json:"ask_qty"`
	TS     time.Time `json:"ts"`
}

// Redis writes one key per venue and market: crypton:book:<venue>:<symbol>.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedis wraps an existing client. A zero ttl falls back to DefaultTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "mirror").Logger(),
	}
}

// Key returns the Redis key for one venue's book on one market.
func Key(venueID string, symbol market.Symbol) string {
	return fmt.Sprintf("crypton:book:%s:%s", venueID, symbol)
}

// Publish mirrors the snapshot's best bid and ask. One-sided books publish a
// zero for the missing side so readers can tell "empty" from "absent".
func (r *Redis) Publish(ctx context.Context, snap *market.Snapshot) error {
	var q Quote
	q.TS = snap.Observed
	if ask, ok := snap.BestAsk(); ok {
		q.Ask, q.AskQty = ask.Price, ask.Qty
	}
	if bid, ok := snap.BestBid(); ok {
		q.Bid, q.BidQty = bid.Price, bid.Qty
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	if err := r.client.Set(ctx, Key(snap.Venue, snap.Symbol), payload, r.ttl).Err(); err != nil {
		r.log.Warn().Err(err).Str("venue", snap.Venue).Msg("mirror publish failed")
		return fmt.Errorf("mirror %s: %w", snap.Venue, err)
	}
	return nil
}
