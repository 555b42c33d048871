package collector

import (
	"time"

	"github.com/google/btree"

	"github.com/lexmulier/crypton/internal/market"
)

// liveBook absorbs depth deltas from a stream into per-side ordered trees
// and extracts top-N snapshots. Asks ascend by price, bids descend, so both
// sides read off in walk order.
type liveBook struct {
	venue  string
	symbol market.Symbol
	asks   *btree.BTreeG[market.Level]
	bids   *btree.BTreeG[market.Level]
}

func newLiveBook(venue string, symbol market.Symbol) *liveBook {
	return &liveBook{
		venue:  venue,
		symbol: symbol,
		asks:   btree.NewG(8, func(a, b market.Level) bool { return a.Price < b.Price }),
		bids:   btree.NewG(8, func(a, b market.Level) bool { return a.Price > b.Price }),
	}
}

// apply merges one batch of deltas. A zero quantity removes the level, any
// other quantity replaces it.
func (b *liveBook) apply(asks, bids []market.Level) {
	applySide(b.asks, asks)
	applySide(b.bids, bids)
}

func applySide(tree *btree.BTreeG[market.Level], deltas []market.Level) {
	for _, d := range deltas {
		if d.Qty == 0 {
			tree.Delete(market.Level{Price: d.Price})
			continue
		}
		tree.ReplaceOrInsert(d)
	}
}

// reset drops all levels, used after a reconnect before the venue replays
// its depth.
func (b *liveBook) reset() {
	b.asks.Clear(false)
	b.bids.Clear(false)
}

// snapshot extracts the top-N levels per side as an immutable snapshot.
func (b *liveBook) snapshot(depth int, observed time.Time) *market.Snapshot {
	return &market.Snapshot{
		Venue:    b.venue,
		Symbol:   b.symbol,
		Asks:     topLevels(b.asks, depth),
		Bids:     topLevels(b.bids, depth),
		Observed: observed,
	}
}

func topLevels(tree *btree.BTreeG[market.Level], depth int) []market.Level {
	out := make([]market.Level, 0, depth)
	tree.Ascend(func(l market.Level) bool {
		out = append(out, l)
		return len(out) < depth
	})
	return out
}
