// Package collector keeps the freshest order book per venue. A collector
// task (request-polling or websocket-streaming) publishes snapshots into a
// single slot; the dispatch loop reads the slot without ever blocking the
// writer. The changed flag is edge-triggered on best-price movement.
package collector

import (
	"context"
	"sync/atomic"

	"github.com/lexmulier/crypton/internal/market"
)

// Mirror publishes a snapshot's top of book to an external sink. Publication
// is advisory; failures never reach the collector's hot path.
type Mirror interface {
	Publish(ctx context.Context, snap *market.Snapshot) error
}

// Slot holds exactly one latest snapshot per venue. A writer overwrites a
// previous unread snapshot; the reader clears the changed flag when it
// consumes.
type Slot struct {
	snap    atomic.Pointer[market.Snapshot]
	changed atomic.Bool
}

// Publish stores snap as the latest observation and raises the changed flag
// when the best price on either side moved against the previous snapshot.
// The first snapshot always counts as a change.
func (s *Slot) Publish(snap *market.Snapshot) bool {
	prev := s.snap.Swap(snap)
	if prev == nil || bestMoved(prev, snap) {
		s.changed.Store(true)
		return true
	}
	return false
}

// Latest returns the freshest snapshot, nil before the first publication.
func (s *Slot) Latest() *market.Snapshot {
	return s.snap.Load()
}

// Changed reports whether a best-price move was published since the last
// Clear.
func (s *Slot) Changed() bool {
	return s.changed.Load()
}

// Clear lowers the changed flag. The consumer calls this when it reads.
func (s *Slot) Clear() {
	s.changed.Store(false)
}

func bestMoved(prev, next *market.Snapshot) bool {
	pa, pok := prev.BestAsk()
	na, nok := next.BestAsk()
	if pok != nok || (pok && pa.Price != na.Price) {
		return true
	}
	pb, pok := prev.BestBid()
	nb, nok := next.BestBid()
	return pok != nok || (pok && pb.Price != nb.Price)
}
