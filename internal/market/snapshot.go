package market

import (
	"fmt"
	"time"

	"github.com/lexmulier/crypton/internal/numeric"
)

// Level is one order book price level.
type Level struct {
	Price float64
	Qty   float64
}

// Snapshot is an immutable order book observation. Asks are sorted ascending
// by price, bids descending; once published a snapshot is never mutated, a
// new observation produces a new snapshot.
type Snapshot struct {
	Venue    string
	Symbol   Symbol
	Asks     []Level
	Bids     []Level
	Observed time.Time
}

// BestAsk returns the lowest ask level.
func (s *Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest bid level.
func (s *Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// TwoSided reports whether both sides carry at least one level. Only
// two-sided snapshots are worth evaluating.
func (s *Snapshot) TwoSided() bool {
	return len(s.Asks) > 0 && len(s.Bids) > 0
}

// Validate rejects snapshots that would poison the sizing arithmetic:
// unsorted sides, negative or non-finite numbers, or a crossed top of book.
func (s *Snapshot) Validate() error {
	for i, l := range s.Asks {
		if err := checkLevel(l); err != nil {
			return fmt.Errorf("market: %s %s ask[%d]: %w", s.Venue, s.Symbol, i, err)
		}
		if i > 0 && l.Price < s.Asks[i-1].Price {
			return fmt.Errorf("market: %s %s asks not ascending at level %d", s.Venue, s.Symbol, i)
		}
	}
	for i, l := range s.Bids {
		if err := checkLevel(l); err != nil {
			return fmt.Errorf("market: %s %s bid[%d]: %w", s.Venue, s.Symbol, i, err)
		}
		if i > 0 && l.Price > s.Bids[i-1].Price {
			return fmt.Errorf("market: %s %s bids not descending at level %d", s.Venue, s.Symbol, i)
		}
	}
	if ask, ok := s.BestAsk(); ok {
		if bid, ok := s.BestBid(); ok && bid.Price >= ask.Price {
			return fmt.Errorf("market: %s %s book crossed, bid %v over ask %v",
				s.Venue, s.Symbol, bid.Price, ask.Price)
		}
	}
	return nil
}

func checkLevel(l Level) error {
	if !numeric.Finite(l.Price) || !numeric.Finite(l.Qty) {
		return fmt.Errorf("non-finite level %v @ %v", l.Qty, l.Price)
	}
	if l.Price < 0 || l.Qty < 0 {
		return fmt.Errorf("negative level %v @ %v", l.Qty, l.Price)
	}
	return nil
}
