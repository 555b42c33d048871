// Package balance keeps the per-venue available balances the dispatch loop
// trades against. Each venue's balances live in an immutable map swapped
// atomically on refresh, so readers never block writers.
package balance

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lexmulier/crypton/internal/market"
)

// Snapshot is one venue's balances at a point in time. The map is never
// mutated after construction.
type Snapshot struct {
	Venue     string
	Assets    map[market.Asset]float64
	Refreshed time.Time
}

// Get returns the available amount of one asset, zero when unknown.
func (s *Snapshot) Get(asset market.Asset) float64 {
	if s == nil {
		return 0
	}
	return s.Assets[asset]
}

// Cache holds one snapshot slot per venue. The dispatch loop is the only
// writer; collectors and the ops server read concurrently.
type Cache struct {
	venues map[string]*atomic.Pointer[Snapshot]
}

// NewCache builds a cache with an empty slot per venue.
func NewCache(venues ...string) *Cache {
	c := &Cache{venues: make(map[string]*atomic.Pointer[Snapshot], len(venues))}
	for _, v := range venues {
		c.venues[v] = &atomic.Pointer[Snapshot]{}
	}
	return c
}

// Venue returns the current snapshot for a venue, nil before first refresh.
func (c *Cache) Venue(venue string) *Snapshot {
	slot, ok := c.venues[venue]
	if !ok {
		return nil
	}
	return slot.Load()
}

// Get returns the available amount of one asset on one venue.
func (c *Cache) Get(venue string, asset market.Asset) float64 {
	return c.Venue(venue).Get(asset)
}

// Replace swaps in a whole new snapshot for a venue.
func (c *Cache) Replace(venue string, assets map[market.Asset]float64) error {
	slot, ok := c.venues[venue]
	if !ok {
		return fmt.Errorf("balance: unknown venue %q", venue)
	}
	copied := make(map[market.Asset]float64, len(assets))
	for k, v := range assets {
		copied[k] = v
	}
	slot.Store(&Snapshot{Venue: venue, Assets: copied, Refreshed: time.Now()})
	return nil
}

// Debit subtracts amount from one asset on one venue by swapping in an
// adjusted snapshot. Called after a fill so the next evaluation does not
// spend funds already committed.
func (c *Cache) Debit(venue string, asset market.Asset, amount float64) error {
	slot, ok := c.venues[venue]
	if !ok {
		return fmt.Errorf("balance: unknown venue %q", venue)
	}
	cur := slot.Load()
	if cur == nil {
		return fmt.Errorf("balance: debit before first refresh of %q", venue)
	}
	next := make(map[market.Asset]float64, len(cur.Assets))
	for k, v := range cur.Assets {
		next[k] = v
	}
	next[asset] -= amount
	slot.Store(&Snapshot{Venue: venue, Assets: next, Refreshed: cur.Refreshed})
	return nil
}

// Venues lists the venues the cache tracks.
func (c *Cache) Venues() []string {
	out := make([]string, 0, len(c.venues))
	for v := range c.venues {
		out = append(out, v)
	}
	return out
}
