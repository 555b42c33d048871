package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/collector"
	"github.com/lexmulier/crypton/internal/engine"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/trade"
	"github.com/lexmulier/crypton/internal/venue"
)

var ethusdt = market.Symbol{Base: "ETH", Quote: "USDT"}

type recordingStore struct {
	mu      sync.Mutex
	trades  []persistence.TradeDocument
	upserts []string
	stored  map[string]map[market.Asset]float64
}

func (s *recordingStore) SaveTrade(_ context.Context, doc persistence.TradeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, doc)
	return nil
}

func (s *recordingStore) UpsertBalances(_ context.Context, venue string, _ map[market.Asset]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, venue)
	return nil
}

func (s *recordingStore) AppendBalanceHistory(context.Context, string, map[market.Asset]float64, time.Time) error {
	return nil
}

func (s *recordingStore) LoadBalances(_ context.Context, venue string) (map[market.Asset]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[venue], nil
}

func (s *recordingStore) TouchMarketPair(context.Context, string, market.Symbol, []string) error {
	return nil
}

func (s *recordingStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

func (s *recordingStore) savedTrades() []persistence.TradeDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persistence.TradeDocument(nil), s.trades...)
}

type harness struct {
	loop        *Loop
	left, right *venue.Fake
	leftSlot    *collector.Slot
	rightSlot   *collector.Slot
	balances    *balance.Cache
	store       *recordingStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		left:      venue.NewFake("left", ethusdt),
		right:     venue.NewFake("right", ethusdt),
		leftSlot:  &collector.Slot{},
		rightSlot: &collector.Slot{},
		balances:  balance.NewCache("left", "right"),
		store:     &recordingStore{stored: map[string]map[market.Asset]float64{}},
	}
	require.NoError(t, h.balances.Replace("right", map[market.Asset]float64{"USDT": 1e6}))
	require.NoError(t, h.balances.Replace("left", map[market.Asset]float64{"ETH": 70}))

	meta := market.Meta{Symbol: ethusdt, BasePrecision: 8, QuotePrecision: 8, PricePrecision: 8}
	cfg.Trade = trade.Config{
		MarketPairID: "ETH/USDT:left-right",
		Thresholds:   engine.Thresholds{BasePrecision: 8, QuotePrecision: 8},
		PollAttempts: 2,
		PollBase:     time.Millisecond,
		PollStep:     time.Millisecond,
	}
	h.loop = New(
		Leg{Adapter: h.left, Slot: h.leftSlot, Meta: meta, Fee: 0.002, Layered: true},
		Leg{Adapter: h.right, Slot: h.rightSlot, Meta: meta, Fee: 0.002, Layered: true},
		h.balances, h.store, nil, cfg, zerolog.Nop())
	return h
}

func (h *harness) publishBooks() {
	h.rightSlot.Publish(&market.Snapshot{
		Venue:    "right",
		Symbol:   ethusdt,
		Asks:     []market.Level{{Price: 1006, Qty: 10}},
		Bids:     []market.Level{{Price: 1005, Qty: 5}},
		Observed: time.Now(),
	})
	h.leftSlot.Publish(&market.Snapshot{
		Venue:    "left",
		Symbol:   ethusdt,
		Asks:     []market.Level{{Price: 1016, Qty: 5}},
		Bids:     []market.Level{{Price: 1015, Qty: 10}},
		Observed: time.Now(),
	})
}

func runLoop(t *testing.T, h *harness) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return cancel
}

func TestLoopDispatchesOnChangedBooks(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond, PostTradeSleep: time.Millisecond})
	h.publishBooks()
	runLoop(t, h)

	require.Eventually(t, func() bool {
		return len(h.right.Orders()) == 1 && len(h.left.Orders()) == 1
	}, 2*time.Second, 5*time.Millisecond, "one trade placed on each venue")

	require.Eventually(t, func() bool {
		return h.loop.Stats().Trades == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The cheap asks sit on the right venue, the rich bids on the left.
	for _, req := range h.right.Orders() {
		assert.Equal(t, venue.Buy, req.Side)
		assert.Equal(t, 10.0, req.BaseQty)
	}
	for _, req := range h.left.Orders() {
		assert.Equal(t, venue.Sell, req.Side)
		assert.Equal(t, 10.0, req.BaseQty)
	}

	assert.False(t, h.leftSlot.Changed(), "flags consumed by the dispatch")
	assert.False(t, h.rightSlot.Changed())
	assert.Equal(t, "ACCEPTED", h.loop.Stats().LastReason)
}

func TestLoopAppliesPerVenueProfitGates(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond})
	// The sell side lands on the left venue, the buy side on the right; with
	// both floors out of reach the opportunity must be rejected.
	h.loop.legs[0].MinProfitPerc = 99
	h.loop.legs[1].MinProfitAmount = 1e9
	h.publishBooks()
	runLoop(t, h)

	require.Eventually(t, func() bool {
		return h.loop.Stats().LastReason == "BELOW_MIN_PROFIT"
	}, 2*time.Second, time.Millisecond)

	assert.Empty(t, h.right.Orders())
	assert.Empty(t, h.left.Orders())
}

func TestLoopIdlesWithoutBookChanges(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond})
	runLoop(t, h)

	require.Eventually(t, func() bool {
		return h.loop.Stats().Ticks > 5
	}, 2*time.Second, time.Millisecond)

	assert.Empty(t, h.left.Orders())
	assert.Empty(t, h.right.Orders())
	assert.Zero(t, h.loop.Stats().Trades)
}

func TestLoopRefreshesBalancesFromVenue(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond, VenueRefreshEvery: 5, StoreRefreshEvery: 3})
	h.left.SetBalances(map[market.Asset]float64{"ETH": 41})
	h.right.SetBalances(map[market.Asset]float64{"USDT": 9000})
	runLoop(t, h)

	require.Eventually(t, func() bool {
		return h.balances.Get("left", "ETH") == 41 && h.balances.Get("right", "USDT") == 9000
	}, 2*time.Second, time.Millisecond, "venue pull replaces the cache")

	require.Eventually(t, func() bool {
		return h.store.upsertCount() >= 2
	}, 2*time.Second, time.Millisecond, "venue pull writes through to the store")
}

func TestLoopRefreshesBalancesFromStore(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond, VenueRefreshEvery: 1 << 30, StoreRefreshEvery: 2})
	h.store.mu.Lock()
	h.store.stored["left"] = map[market.Asset]float64{"ETH": 12}
	h.store.mu.Unlock()
	runLoop(t, h)

	require.Eventually(t, func() bool {
		return h.balances.Get("left", "ETH") == 12
	}, 2*time.Second, time.Millisecond, "store read refreshes the cache")

	assert.Equal(t, 1e6, h.balances.Get("right", "USDT"), "venues without a stored row keep the cache value")
}

func TestLoopRecordsBookAges(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond, PostTradeSleep: time.Millisecond})
	metrics := telemetry.NewMetrics()
	h.loop.metrics = metrics
	h.publishBooks()
	runLoop(t, h)

	require.Eventually(t, func() bool {
		g, err := metrics.BookAge.GetMetricWithLabelValues("right")
		if err != nil {
			return false
		}
		var m dto.Metric
		if err := g.Write(&m); err != nil {
			return false
		}
		return m.GetGauge().GetValue() > 0
	}, 2*time.Second, 5*time.Millisecond, "snapshot age gauge set from the tick")

	stats := h.loop.Stats()
	assert.Contains(t, stats.BookAges, "left")
	assert.Contains(t, stats.BookAges, "right")
	assert.Contains(t, stats.BalanceAges, "left")
	assert.Greater(t, stats.BookAges["right"], time.Duration(0))
}

func TestLoopCleanStopDuringStalledTrade(t *testing.T) {
	h := newHarness(t, Config{MinSleep: time.Millisecond, PostTradeSleep: time.Millisecond})
	h.loop.cfg.Trade.PollBase = 50 * time.Millisecond
	h.left.StallFills = true
	h.publishBooks()
	cancel := runLoop(t, h)

	require.Eventually(t, func() bool {
		return len(h.left.Orders()) == 1
	}, 2*time.Second, time.Millisecond, "trade in flight")
	cancel()

	// runLoop's cleanup asserts Run returned nil; the stalled trade still
	// reaches the store before the loop stops.
	require.Eventually(t, func() bool {
		return len(h.store.savedTrades()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
