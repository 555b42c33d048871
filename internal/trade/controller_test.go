package trade

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/book"
	"github.com/lexmulier/crypton/internal/engine"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/venue"
)

var ethusdt = market.Symbol{Base: "ETH", Quote: "USDT"}

type stubStore struct {
	mu   sync.Mutex
	docs []persistence.TradeDocument
}

func (s *stubStore) SaveTrade(_ context.Context, doc persistence.TradeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return nil
}

func (s *stubStore) UpsertBalances(context.Context, string, map[market.Asset]float64) error {
	return nil
}

func (s *stubStore) AppendBalanceHistory(context.Context, string, map[market.Asset]float64, time.Time) error {
	return nil
}

func (s *stubStore) LoadBalances(context.Context, string) (map[market.Asset]float64, error) {
	return nil, nil
}

func (s *stubStore) TouchMarketPair(context.Context, string, market.Symbol, []string) error {
	return nil
}

func (s *stubStore) saved() []persistence.TradeDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persistence.TradeDocument(nil), s.docs...)
}

type fixture struct {
	ask, bid    *book.Order
	right, left *venue.Fake
	balances    *balance.Cache
	store       *stubStore
	cfg         Config
}

// newFixture wires the deep-books scenario: the right venue sells cheap, the
// left venue buys dear, 70 ETH of base on the left and a deep quote stack on
// the right.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	askSnap := &market.Snapshot{
		Venue:  "right",
		Symbol: ethusdt,
		Asks: []market.Level{
			{Price: 1006, Qty: 10}, {Price: 1007, Qty: 20}, {Price: 1008, Qty: 50}, {Price: 1009, Qty: 10}, {Price: 1010, Qty: 20},
			{Price: 1011, Qty: 50}, {Price: 1012, Qty: 10}, {Price: 1013, Qty: 20}, {Price: 1014, Qty: 50},
		},
		Bids:     []market.Level{{Price: 1005, Qty: 10}},
		Observed: time.Now(),
	}
	bidSnap := &market.Snapshot{
		Venue:  "left",
		Symbol: ethusdt,
		Asks:   []market.Level{{Price: 1016, Qty: 10}},
		Bids: []market.Level{
			{Price: 1015, Qty: 10}, {Price: 1014, Qty: 20}, {Price: 1013, Qty: 50}, {Price: 1012, Qty: 10}, {Price: 1011, Qty: 20},
			{Price: 1010, Qty: 50}, {Price: 1009, Qty: 10}, {Price: 1008, Qty: 20}, {Price: 1007, Qty: 50},
		},
		Observed: time.Now(),
	}

	meta := market.Meta{Symbol: ethusdt, BasePrecision: 8, QuotePrecision: 8, PricePrecision: 8}

	ask, err := book.NewAsk(askSnap, meta, 0.002, true)
	require.NoError(t, err)
	bid, err := book.NewBid(bidSnap, meta, 0.002, true)
	require.NoError(t, err)

	balances := balance.NewCache("left", "right")
	require.NoError(t, balances.Replace("right", map[market.Asset]float64{"USDT": 1e6}))
	require.NoError(t, balances.Replace("left", map[market.Asset]float64{"ETH": 70}))

	return &fixture{
		ask:      ask,
		bid:      bid,
		right:    venue.NewFake("right", ethusdt),
		left:     venue.NewFake("left", ethusdt),
		balances: balances,
		store:    &stubStore{},
		cfg: Config{
			MarketPairID: "ETH/USDT:right-left",
			Thresholds:   engine.Thresholds{BasePrecision: 8, QuotePrecision: 8},
			PollAttempts: 3,
			PollBase:     time.Millisecond,
			PollStep:     time.Millisecond,
		},
	}
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	c := NewController(f.ask, f.bid, f.right, f.left, f.balances, f.store, nil, f.cfg, zerolog.Nop())
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	res := f.run(t)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 70.0, res.Decision.OrderBaseQty)
	assert.InDelta(t, 70661.04, res.Decision.OrderQuoteQty, 1e-6)

	// Both legs placed the shared base quantity under the trade id.
	require.NotNil(t, res.Document)
	askReq, ok := f.right.Orders()[res.Document.ID]
	require.True(t, ok, "ask leg placed on the right venue")
	bidReq, ok := f.left.Orders()[res.Document.ID]
	require.True(t, ok, "bid leg placed on the left venue")
	assert.Equal(t, venue.Buy, askReq.Side)
	assert.Equal(t, venue.Sell, bidReq.Side)
	assert.Equal(t, 70.0, askReq.BaseQty)
	assert.Equal(t, 70.0, bidReq.BaseQty)
	assert.Equal(t, 1010.0, askReq.Price, "ask leg placed at its final walk price")
	assert.Equal(t, 1013.0, bidReq.Price, "bid leg placed at its final walk price")

	// Local settlement: committed quote off the buy venue, base off the sell.
	assert.InDelta(t, 1e6-70661.04, f.balances.Get("right", "USDT"), 1e-6)
	assert.InDelta(t, 0, f.balances.Get("left", "ETH"), 1e-9)

	docs := f.store.saved()
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.True(t, doc.OrdersVerified)
	assert.Equal(t, "ETH/USDT", doc.Market)
	assert.Equal(t, "right", doc.AskExchange)
	assert.Equal(t, "left", doc.BidExchange)
	assert.Equal(t, 70.0, doc.OrderQuantity)
	require.NotNil(t, doc.Actual)
	assert.True(t, doc.Actual.Ask.Filled)
	assert.True(t, doc.Actual.Bid.Filled)
	assert.Equal(t, 70.0, doc.Actual.Ask.BaseQuantity)
	assert.Len(t, doc.Expected.Ask.OrderBook.Asks, 9)
	assert.Equal(t, 1e6, doc.Expected.Ask.Balance["USDT"])
}

func TestRunRejectedNotPersistedByDefault(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.balances.Replace("right", map[market.Asset]float64{"USDT": 0}))
	f.cfg.Thresholds.MinQuoteQty = 10

	res := f.run(t)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, engine.ReasonInsufficientQuote, res.Decision.Reason)
	assert.Empty(t, f.store.saved())
	assert.Empty(t, f.right.Orders())
}

func TestRunPersistRejections(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.balances.Replace("right", map[market.Asset]float64{"USDT": 0}))
	f.cfg.Thresholds.MinQuoteQty = 10
	f.cfg.PersistRejections = true

	res := f.run(t)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	docs := f.store.saved()
	require.Len(t, docs, 1)
	assert.False(t, docs[0].OrdersVerified)
	assert.Nil(t, docs[0].Actual)
	assert.Equal(t, "INSUFFICIENT_QUOTE", docs[0].Reason)
}

func TestRunSimulateStopsBeforePlacement(t *testing.T) {
	f := newFixture(t)
	f.cfg.Simulate = true

	res := f.run(t)

	assert.Equal(t, OutcomeSimulated, res.Outcome)
	assert.True(t, res.Decision.Accepted)
	assert.Empty(t, f.right.Orders())
	assert.Empty(t, f.left.Orders())
	assert.Empty(t, f.store.saved())
	assert.Equal(t, 1e6, f.balances.Get("right", "USDT"), "simulation never settles")
}

func TestRunPlacementRejectedCancelsLoneLeg(t *testing.T) {
	f := newFixture(t)
	f.right.RejectOrders = true

	res := f.run(t)

	assert.Equal(t, OutcomePlacementRejected, res.Outcome)
	assert.Empty(t, f.right.Orders())
	assert.Len(t, f.left.Orders(), 1, "accepted leg was dispatched before the reject was known")

	docs := f.store.saved()
	require.Len(t, docs, 1)
	assert.False(t, docs[0].OrdersVerified)
	require.NotNil(t, docs[0].Actual)
	assert.False(t, docs[0].Actual.Ask.Filled)
	assert.Empty(t, docs[0].Actual.Ask.ExchangeOrderID)

	assert.Equal(t, 1e6, f.balances.Get("right", "USDT"), "nothing settles on abort")
	assert.Equal(t, 70.0, f.balances.Get("left", "ETH"))
}

func TestRunPartialFill(t *testing.T) {
	f := newFixture(t)
	f.left.StallFills = true

	res := f.run(t)

	assert.Equal(t, OutcomePartialFill, res.Outcome)
	docs := f.store.saved()
	require.Len(t, docs, 1)
	assert.False(t, docs[0].OrdersVerified)
	require.NotNil(t, docs[0].Actual)
	assert.True(t, docs[0].Actual.Ask.Filled)
	assert.False(t, docs[0].Actual.Bid.Filled)
	assert.Equal(t, 70.0, f.balances.Get("left", "ETH"), "no settlement without both fills")
}

func TestRunShutdownMidVerificationStillPersists(t *testing.T) {
	f := newFixture(t)
	f.left.StallFills = true
	f.cfg.PollBase = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	c := NewController(f.ask, f.bid, f.right, f.left, f.balances, f.store, nil, f.cfg, zerolog.Nop())
	res, err := c.Run(ctx)

	// The stop is honoured only after the trade reached a terminal state
	// and its record hit the store.
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomePartialFill, res.Outcome)
	require.Len(t, f.right.Orders(), 1)
	require.Len(t, f.left.Orders(), 1)

	docs := f.store.saved()
	require.Len(t, docs, 1)
	assert.False(t, docs[0].OrdersVerified)
	require.NotNil(t, docs[0].Actual)
	assert.True(t, docs[0].Actual.Ask.Filled)
	assert.False(t, docs[0].Actual.Bid.Filled)
}

func TestRunRejectionLogLevelFollowsConfig(t *testing.T) {
	reject := func(f *fixture) {
		require.NoError(t, f.balances.Replace("right", map[market.Asset]float64{"USDT": 0}))
		f.cfg.Thresholds.MinQuoteQty = 10
	}

	t.Run("quiet by default", func(t *testing.T) {
		f := newFixture(t)
		reject(f)
		var buf bytes.Buffer
		c := NewController(f.ask, f.bid, f.right, f.left, f.balances, f.store, nil, f.cfg, zerolog.New(&buf))
		_, err := c.Run(context.Background())
		require.NoError(t, err)

		assert.Contains(t, buf.String(), `"rejected"`)
		assert.Contains(t, buf.String(), `"level":"debug"`)
	})

	t.Run("continuous logging promotes to info", func(t *testing.T) {
		f := newFixture(t)
		reject(f)
		f.cfg.LogContinuously = true
		var buf bytes.Buffer
		c := NewController(f.ask, f.bid, f.right, f.left, f.balances, f.store, nil, f.cfg, zerolog.New(&buf))
		_, err := c.Run(context.Background())
		require.NoError(t, err)

		line := buf.String()
		require.True(t, strings.Contains(line, `"rejected"`))
		assert.Contains(t, line, `"level":"info"`)
	})
}

func TestRunPerformanceModeMutesOpportunityLog(t *testing.T) {
	f := newFixture(t)
	f.cfg.PerformanceMode = true

	var buf bytes.Buffer
	c := NewController(f.ask, f.bid, f.right, f.left, f.balances, f.store, nil, f.cfg, zerolog.New(&buf))
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.NotContains(t, buf.String(), "opportunity accepted")
}

func TestRunSameVenueRejected(t *testing.T) {
	f := newFixture(t)
	f.ask.Venue = "left"

	res := f.run(t)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, engine.ReasonSameVenue, res.Decision.Reason)
}
