package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmulier/crypton/internal/market"
)

var ethusdt = market.Symbol{Base: "ETH", Quote: "USDT"}

func testMeta(venue string) market.Meta {
	return market.Meta{
		Venue:          venue,
		Symbol:         ethusdt,
		BasePrecision:  8,
		QuotePrecision: 8,
		PricePrecision: 8,
	}
}

func asksSnapshot(venue string, levels []market.Level) *market.Snapshot {
	return &market.Snapshot{Venue: venue, Symbol: ethusdt, Asks: levels, Bids: []market.Level{{Price: 1, Qty: 1}}}
}

func bidsSnapshot(venue string, levels []market.Level) *market.Snapshot {
	return &market.Snapshot{Venue: venue, Symbol: ethusdt, Bids: levels, Asks: []market.Level{{Price: 1e9, Qty: 1}}}
}

func deepAsks() []market.Level {
	return []market.Level{
		{Price: 1006, Qty: 10}, {Price: 1007, Qty: 20}, {Price: 1008, Qty: 50}, {Price: 1009, Qty: 10}, {Price: 1010, Qty: 20},
		{Price: 1011, Qty: 50}, {Price: 1012, Qty: 10}, {Price: 1013, Qty: 20}, {Price: 1014, Qty: 50},
	}
}

func deepBids() []market.Level {
	return []market.Level{
		{Price: 1015, Qty: 10}, {Price: 1014, Qty: 20}, {Price: 1013, Qty: 50}, {Price: 1012, Qty: 10}, {Price: 1011, Qty: 20},
		{Price: 1010, Qty: 50}, {Price: 1009, Qty: 10}, {Price: 1008, Qty: 20}, {Price: 1007, Qty: 50},
	}
}

func newTestAsk(t *testing.T, levels []market.Level) *Order {
	t.Helper()
	o, err := NewAsk(asksSnapshot("right", levels), testMeta("right"), 0.002, true)
	require.NoError(t, err)
	return o
}

func newTestBid(t *testing.T, levels []market.Level) *Order {
	t.Helper()
	o, err := NewBid(bidsSnapshot("left", levels), testMeta("left"), 0.002, true)
	require.NoError(t, err)
	return o
}

func TestFeeAdjust(t *testing.T) {
	ask := newTestAsk(t, deepAsks())
	bid := newTestBid(t, deepBids())

	assert.InDelta(t, 1008.012, ask.FeeAdjust(1006), 1e-9, "buying costs more")
	assert.InDelta(t, 1012.97, bid.FeeAdjust(1015), 1e-9, "selling yields less")

	assert.InDelta(t, 1006, ask.FirstPrice(), 1e-9)
	assert.InDelta(t, 1008.012, ask.FirstPriceWithFee(), 1e-9)
	assert.InDelta(t, 1012.97, bid.FirstPriceWithFee(), 1e-9)
}

func TestOpportunityAskStopsWhereArbitrageEnds(t *testing.T) {
	ask := newTestAsk(t, deepAsks())

	// Against a sell yield of 1012.97 the sixth ask level (1011 -> 1013.022
	// with fee) is no longer profitable.
	ask.Opportunity(1012.97, QuoteCap(1e6))

	require.True(t, ask.Found)
	assert.InDelta(t, 110, ask.BaseQty, 1e-9)
	assert.InDelta(t, 111111.78, ask.QuoteQty, 1e-6)
	assert.InDelta(t, 1010, ask.Price, 1e-9)
	assert.InDelta(t, 1012.02, ask.PriceWithFee, 1e-9)
}

func TestOpportunityBidStopsWhereArbitrageEnds(t *testing.T) {
	bid := newTestBid(t, deepBids())

	// Against a buy cost of 1008.012 the sixth bid level (1010 -> 1007.98
	// with fee) is no longer profitable.
	bid.Opportunity(1008.012, BaseCap(1e5))

	require.True(t, bid.Found)
	assert.InDelta(t, 110, bid.BaseQty, 1e-9)
	assert.InDelta(t, 111197.16, bid.QuoteQty, 1e-6)
	assert.InDelta(t, 1011, bid.Price, 1e-9)
	assert.InDelta(t, 1008.978, bid.PriceWithFee, 1e-9)
}

func TestOpportunityBaseCapScalesFinalLevel(t *testing.T) {
	bid := newTestBid(t, deepBids())

	bid.Opportunity(1008.012, BaseCap(70))

	require.True(t, bid.Found)
	assert.InDelta(t, 70, bid.BaseQty, 1e-9)
	// 10@1012.97 + 20@1011.972 + 40@1010.974 after the 1013 level scales.
	assert.InDelta(t, 70808.10, bid.QuoteQty, 1e-6)
	assert.InDelta(t, 1013, bid.Price, 1e-9)
	assert.InDelta(t, 1010.974, bid.PriceWithFee, 1e-9)
}

func TestOpportunityRecalibrationTightensCap(t *testing.T) {
	ask := newTestAsk(t, deepAsks())

	ask.Opportunity(1012.97, QuoteCap(1e6))
	require.InDelta(t, 110, ask.BaseQty, 1e-9)

	// Re-running with a tighter base cap overwrites the previous result.
	ask.Opportunity(1012.97, BaseCap(70))

	require.True(t, ask.Found)
	assert.InDelta(t, 70, ask.BaseQty, 1e-9)
	// 10@1008.012 + 20@1009.014 + 40@1010.016.
	assert.InDelta(t, 70661.04, ask.QuoteQty, 1e-6)
	assert.InDelta(t, 1008, ask.Price, 1e-9)
	assert.InDelta(t, 1010.016, ask.PriceWithFee, 1e-9)
}

func TestOpportunityQuoteCapScalesFinalLevel(t *testing.T) {
	ask := newTestAsk(t, deepAsks())

	ask.Opportunity(1012.97, QuoteCap(75000))

	require.True(t, ask.Found)
	assert.InDelta(t, 75000, ask.QuoteQty, 1e-6, "spends exactly the cap")
	assert.InDelta(t, 74.295932, ask.BaseQty, 1e-5)
	assert.InDelta(t, 1008, ask.Price, 1e-9)
}

func TestOpportunityCapExhaustionStopsMidBook(t *testing.T) {
	bid := newTestBid(t, deepBids())

	bid.Opportunity(1008.012, BaseCap(30))

	require.True(t, bid.Found)
	assert.InDelta(t, 30, bid.BaseQty, 1e-9)
	assert.InDelta(t, 30369.14, bid.QuoteQty, 1e-6)
	assert.InDelta(t, 1014, bid.Price, 1e-9)
}

func TestOpportunityNoArbitrage(t *testing.T) {
	ask := newTestAsk(t, []market.Level{{Price: 1020, Qty: 10}, {Price: 1021, Qty: 20}})

	// 1020*1.002 = 1022.04 never beats a sell yield of 1012.97.
	ask.Opportunity(1012.97, QuoteCap(1e6))

	assert.False(t, ask.Found)
	assert.Zero(t, ask.BaseQty)
	assert.Zero(t, ask.QuoteQty)
}

func TestOpportunityZeroCapTakesNothing(t *testing.T) {
	ask := newTestAsk(t, deepAsks())

	ask.Opportunity(1012.97, QuoteCap(0))

	assert.True(t, ask.Found, "arbitrage exists even though nothing is affordable")
	assert.Zero(t, ask.BaseQty)
	assert.Zero(t, ask.QuoteQty)
}

func TestOpportunityFlatQuoteCalc(t *testing.T) {
	o, err := NewAsk(asksSnapshot("right", deepAsks()), testMeta("right"), 0.002, false)
	require.NoError(t, err)

	o.Opportunity(1012.97, BaseCap(70))

	require.True(t, o.Found)
	assert.InDelta(t, 70, o.BaseQty, 1e-9)
	// Flat mode derives the quote from the final level: 1010.016 * 70.
	assert.InDelta(t, 70701.12, o.QuoteQty, 1e-6)
}

func TestOpportunityIdempotent(t *testing.T) {
	a := newTestAsk(t, deepAsks())
	b := newTestAsk(t, deepAsks())

	a.Opportunity(1012.97, QuoteCap(75000))
	b.Opportunity(1012.97, QuoteCap(75000))
	a.Opportunity(1012.97, QuoteCap(75000))

	assert.Equal(t, b.BaseQty, a.BaseQty)
	assert.Equal(t, b.QuoteQty, a.QuoteQty)
	assert.Equal(t, b.Price, a.Price)
}
