package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmulier/crypton/internal/market"
)

func TestPublishTopOfBook(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewRedis(client, 5*time.Second, zerolog.Nop())

	observed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	snap := &market.Snapshot{
		Venue:    "binance",
		Symbol:   market.Symbol{Base: "ETH", Quote: "USDT"},
		Asks:     []market.Level{{Price: 1006, Qty: 10}, {Price: 1007, Qty: 20}},
		Bids:     []market.Level{{Price: 1005, Qty: 12}},
		Observed: observed,
	}

	mock.ExpectSet(
		"crypton:book:binance:ETH/USDT",
		[]byte(`{"bid":1005,"ask":1006,"bid_qty":12,"ask_qty":10,"ts":"2026-08-25T12:00:00Z"}`),
		5*time.Second,
	).SetVal("OK")

	require.NoError(t, m.Publish(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOneSidedBook(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewRedis(client, time.Second, zerolog.Nop())

	snap := &market.Snapshot{
		Venue:    "kucoin",
		Symbol:   market.Symbol{Base: "ETH", Quote: "USDT"},
		Asks:     []market.Level{{Price: 1006, Qty: 10}},
		Observed: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectSet(
		"crypton:book:kucoin:ETH/USDT",
		[]byte(`{"bid":0,"ask":1006,"bid_qty":0,"ask_qty":10,"ts":"2026-08-25T12:00:00Z"}`),
		time.Second,
	).SetVal("OK")

	require.NoError(t, m.Publish(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishErrorSurfaces(t *testing.T) {
	client, mock := redismock.NewClientMock()
	m := NewRedis(client, time.Second, zerolog.Nop())

	snap := &market.Snapshot{
		Venue:  "binance",
		Symbol: market.Symbol{Base: "ETH", Quote: "USDT"},
		Asks:   []market.Level{{Price: 1006, Qty: 10}},
		Bids:   []market.Level{{Price: 1005, Qty: 12}},
	}
	mock.Regexp().ExpectSet(`crypton:book:binance:ETH/USDT`, `.*`, time.Second).
		SetErr(assert.AnError)

	assert.Error(t, m.Publish(context.Background(), snap))
}
