package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAllowBurst(t *testing.T) {
	m := NewManager(2.0, 2)

	assert.True(t, m.Allow("binance"))
	assert.True(t, m.Allow("binance"))
	assert.False(t, m.Allow("binance"), "burst of two is exhausted")
}

func TestManagerVenuesAreIndependent(t *testing.T) {
	m := NewManager(1.0, 1)

	assert.True(t, m.Allow("binance"))
	assert.False(t, m.Allow("binance"))
	assert.True(t, m.Allow("kucoin"), "one venue's bucket never starves another")
}

func TestManagerConfigureOverridesDefault(t *testing.T) {
	m := NewManager(1.0, 1)
	m.Configure("kucoin", 100.0, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, m.Allow("kucoin"), "configured burst %d", i)
	}
	assert.False(t, m.Allow("kucoin"))
}

func TestManagerWaitHonoursContext(t *testing.T) {
	m := NewManager(0.1, 1)
	require.True(t, m.Allow("binance"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Wait(ctx, "binance")
	assert.Error(t, err, "an empty bucket must respect the deadline")
}

func TestManagerWaitPasses(t *testing.T) {
	m := NewManager(1000.0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, m.Wait(ctx, "binance"))
	assert.NoError(t, m.Wait(ctx, "binance"))
}
