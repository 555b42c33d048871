package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmulier/crypton/internal/telemetry"
)

func newTestServer(ready bool) *Server {
	metrics := telemetry.NewMetrics()
	metrics.RecordTick()
	status := func() Status {
		return Status{
			Worker:      "eth-usdt-binance-kucoin",
			Market:      "ETH/USDT",
			Venues:      []string{"binance", "kucoin"},
			Simulate:    true,
			Ticks:       42,
			BookAges:    map[string]float64{"binance": 0.25, "kucoin": 1.5},
			BalanceAges: map[string]float64{"binance": 12, "kucoin": 12},
		}
	}
	return NewServer("127.0.0.1:0", metrics, status, func() bool { return ready }, zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(true), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newTestServer(true), "/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, newTestServer(false), "/ready").Code)
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestServer(true), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ETH/USDT", st.Market)
	assert.Equal(t, []string{"binance", "kucoin"}, st.Venues)
	assert.True(t, st.Simulate)
	assert.EqualValues(t, 42, st.Ticks)
	assert.Equal(t, 1.5, st.BookAges["kucoin"])
	assert.Equal(t, 12.0, st.BalanceAges["binance"])
}

func TestMetricsExposition(t *testing.T) {
	rec := get(t, newTestServer(true), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crypton_ticks_total 1")
}

func TestNotFound(t *testing.T) {
	rec := get(t, newTestServer(true), "/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found","path":"/nope"}`, rec.Body.String())
}

func TestStatusNilFuncServesZeroDocument(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil, nil, zerolog.Nop())
	rec := get(t, s, "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, time.Time{}, st.StartedAt)
}
