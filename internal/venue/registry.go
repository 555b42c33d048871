package venue

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/net/ratelimit"
)

// Credentials authenticate one venue. Password is the passphrase on venues
// that require one; it is never logged.
type Credentials struct {
	Key      string
	Secret   string
	Password string
}

// Endpoints are the per-venue base URLs, overridable from configuration for
// sandboxes and tests.
type Endpoints struct {
	BaseURL   string
	StreamURL string
}

// Defaults per venue id. An empty Endpoints field falls back to these.
var defaultEndpoints = map[string]Endpoints{
	"binance":  {BaseURL: "https://api.binance.com"},
	"kucoin":   {BaseURL: "https://api.kucoin.com"},
	"ascendex": {BaseURL: "https://ascendex.com", StreamURL: "wss://ascendex.com/api/pro/v2/stream"},
}

// New builds the adapter for a venue id. Unknown ids are a configuration
// error, fatal at startup.
func New(id string, endpoints Endpoints, creds Credentials, limiter *ratelimit.Manager, log zerolog.Logger) (Adapter, error) {
	def := defaultEndpoints[id]
	if endpoints.BaseURL == "" {
		endpoints.BaseURL = def.BaseURL
	}
	if endpoints.StreamURL == "" {
		endpoints.StreamURL = def.StreamURL
	}

	transport := NewTransport(id, limiter, log)
	switch id {
	case "binance":
		return NewBinance(transport, endpoints.BaseURL, creds, log), nil
	case "kucoin":
		return NewKuCoin(transport, endpoints.BaseURL, creds, log), nil
	case "ascendex":
		fallback := market.FeeSchedule{Maker: 0.002, Taker: 0.002}
		return NewAscendex(transport, endpoints.BaseURL, endpoints.StreamURL, creds, fallback, log), nil
	default:
		return nil, fmt.Errorf("venue: unknown venue id %q", id)
	}
}
