package venue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/lexmulier/crypton/internal/net/ratelimit"
)

// DefaultTimeout bounds every venue request.
const DefaultTimeout = 10 * time.Second

// Transport is the shared HTTP plumbing under every REST dialect: one rate
// limiter slot, one circuit breaker, and uniform error mapping per venue.
// GETs retry once on retryable failures; writes execute at most once.
type Transport struct {
	venue   string
	client  *http.Client
	limiter *ratelimit.Manager
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     zerolog.Logger
}

// NewTransport builds the transport for one venue. limiter may be nil to
// run unpaced (tests).
func NewTransport(venueID string, limiter *ratelimit.Manager, log zerolog.Logger) *Transport {
	return &Transport{
		venue:   venueID,
		client:  &http.Client{},
		limiter: limiter,
		timeout: DefaultTimeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    venueID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: log.With().Str("component", "transport").Str("venue", venueID).Logger(),
	}
}

// Get performs a GET, retrying once when the failure looks transient.
func (t *Transport) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	body, err := t.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil && IsRetryable(err) && ctx.Err() == nil {
		t.log.Debug().Err(err).Msg("retrying idempotent request")
		return t.do(ctx, http.MethodGet, url, headers, nil)
	}
	return body, err
}

// Post performs a POST exactly once. A failure leaves the order state at the
// venue unknown; the caller decides how to react.
func (t *Transport) Post(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	return t.do(ctx, http.MethodPost, url, headers, payload)
}

// Delete performs a DELETE exactly once. payload may be nil; some dialects
// cancel with a JSON body.
func (t *Transport) Delete(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	return t.do(ctx, http.MethodDelete, url, headers, payload)
}

func (t *Transport) do(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	op := method + " " + url

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, t.venue); err != nil {
			return nil, NewError(t.venue, op, KindNetwork, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	started := time.Now()
	out, err := t.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, NewError(t.venue, op, KindNetwork, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, NewError(t.venue, op, KindNetwork, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, NewError(t.venue, op, KindNetwork, err)
		}
		if kind, bad := classifyStatus(resp.StatusCode); bad {
			return nil, Errorf(t.venue, op, kind, "status %d: %s", resp.StatusCode, truncate(body))
		}
		return body, nil
	})

	t.log.Debug().
		Str("method", method).
		Dur("took", time.Since(started)).
		Bool("ok", err == nil).
		Msg("venue request")

	if err != nil {
		var ae *AdapterError
		if !errors.As(err, &ae) {
			// Breaker-open and half-open rejections arrive untyped.
			return nil, NewError(t.venue, op, KindNetwork, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func classifyStatus(code int) (ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth, true
	case code == http.StatusTooManyRequests || code == http.StatusTeapot:
		return KindRateLimit, true
	case code >= 500:
		return KindNetwork, true
	default:
		return KindVenue, true
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
