// Package app assembles a worker from configuration: venue adapters, the
// document store, collectors, the mirror, telemetry, the ops server, and the
// dispatch loop. Construction performs the startup preload; Run starts the
// task group.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/collector"
	"github.com/lexmulier/crypton/internal/config"
	"github.com/lexmulier/crypton/internal/engine"
	opshttp "github.com/lexmulier/crypton/internal/interfaces/http"
	"github.com/lexmulier/crypton/internal/loop"
	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/mirror"
	"github.com/lexmulier/crypton/internal/net/ratelimit"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/persistence/postgres"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/trade"
	"github.com/lexmulier/crypton/internal/venue"
)

// defaultFees apply when a venue refuses its fee endpoint.
var defaultFees = market.FeeSchedule{Maker: 0.002, Taker: 0.002}

// App is one fully wired worker.
type App struct {
	Worker   *config.Worker
	Pair     market.Pair
	Adapters map[string]venue.Adapter
	Metas    map[string]market.Meta
	Fees     map[string]market.FeeSchedule
	Balances *balance.Cache
	Store    persistence.Store
	Metrics  *telemetry.Metrics
	Loop     *loop.Loop

	db        *sqlx.DB
	redis     *redis.Client
	runners   []func(context.Context) error
	ready     atomic.Bool
	startedAt time.Time
	simulate  bool
	log       zerolog.Logger
}

// Venues builds just the adapters for a worker, for the reporting
// subcommands that need venue access without the full engine.
func Venues(worker *config.Worker, appCfg *config.App, log zerolog.Logger) (map[string]venue.Adapter, error) {
	creds, err := config.LoadCredentials(appCfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewManager(10, 20)
	adapters := make(map[string]venue.Adapter, len(worker.Exchanges))
	for _, id := range worker.Exchanges {
		if worker.Settings[id].AuthEndpoints && creds[id] == (venue.Credentials{}) {
			return nil, fmt.Errorf("venue %s: auth_endpoints set but no credentials configured", id)
		}
		endpoints := venue.Endpoints{
			BaseURL:   appCfg.Venues[id].BaseURL,
			StreamURL: appCfg.Venues[id].StreamURL,
		}
		adapter, err := venue.New(id, endpoints, creds[id], limiter, log)
		if err != nil {
			return nil, err
		}
		adapters[id] = adapter
	}
	return adapters, nil
}

// Build wires and preloads a worker. Errors here are fatal startup errors.
func Build(ctx context.Context, worker *config.Worker, appCfg *config.App, simulate bool, log zerolog.Logger) (*App, error) {
	a := &App{
		Worker:    worker,
		Adapters:  map[string]venue.Adapter{},
		Metas:     map[string]market.Meta{},
		Fees:      map[string]market.FeeSchedule{},
		Metrics:   telemetry.NewMetrics(),
		startedAt: time.Now(),
		simulate:  simulate,
		log:       log,
	}

	adapters, err := Venues(worker, appCfg, log)
	if err != nil {
		return nil, err
	}
	a.Adapters = adapters

	if appCfg.PostgresDSN != "" {
		db, err := sqlx.Open("postgres", appCfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		a.db = db
		a.Store = postgres.NewStore(db, postgres.DefaultTimeout)
	}

	var bookMirror collector.Mirror
	if appCfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: appCfg.RedisAddr})
		bookMirror = mirror.NewRedis(a.redis, mirror.DefaultTTL, log)
	}

	if err := a.preload(ctx); err != nil {
		return nil, err
	}

	legs, err := a.buildLegs(bookMirror)
	if err != nil {
		return nil, err
	}

	a.Loop = loop.New(legs[0], legs[1], a.Balances, a.Store, a.Metrics, loop.Config{
		MinSleep: time.Duration(worker.LoopSleep() * float64(time.Second)),
		Trade: trade.Config{
			MarketPairID: a.Pair.Key,
			Thresholds: engine.Thresholds{
				MinBaseQty:         a.Pair.MinBaseQty,
				MinQuoteQty:        a.Pair.MinQuoteQty,
				BasePrecision:      a.Pair.BasePrecision,
				QuotePrecision:     a.Pair.QuotePrecision,
				RequireBothProfits: worker.RequireBothProfits(),
			},
			Simulate:          simulate,
			PersistRejections: worker.PersistRejections,
			LogContinuously:   worker.LogContinuously,
			PerformanceMode:   worker.PerformanceMode,
		},
	}, log)
	a.runners = append(a.runners, a.Loop.Run)

	if appCfg.OpsAddr != "" {
		ops := opshttp.NewServer(appCfg.OpsAddr, a.Metrics, a.status, a.ready.Load, log)
		a.runners = append(a.runners, ops.Run)
	}
	return a, nil
}

// preload resolves the pair and seeds balances, per the startup contract: a
// symbol missing on either venue or an unreachable venue is fatal.
func (a *App) preload(ctx context.Context) error {
	symbol := a.Worker.Symbol()

	for _, id := range a.Worker.Exchanges {
		adapter := a.Adapters[id]
		metas, err := adapter.FetchMarkets(ctx)
		if err != nil {
			return fmt.Errorf("preload markets on %s: %w", id, err)
		}
		found := false
		for _, meta := range metas {
			if meta.Symbol == symbol {
				a.Metas[id] = meta
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("preload: %s does not trade %s", id, symbol)
		}

		fees, err := adapter.FetchFees(ctx, symbol)
		if err != nil {
			a.log.Warn().Err(err).Str("venue", id).Msg("fee fetch refused, using defaults")
			fees = defaultFees
		}
		a.Fees[id] = fees
	}

	left, right := a.Worker.Exchanges[0], a.Worker.Exchanges[1]
	pair, err := market.ResolvePair(a.Metas[left], a.Metas[right], a.Worker.Overrides())
	if err != nil {
		return err
	}
	a.Pair = pair

	a.Balances = balance.NewCache(a.Worker.Exchanges...)
	for _, id := range a.Worker.Exchanges {
		assets, err := a.Adapters[id].FetchBalance(ctx)
		if err != nil {
			return fmt.Errorf("preload balances on %s: %w", id, err)
		}
		if err := a.Balances.Replace(id, assets); err != nil {
			return err
		}
		a.Metrics.RecordBalanceRefresh(id, "venue")
		if a.Store != nil {
			if err := a.Store.UpsertBalances(ctx, id, assets); err != nil {
				a.log.Warn().Err(err).Str("venue", id).Msg("balance upsert failed")
			}
		}
	}

	if a.Store != nil {
		if err := a.Store.TouchMarketPair(ctx, pair.Key, pair.Symbol, pair.Venues); err != nil {
			a.log.Warn().Err(err).Msg("market pair touch failed")
		}
	}

	a.log.Info().
		Str("pair", pair.Key).
		Float64("min_base_qty", pair.MinBaseQty).
		Float64("min_quote_qty", pair.MinQuoteQty).
		Int("base_precision", pair.BasePrecision).
		Int("quote_precision", pair.QuotePrecision).
		Msg("pair resolved")
	return nil
}

// buildLegs constructs one collector and loop leg per venue.
func (a *App) buildLegs(bookMirror collector.Mirror) ([2]loop.Leg, error) {
	var legs [2]loop.Leg
	symbol := a.Worker.Symbol()

	for i, id := range a.Worker.Exchanges {
		adapter := a.Adapters[id]
		settings := a.Worker.Settings[id]
		slot := &collector.Slot{}
		sleep := time.Duration(settings.CollectorSleep() * float64(time.Second))

		switch settings.CollectorType {
		case "stream":
			streamer, ok := adapter.(venue.Streamer)
			if !ok {
				return legs, fmt.Errorf("venue %s does not serve a depth stream", id)
			}
			c := collector.NewStream(id, streamer, symbol, slot, bookMirror, a.Metrics, a.log)
			a.runners = append(a.runners, c.Run)
		default:
			c := collector.NewRequest(adapter, symbol, sleep, slot, bookMirror, a.Metrics, a.log)
			a.runners = append(a.runners, c.Run)
		}

		legs[i] = loop.Leg{
			Adapter:         adapter,
			Slot:            slot,
			Meta:            a.Metas[id],
			Fee:             a.Fees[id].Taker,
			Layered:         settings.Layered(),
			MinProfitPerc:   settings.ProfitPerc(),
			MinProfitAmount: settings.ProfitAmount(),
		}
	}
	return legs, nil
}

// Run starts every task and blocks until the context is cancelled or a task
// fails fatally.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, len(a.runners))
	var wg sync.WaitGroup
	for _, runner := range a.runners {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- err
			}
		}(runner)
	}
	a.ready.Store(true)
	a.log.Info().Bool("simulate", a.simulate).Msg("worker running")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case err := <-errc:
		cancel()
		<-done
		return err
	case <-done:
		return nil
	case <-ctx.Done():
		<-done
		return nil
	}
}

// Close releases the external connections.
func (a *App) Close() error {
	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) status() opshttp.Status {
	stats := a.Loop.Stats()
	return opshttp.Status{
		Worker:      a.Worker.Name,
		Market:      a.Worker.Market,
		Venues:      a.Pair.Venues,
		Simulate:    a.simulate,
		Ticks:       stats.Ticks,
		Trades:      stats.Trades,
		LastReason:  stats.LastReason,
		LastTradeAt: stats.LastTradeAt,
		StartedAt:   a.startedAt,
		BookAges:    agesSeconds(stats.BookAges),
		BalanceAges: agesSeconds(stats.BalanceAges),
	}
}

func agesSeconds(ages map[string]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(ages))
	for name, age := range ages {
		out[name] = age.Seconds()
	}
	return out
}
