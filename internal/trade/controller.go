// Package trade runs one candidate arbitrage from evaluation to its terminal
// outcome: place both legs, verify the fills, settle the balance cache, and
// record the attempt.
package trade

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/balance"
	"github.com/lexmulier/crypton/internal/book"
	"github.com/lexmulier/crypton/internal/engine"
	"github.com/lexmulier/crypton/internal/numeric"
	"github.com/lexmulier/crypton/internal/persistence"
	"github.com/lexmulier/crypton/internal/telemetry"
	"github.com/lexmulier/crypton/internal/venue"
)

// Outcome is the terminal state of one controller run.
type Outcome string

const (
	OutcomeRejected          Outcome = "REJECTED"
	OutcomeSimulated         Outcome = "SIMULATED"
	OutcomePlacementRejected Outcome = "PLACEMENT_REJECTED"
	OutcomePartialFill       Outcome = "PARTIAL_FILL"
	OutcomeSuccess           Outcome = "TRADE_SUCCESS"
)

// Config carries the per-pair settings a controller run needs.
type Config struct {
	MarketPairID string
	Thresholds   engine.Thresholds

	// Simulate stops an accepted decision before placement.
	Simulate bool
	// PersistRejections records rejected evaluations for audit.
	PersistRejections bool
	// LogContinuously raises per-tick rejection logs from debug to info.
	LogContinuously bool
	// PerformanceMode drops the per-opportunity detail log on accepts.
	PerformanceMode bool

	// Fill verification: PollAttempts polls, sleeping PollBase + i*PollStep
	// before poll i. Zero values take the defaults (20, 1s, 100ms).
	PollAttempts int
	PollBase     time.Duration
	PollStep     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 20
	}
	if c.PollBase <= 0 {
		c.PollBase = time.Second
	}
	if c.PollStep < 0 {
		c.PollStep = 0
	} else if c.PollStep == 0 {
		c.PollStep = 100 * time.Millisecond
	}
	return c
}

// Result reports what a run decided and what it recorded.
type Result struct {
	Outcome  Outcome
	Decision engine.Decision
	Document *persistence.TradeDocument
}

// Controller owns one candidate trade. Construct per candidate, run once.
type Controller struct {
	id  uuid.UUID
	ask *book.Order
	bid *book.Order

	askAdapter venue.Adapter
	bidAdapter venue.Adapter

	balances *balance.Cache
	store    persistence.Store
	metrics  *telemetry.Metrics
	cfg      Config
	log      zerolog.Logger

	// Balance snapshots captured at decision time for the trade record.
	askBalances *balance.Snapshot
	bidBalances *balance.Snapshot
}

// NewController builds a controller for one ask/bid leg pair. store and
// metrics may be nil.
func NewController(ask, bid *book.Order, askAdapter, bidAdapter venue.Adapter,
	balances *balance.Cache, store persistence.Store, metrics *telemetry.Metrics,
	cfg Config, log zerolog.Logger) *Controller {
	id := uuid.New()
	return &Controller{
		id:         id,
		ask:        ask,
		bid:        bid,
		askAdapter: askAdapter,
		bidAdapter: bidAdapter,
		balances:   balances,
		store:      store,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		log: log.With().
			Str("component", "trade").
			Str("trade_id", id.String()).
			Str("ask_venue", ask.Venue).
			Str("bid_venue", bid.Venue).
			Logger(),
	}
}

// Run drives the trade to a terminal outcome. The returned error is fatal
// for the worker: an engine invariant violation or a cancelled context. A
// cancellation arriving after placement started is reported only once the
// trade has reached a terminal state and its record is persisted.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	quote := c.ask.Symbol.Quote
	base := c.bid.Symbol.Base
	c.askBalances = c.balances.Venue(c.ask.Venue)
	c.bidBalances = c.balances.Venue(c.bid.Venue)

	decision, err := engine.Evaluate(c.ask, c.bid,
		c.balances.Get(c.ask.Venue, quote),
		c.balances.Get(c.bid.Venue, base),
		c.cfg.Thresholds)
	if err != nil {
		return Result{}, err
	}
	c.metrics.RecordDecision(string(decision.Reason))

	if !decision.Accepted {
		evt := c.log.Debug()
		if c.cfg.LogContinuously {
			evt = c.log.Info()
		}
		evt.Str("reason", string(decision.Reason)).Msg("rejected")
		res := Result{Outcome: OutcomeRejected, Decision: decision}
		if c.cfg.PersistRejections {
			doc := c.document(decision, string(decision.Reason), false, false)
			c.save(ctx, doc)
			res.Document = &doc
		}
		return res, nil
	}

	if !c.cfg.PerformanceMode {
		c.log.Info().
			Float64("order_base", decision.OrderBaseQty).
			Float64("order_quote", decision.OrderQuoteQty).
			Float64("profit_quote", decision.ProfitQuote).
			Float64("profit_perc", decision.ProfitPerc).
			Msg("opportunity accepted")
	}

	if c.cfg.Simulate {
		c.log.Info().Msg("simulate mode, not placing")
		return Result{Outcome: OutcomeSimulated, Decision: decision}, nil
	}

	// Live orders must never be abandoned mid-flight: from placement on the
	// trade runs on a cancellation-immune context and records its terminal
	// state before any shutdown is honoured.
	opCtx := context.WithoutCancel(ctx)
	outcome := c.place(opCtx, decision)

	doc := c.document(decision, string(outcome), true, outcome == OutcomeSuccess)
	c.save(opCtx, doc)
	c.metrics.RecordTrade(string(outcome))
	return Result{Outcome: outcome, Decision: decision, Document: &doc}, ctx.Err()
}

// place dispatches both legs in parallel and sees them through verification.
func (c *Controller) place(ctx context.Context, d engine.Decision) Outcome {
	id := c.id.String()
	askPrice := numeric.Round(c.ask.Price, c.ask.Meta.PricePrecision)
	bidPrice := numeric.Round(c.bid.Price, c.bid.Meta.PricePrecision)

	var wg sync.WaitGroup
	var askErr, bidErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		askErr = c.ask.Buy(ctx, c.askAdapter, id, d.OrderBaseQty, askPrice)
	}()
	go func() {
		defer wg.Done()
		bidErr = c.bid.Sell(ctx, c.bidAdapter, id, d.OrderBaseQty, bidPrice)
	}()
	wg.Wait()

	if askErr != nil {
		c.log.Error().Err(askErr).Msg("ask leg placement failed")
	}
	if bidErr != nil {
		c.log.Error().Err(bidErr).Msg("bid leg placement failed")
	}

	askPlaced := c.ask.Status == book.StatusActive
	bidPlaced := c.bid.Status == book.StatusActive
	switch {
	case askPlaced && bidPlaced:
		return c.verify(ctx, d)
	case askPlaced:
		c.cancel(ctx, c.ask, c.askAdapter)
		return OutcomePlacementRejected
	case bidPlaced:
		c.cancel(ctx, c.bid, c.bidAdapter)
		return OutcomePlacementRejected
	default:
		return OutcomePlacementRejected
	}
}

// verify polls both legs until filled or the attempts run out. The poll
// budget is bounded wall-clock time; shutdown does not cut it short.
func (c *Controller) verify(ctx context.Context, d engine.Decision) Outcome {
	for i := 0; i < c.cfg.PollAttempts; i++ {
		if c.ask.Filled() && c.bid.Filled() {
			break
		}

		time.Sleep(c.cfg.PollBase + time.Duration(i)*c.cfg.PollStep)

		if !c.ask.Filled() {
			if err := c.ask.RefreshStatus(ctx, c.askAdapter); err != nil {
				c.log.Warn().Err(err).Msg("ask leg status poll failed")
			}
		}
		if !c.bid.Filled() {
			if err := c.bid.RefreshStatus(ctx, c.bidAdapter); err != nil {
				c.log.Warn().Err(err).Msg("bid leg status poll failed")
			}
		}
	}

	if !c.ask.Filled() || !c.bid.Filled() {
		c.log.Warn().
			Stringer("ask_status", c.ask.Status).
			Stringer("bid_status", c.bid.Status).
			Msg("fills unverified after polling")
		return OutcomePartialFill
	}

	c.settle(d)
	return OutcomeSuccess
}

// settle debits the committed amounts so the next evaluation cannot respend
// them: the buy leg spent quote on its venue, the sell leg spent base.
func (c *Controller) settle(d engine.Decision) {
	if err := c.balances.Debit(c.ask.Venue, c.ask.Symbol.Quote, d.OrderQuoteQty); err != nil {
		c.log.Error().Err(err).Msg("quote debit failed")
	}
	if err := c.balances.Debit(c.bid.Venue, c.bid.Symbol.Base, d.OrderBaseQty); err != nil {
		c.log.Error().Err(err).Msg("base debit failed")
	}
	c.log.Info().
		Float64("actual_profit", c.bid.ActualQuoteQty-c.ask.ActualQuoteQty).
		Msg("trade verified")
}

func (c *Controller) cancel(ctx context.Context, leg *book.Order, ad venue.Adapter) {
	ok, err := leg.Cancel(ctx, ad)
	if err != nil {
		c.log.Error().Err(err).Str("venue", leg.Venue).Msg("cancel failed")
		return
	}
	c.log.Info().Bool("cancelled", ok).Str("venue", leg.Venue).Msg("lone leg cancelled")
}

// save is best-effort: a store outage must not stop the worker.
func (c *Controller) save(ctx context.Context, doc persistence.TradeDocument) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveTrade(ctx, doc); err != nil {
		c.log.Error().Err(err).Msg("trade persist failed")
	}
}
