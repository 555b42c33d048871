// Package postgres implements the persistence.Store contract on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/persistence"
)

// DefaultTimeout bounds a single store operation.
const DefaultTimeout = 5 * time.Second

type store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an open sqlx handle. A zero timeout falls back to
// DefaultTimeout.
func NewStore(db *sqlx.DB, timeout time.Duration) persistence.Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &store{db: db, timeout: timeout}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id              UUID PRIMARY KEY,
		market_pair_id  TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		orders_verified BOOLEAN NOT NULL,
		doc             JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trades_market_pair_idx ON trades (market_pair_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS balance_current (
		venue      TEXT PRIMARY KEY,
		balances   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_history (
		id          BIGSERIAL PRIMARY KEY,
		venue       TEXT NOT NULL,
		asset       TEXT NOT NULL,
		amount      DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS balance_history_venue_idx ON balance_history (venue, asset, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS market_pairs (
		id        TEXT PRIMARY KEY,
		market    TEXT NOT NULL,
		venues    TEXT[] NOT NULL,
		first_run TIMESTAMPTZ NOT NULL,
		last_run  TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables when missing. Safe to run on every start.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *store) SaveTrade(ctx context.Context, doc persistence.TradeDocument) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", doc.ID, err)
	}

	query := `
		INSERT INTO trades (id, market_pair_id, created_at, orders_verified, doc)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.MarketPairID, doc.Timestamp, doc.OrdersVerified, payload); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade %s: %w", doc.ID, err)
		}
		return fmt.Errorf("insert trade %s: %w", doc.ID, err)
	}
	return nil
}

func (s *store) UpsertBalances(ctx context.Context, venue string, balances map[market.Asset]float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("marshal balances for %s: %w", venue, err)
	}

	query := `
		INSERT INTO balance_current (venue, balances, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (venue) DO UPDATE
		SET balances = EXCLUDED.balances, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, venue, payload); err != nil {
		return fmt.Errorf("upsert balances for %s: %w", venue, err)
	}
	return nil
}

func (s *store) AppendBalanceHistory(ctx context.Context, venue string, balances map[market.Asset]float64, at time.Time) error {
	if len(balances) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin balance history tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO balance_history (venue, asset, amount, recorded_at)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare balance history insert: %w", err)
	}
	defer stmt.Close()

	for asset, amount := range balances {
		if _, err := stmt.ExecContext(ctx, venue, string(asset), amount, at); err != nil {
			return fmt.Errorf("append balance history %s/%s: %w", venue, asset, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit balance history: %w", err)
	}
	return nil
}

func (s *store) LoadBalances(ctx context.Context, venue string) (map[market.Asset]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx,
		`SELECT balances FROM balance_current WHERE venue = $1`, venue).Scan(&payload)
	if err == sql.ErrNoRows {
		return map[market.Asset]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balances for %s: %w", venue, err)
	}

	balances := make(map[market.Asset]float64)
	if err := json.Unmarshal(payload, &balances); err != nil {
		return nil, fmt.Errorf("decode balances for %s: %w", venue, err)
	}
	return balances, nil
}

func (s *store) TouchMarketPair(ctx context.Context, key string, symbol market.Symbol, venues []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO market_pairs (id, market, venues, first_run, last_run)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_run = NOW()`

	if _, err := s.db.ExecContext(ctx, query, key, symbol.String(), pq.Array(venues)); err != nil {
		return fmt.Errorf("touch market pair %s: %w", key, err)
	}
	return nil
}
