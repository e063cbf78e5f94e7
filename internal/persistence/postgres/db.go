package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/persistence"
)

// Open connects to postgres, configures the pool, verifies connectivity,
// and returns the aggregated store
func Open(cfg config.DatabaseConfig) (*persistence.Store, *sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &persistence.Store{
		Signals:   NewSignalsRepo(db, cfg.QueryTimeout),
		Snapshots: NewSnapshotsRepo(db, cfg.QueryTimeout),
		Incidents: NewIncidentsRepo(db, cfg.QueryTimeout),
	}
	return store, db, nil
}

// EnsureSchema creates the three core tables when missing. Intended for
// standalone deployments; managed environments run migrations externally.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS queued_signals (
			signal_id    TEXT PRIMARY KEY,
			symbol       TEXT NOT NULL,
			action       TEXT NOT NULL,
			entry_price  DOUBLE PRECISION NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			stop_price   DOUBLE PRECISION NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL,
			conditions   JSONB NOT NULL DEFAULT '[]',
			priority     DOUBLE PRECISION NOT NULL,
			status       TEXT NOT NULL,
			queued_at    TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			executor_id  TEXT,
			retry_count  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_signals_status
			ON queued_signals (status, priority DESC, queued_at ASC)`,
		`CREATE TABLE IF NOT EXISTS risk_snapshots (
			id                    BIGSERIAL PRIMARY KEY,
			ts                    TIMESTAMPTZ NOT NULL,
			drawdown_pct          DOUBLE PRECISION NOT NULL,
			daily_pnl_pct         DOUBLE PRECISION NOT NULL,
			account_equity        DOUBLE PRECISION NOT NULL,
			peak_equity           DOUBLE PRECISION NOT NULL,
			open_positions        INTEGER NOT NULL,
			correlated_positions  INTEGER NOT NULL,
			portfolio_correlation DOUBLE PRECISION NOT NULL,
			risk_level            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_snapshots_ts ON risk_snapshots (ts DESC)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id         BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			kind       TEXT NOT NULL,
			reason     TEXT NOT NULL,
			details    JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
