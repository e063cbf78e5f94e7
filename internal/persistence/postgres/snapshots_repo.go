package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/persistence"
)

// snapshotsRepo implements SnapshotStore for PostgreSQL
type snapshotsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotsRepo creates a PostgreSQL risk snapshot repository
func NewSnapshotsRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotStore {
	return &snapshotsRepo{db: db, timeout: timeout}
}

const snapshotColumns = `ts, drawdown_pct, daily_pnl_pct, account_equity, peak_equity,
	open_positions, correlated_positions, portfolio_correlation, risk_level`

// Insert appends one snapshot to the time series
func (r *snapshotsRepo) Insert(ctx context.Context, s domain.RiskMetricsSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO risk_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		s.Timestamp, s.DrawdownPct, s.DailyPnLPct, s.AccountEquity, s.PeakEquity,
		s.OpenPositions, s.CorrelatedPositions, s.PortfolioCorrelation, s.RiskLevel)
	if err != nil {
		return fmt.Errorf("failed to insert risk snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot
func (r *snapshotsRepo) Latest(ctx context.Context) (*domain.RiskMetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + snapshotColumns + ` FROM risk_snapshots ORDER BY ts DESC LIMIT 1`

	var s domain.RiskMetricsSnapshot
	err := r.db.QueryRowxContext(ctx, query).Scan(
		&s.Timestamp, &s.DrawdownPct, &s.DailyPnLPct, &s.AccountEquity, &s.PeakEquity,
		&s.OpenPositions, &s.CorrelatedPositions, &s.PortfolioCorrelation, &s.RiskLevel)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &s, nil
}

// ListRange returns snapshots within the window, newest first
func (r *snapshotsRepo) ListRange(ctx context.Context, tr persistence.TimeRange, limit int) ([]domain.RiskMetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM risk_snapshots
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.RiskMetricsSnapshot
	for rows.Next() {
		var s domain.RiskMetricsSnapshot
		if err := rows.Scan(
			&s.Timestamp, &s.DrawdownPct, &s.DailyPnLPct, &s.AccountEquity, &s.PeakEquity,
			&s.OpenPositions, &s.CorrelatedPositions, &s.PortfolioCorrelation, &s.RiskLevel); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return snapshots, nil
}
