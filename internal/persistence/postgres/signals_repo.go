package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/persistence"
)

// signalsRepo implements SignalStore for PostgreSQL
type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a PostgreSQL queued-signal repository
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalStore {
	return &signalsRepo{db: db, timeout: timeout}
}

const signalColumns = `signal_id, symbol, action, entry_price, target_price, stop_price,
	confidence, conditions, priority, status, queued_at, expires_at, executor_id, retry_count`

// Upsert inserts or replaces the signal row keyed by signal_id
func (r *signalsRepo) Upsert(ctx context.Context, signal domain.QueuedSignal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conditionsJSON, err := json.Marshal(signal.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `
		INSERT INTO queued_signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (signal_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			action = EXCLUDED.action,
			entry_price = EXCLUDED.entry_price,
			target_price = EXCLUDED.target_price,
			stop_price = EXCLUDED.stop_price,
			confidence = EXCLUDED.confidence,
			conditions = EXCLUDED.conditions,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			queued_at = EXCLUDED.queued_at,
			expires_at = EXCLUDED.expires_at,
			executor_id = EXCLUDED.executor_id,
			retry_count = EXCLUDED.retry_count`

	_, err = r.db.ExecContext(ctx, query,
		signal.SignalID, signal.Symbol, signal.Action,
		signal.EntryPrice, signal.TargetPrice, signal.StopPrice,
		signal.Confidence, conditionsJSON, signal.Priority,
		signal.Status, signal.QueuedAt, signal.ExpiresAt,
		signal.ExecutorID, signal.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to upsert signal %s: %w", signal.SignalID, err)
	}
	return nil
}

// Get returns the signal by id, or persistence.ErrNotFound
func (r *signalsRepo) Get(ctx context.Context, signalID string) (*domain.QueuedSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + signalColumns + ` FROM queued_signals WHERE signal_id = $1`

	row := r.db.QueryRowxContext(ctx, query, signalID)
	signal, err := scanSignal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get signal %s: %w", signalID, err)
	}
	return signal, nil
}

// ListByStatus returns signals in a status ordered by priority desc then
// queued_at asc
func (r *signalsRepo) ListByStatus(ctx context.Context, status domain.SignalStatus, limit int) ([]domain.QueuedSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + signalColumns + `
		FROM queued_signals
		WHERE status = $1
		ORDER BY priority DESC, queued_at ASC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals by status %s: %w", status, err)
	}
	defer rows.Close()

	var signals []domain.QueuedSignal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *signal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return signals, nil
}

// UpdateStatus moves a signal to a new status
func (r *signalsRepo) UpdateStatus(ctx context.Context, signalID string, status domain.SignalStatus, executorID *string, retryCount int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE queued_signals
		SET status = $2, executor_id = COALESCE($3, executor_id), retry_count = $4
		WHERE signal_id = $1`

	result, err := r.db.ExecContext(ctx, query, signalID, status, executorID, retryCount)
	if err != nil {
		return fmt.Errorf("failed to update signal %s: %w", signalID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// Claim atomically transitions READY→EXECUTING; the WHERE clause guarantees
// exactly one claimant wins
func (r *signalsRepo) Claim(ctx context.Context, signalID, consumerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE queued_signals
		SET status = $2, executor_id = $3
		WHERE signal_id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, signalID, domain.StatusExecuting, consumerID, domain.StatusReady)
	if err != nil {
		return false, fmt.Errorf("failed to claim signal %s: %w", signalID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %s: %w", signalID, err)
	}
	return n == 1, nil
}

// ExpireBefore reaps PENDING and READY signals past their expiry horizon
func (r *signalsRepo) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE queued_signals
		SET status = $1
		WHERE status IN ($2, $3) AND expires_at < $4`

	result, err := r.db.ExecContext(ctx, query, domain.StatusExpired, domain.StatusPending, domain.StatusReady, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired signals: %w", err)
	}
	return int(n), nil
}

// CountByStatus returns queue depth grouped by status
func (r *signalsRepo) CountByStatus(ctx context.Context) (map[domain.SignalStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM queued_signals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count signals by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SignalStatus]int)
	for rows.Next() {
		var status domain.SignalStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*domain.QueuedSignal, error) {
	var signal domain.QueuedSignal
	var conditionsJSON []byte

	err := row.Scan(
		&signal.SignalID, &signal.Symbol, &signal.Action,
		&signal.EntryPrice, &signal.TargetPrice, &signal.StopPrice,
		&signal.Confidence, &conditionsJSON, &signal.Priority,
		&signal.Status, &signal.QueuedAt, &signal.ExpiresAt,
		&signal.ExecutorID, &signal.RetryCount)
	if err != nil {
		return nil, err
	}

	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &signal.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	return &signal, nil
}
