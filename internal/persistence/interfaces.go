package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/tradepulse/core/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// TimeRange represents a time window for history queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Incident is a structured, timestamped record of a safety-relevant event:
// risk breaches, emergency shutdowns, and lost-signal persistence failures
type Incident struct {
	ID        int64                  `json:"id" db:"id"`
	Timestamp time.Time              `json:"ts" db:"ts"`
	Kind      string                 `json:"kind" db:"kind"`
	Reason    string                 `json:"reason" db:"reason"`
	Details   map[string]interface{} `json:"details" db:"details"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// SignalStore persists queued signals. All writes are last-writer-safe
// upserts keyed by signal_id; the READY→EXECUTING transition must be atomic
// so the promoter and the consumer never race on the same row.
type SignalStore interface {
	// Upsert inserts or replaces the signal row keyed by signal_id
	Upsert(ctx context.Context, signal domain.QueuedSignal) error

	// Get returns the signal by id, or ErrNotFound
	Get(ctx context.Context, signalID string) (*domain.QueuedSignal, error)

	// ListByStatus returns signals in a status, ordered by priority desc
	// then queued_at asc
	ListByStatus(ctx context.Context, status domain.SignalStatus, limit int) ([]domain.QueuedSignal, error)

	// UpdateStatus moves a signal to a new status, recording executor and
	// retry count
	UpdateStatus(ctx context.Context, signalID string, status domain.SignalStatus, executorID *string, retryCount int) error

	// Claim atomically transitions a READY signal to EXECUTING for the
	// given consumer. Returns false when another consumer won the row.
	Claim(ctx context.Context, signalID, consumerID string) (bool, error)

	// ExpireBefore reaps PENDING and READY signals whose expires_at has
	// passed, returning how many were marked EXPIRED
	ExpireBefore(ctx context.Context, now time.Time) (int, error)

	// CountByStatus returns queue depth grouped by status
	CountByStatus(ctx context.Context) (map[domain.SignalStatus]int, error)
}

// SnapshotStore persists the risk metrics time series. Single writer (the
// risk monitor); history is append-only.
type SnapshotStore interface {
	// Insert appends one snapshot
	Insert(ctx context.Context, snapshot domain.RiskMetricsSnapshot) error

	// Latest returns the most recent snapshot, or ErrNotFound
	Latest(ctx context.Context) (*domain.RiskMetricsSnapshot, error)

	// ListRange returns snapshots within the window, newest first
	ListRange(ctx context.Context, tr TimeRange, limit int) ([]domain.RiskMetricsSnapshot, error)
}

// IncidentStore persists incident records. Every BREACH and every lost
// signal must land here; silently dropping either is a defect.
type IncidentStore interface {
	// Insert appends one incident
	Insert(ctx context.Context, incident Incident) error

	// ListRecent returns the newest incidents first
	ListRecent(ctx context.Context, limit int) ([]Incident, error)
}

// Store aggregates the three persistence interfaces
type Store struct {
	Signals   SignalStore
	Snapshots SnapshotStore
	Incidents IncidentStore
}
