package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/metrics"
	"github.com/tradepulse/core/internal/persistence"
)

// priorityMultiplier scales confidence into queue priority. Held at 1.0
// since the urgency-weighted variant was retired; kept as a named constant
// because the priority formula is part of the operational contract.
const priorityMultiplier = 1.0

// defaultListLimit bounds status listings when callers pass no limit
const defaultListLimit = 500

// AdmissionQueue buffers risk-approved signals until their conditions are
// satisfiable. All state lives in the signal store so the queue survives
// restarts and is shared across processes.
type AdmissionQueue struct {
	cfg       *config.QueueConfig
	store     persistence.SignalStore
	incidents persistence.IncidentStore
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewAdmissionQueue creates a queue over the given stores. incidents and m
// may be nil.
func NewAdmissionQueue(cfg *config.QueueConfig, store persistence.SignalStore, incidents persistence.IncidentStore, m *metrics.Registry) *AdmissionQueue {
	return &AdmissionQueue{
		cfg:       cfg,
		store:     store,
		incidents: incidents,
		metrics:   m,
		now:       time.Now,
	}
}

// QueueSignal admits a signal into PENDING. Enqueueing is idempotent on
// SignalID: re-queueing an id overwrites the stored row rather than
// duplicating it. A missing id gets a generated one. A caller-supplied
// ExecutorID pins the signal to that executor; the promoter then evaluates
// conditions against the pinned executor only instead of assigning one.
func (q *AdmissionQueue) QueueSignal(ctx context.Context, signal domain.QueuedSignal) (*domain.QueuedSignal, error) {
	now := q.now().UTC()

	if signal.SignalID == "" {
		signal.SignalID = uuid.NewString()
	}
	signal.Status = domain.StatusPending
	signal.Priority = signal.Confidence * priorityMultiplier
	if signal.QueuedAt.IsZero() {
		signal.QueuedAt = now
	}
	if signal.ExpiresAt.IsZero() {
		signal.ExpiresAt = signal.QueuedAt.Add(q.cfg.ExpiryHorizon)
	}
	if signal.ExecutorID != nil && *signal.ExecutorID == "" {
		signal.ExecutorID = nil
	}
	signal.RetryCount = 0

	if err := q.writeWithRetries(ctx, signal); err != nil {
		return nil, fmt.Errorf("queue signal %s: %w", signal.SignalID, err)
	}

	log.Info().
		Str("signal_id", signal.SignalID).
		Str("symbol", signal.Symbol).
		Str("action", signal.Action).
		Float64("priority", signal.Priority).
		Int("conditions", len(signal.Conditions)).
		Msg("Signal queued")

	return &signal, nil
}

// GetReadySignals reaps expired signals and returns READY signals ordered by
// priority then age. Expiry is enforced on read as well as by the promoter
// so a stalled promoter cannot hand out stale signals.
func (q *AdmissionQueue) GetReadySignals(ctx context.Context, limit int) ([]domain.QueuedSignal, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	if n, err := q.store.ExpireBefore(ctx, q.now().UTC()); err != nil {
		log.Warn().Err(err).Msg("Expiry reap failed on ready listing")
	} else if n > 0 && q.metrics != nil {
		q.metrics.Expirations.Add(float64(n))
	}

	ready, err := q.store.ListByStatus(ctx, domain.StatusReady, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready signals: %w", err)
	}
	return ready, nil
}

// Claim atomically transitions a READY signal to EXECUTING on behalf of one
// consumer. Exactly one of several concurrent claimants wins.
func (q *AdmissionQueue) Claim(ctx context.Context, signalID, consumerID string) (bool, error) {
	won, err := q.store.Claim(ctx, signalID, consumerID)
	if err != nil {
		return false, fmt.Errorf("claim signal %s: %w", signalID, err)
	}
	if won {
		log.Info().Str("signal_id", signalID).Str("consumer", consumerID).Msg("Signal claimed for execution")
	}
	return won, nil
}

// MarkExecuted finalizes a claimed signal
func (q *AdmissionQueue) MarkExecuted(ctx context.Context, signalID string) error {
	sig, err := q.store.Get(ctx, signalID)
	if err != nil {
		return fmt.Errorf("mark executed %s: %w", signalID, err)
	}
	if err := q.store.UpdateStatus(ctx, signalID, domain.StatusExecuted, sig.ExecutorID, sig.RetryCount); err != nil {
		return fmt.Errorf("mark executed %s: %w", signalID, err)
	}
	return nil
}

// Cancel withdraws a signal that has not been claimed yet. Cancelling a
// signal already EXECUTING or beyond is an error.
func (q *AdmissionQueue) Cancel(ctx context.Context, signalID string) error {
	sig, err := q.store.Get(ctx, signalID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", signalID, err)
	}
	if sig.Status != domain.StatusPending && sig.Status != domain.StatusReady {
		return fmt.Errorf("cancel %s: signal is %s", signalID, sig.Status)
	}
	if err := q.store.UpdateStatus(ctx, signalID, domain.StatusCancelled, sig.ExecutorID, sig.RetryCount); err != nil {
		return fmt.Errorf("cancel %s: %w", signalID, err)
	}
	log.Info().Str("signal_id", signalID).Msg("Signal cancelled")
	return nil
}

// Get returns one signal by id
func (q *AdmissionQueue) Get(ctx context.Context, signalID string) (*domain.QueuedSignal, error) {
	return q.store.Get(ctx, signalID)
}

// ListByStatus exposes store listings for operator tooling
func (q *AdmissionQueue) ListByStatus(ctx context.Context, status domain.SignalStatus, limit int) ([]domain.QueuedSignal, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return q.store.ListByStatus(ctx, status, limit)
}

// Depth returns queue depth by status and refreshes the depth gauges
func (q *AdmissionQueue) Depth(ctx context.Context) (map[domain.SignalStatus]int, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	if q.metrics != nil {
		for status, n := range counts {
			q.metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	}
	return counts, nil
}

// writeWithRetries writes through the store with a bounded retry budget.
// Exhausting the budget records a signal-lost incident so the drop is never
// silent.
func (q *AdmissionQueue) writeWithRetries(ctx context.Context, signal domain.QueuedSignal) error {
	retries := q.cfg.WriteRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = q.store.Upsert(ctx, signal)
		if lastErr == nil {
			return nil
		}
		if q.metrics != nil {
			q.metrics.StoreErrors.WithLabelValues("signal_upsert").Inc()
		}
		log.Warn().Err(lastErr).Str("signal_id", signal.SignalID).Int("attempt", attempt).Msg("Signal write failed")
	}

	if q.incidents != nil {
		if ierr := q.incidents.Insert(ctx, persistence.Incident{
			Timestamp: q.now().UTC(),
			Kind:      "signal_lost",
			Reason:    fmt.Sprintf("signal %s dropped after %d write attempts", signal.SignalID, retries),
			Details: map[string]interface{}{
				"signal_id": signal.SignalID,
				"symbol":    signal.Symbol,
				"action":    signal.Action,
				"error":     lastErr.Error(),
			},
		}); ierr != nil {
			log.Error().Err(ierr).Str("signal_id", signal.SignalID).Msg("Failed to record signal-lost incident")
		}
	}

	return lastErr
}
