package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/broker"
	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/metrics"
	"github.com/tradepulse/core/internal/persistence"
)

// Promoter periodically re-evaluates PENDING signals against live account
// state and promotes the first-satisfiable ones to READY. One promoter runs
// per process; the atomic claim in the store keeps multiple promoters safe.
type Promoter struct {
	cfg          *config.QueueConfig
	executors    []string
	fetchTimeout time.Duration
	feed         broker.AccountFeed
	store        persistence.SignalStore
	incidents    persistence.IncidentStore
	metrics      *metrics.Registry
	now          func() time.Time
}

// NewPromoter creates a promoter over the configured executor set
func NewPromoter(cfg *config.QueueConfig, executors []string, fetchTimeout time.Duration, feed broker.AccountFeed, store persistence.SignalStore, incidents persistence.IncidentStore, m *metrics.Registry) *Promoter {
	return &Promoter{
		cfg:          cfg,
		executors:    executors,
		fetchTimeout: fetchTimeout,
		feed:         feed,
		store:        store,
		incidents:    incidents,
		metrics:      m,
		now:          time.Now,
	}
}

// Run executes promotion cycles until ctx is cancelled
func (p *Promoter) Run(ctx context.Context) {
	log.Info().
		Dur("interval", p.cfg.PromoteInterval).
		Strs("executors", p.executors).
		Msg("Queue promoter starting")

	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Queue promoter stopped")
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle runs one promotion pass: reap expired signals, fetch account state
// per executor, then walk PENDING signals in priority order promoting the
// first executor whose account satisfies all conditions. Exported for
// operator tooling and tests.
func (p *Promoter) Cycle(ctx context.Context) {
	now := p.now().UTC()

	if n, err := p.store.ExpireBefore(ctx, now); err != nil {
		log.Warn().Err(err).Msg("Expiry reap failed")
	} else if n > 0 {
		if p.metrics != nil {
			p.metrics.Expirations.Add(float64(n))
		}
		log.Info().Int("count", n).Msg("Expired stale queued signals")
	}

	pending, err := p.store.ListByStatus(ctx, domain.StatusPending, defaultListLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Pending listing failed; skipping promotion cycle")
		return
	}
	if len(pending) == 0 {
		return
	}

	accounts := p.fetchAccounts(ctx)
	if len(accounts) == 0 {
		// No live account state this cycle; signals stay PENDING and the
		// next cycle retries
		log.Warn().Msg("No account state available; promotion deferred")
		return
	}

	for i := range pending {
		p.promoteOne(ctx, &pending[i], accounts)
	}
}

// fetchAccounts pulls account state for each executor with a bounded
// per-call timeout. Individual failures drop that executor from this cycle.
func (p *Promoter) fetchAccounts(ctx context.Context) map[string]*domain.AccountState {
	accounts := make(map[string]*domain.AccountState, len(p.executors))
	for _, id := range p.executors {
		callCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		state, err := p.feed.GetAccountState(callCtx, id)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("executor", id).Msg("Account state fetch failed")
			continue
		}
		accounts[id] = state
	}
	return accounts
}

// promoteOne assigns the signal to the first executor in configured order
// whose account satisfies every condition. A signal pinned to an executor at
// enqueue time is evaluated against that executor only.
func (p *Promoter) promoteOne(ctx context.Context, sig *domain.QueuedSignal, accounts map[string]*domain.AccountState) {
	var lastUnmet []string
	for _, id := range p.executors {
		if sig.ExecutorID != nil && *sig.ExecutorID != id {
			continue
		}
		account, ok := accounts[id]
		if !ok {
			continue
		}

		unmet := CheckConditions(sig, account)
		if p.metrics != nil {
			result := "met"
			if len(unmet) > 0 {
				result = "unmet"
			}
			p.metrics.ConditionChecks.WithLabelValues(result).Inc()
		}
		if len(unmet) > 0 {
			lastUnmet = unmet
			continue
		}

		executorID := id
		if err := p.updateWithRetries(ctx, sig.SignalID, domain.StatusReady, &executorID, sig.RetryCount); err != nil {
			return
		}
		if p.metrics != nil {
			p.metrics.Promotions.Inc()
		}
		log.Info().
			Str("signal_id", sig.SignalID).
			Str("symbol", sig.Symbol).
			Str("executor", id).
			Msg("Signal promoted to READY")
		return
	}

	// No executor qualified; bump the retry counter so operators can see
	// how long a signal has been starved
	if err := p.updateWithRetries(ctx, sig.SignalID, domain.StatusPending, nil, sig.RetryCount+1); err != nil {
		return
	}
	log.Debug().
		Str("signal_id", sig.SignalID).
		Strs("unmet", lastUnmet).
		Int("retries", sig.RetryCount+1).
		Msg("Signal not promotable")
}

// updateWithRetries mirrors the queue's bounded write policy for status
// transitions; exhaustion records a signal-lost incident
func (p *Promoter) updateWithRetries(ctx context.Context, signalID string, status domain.SignalStatus, executorID *string, retryCount int) error {
	retries := p.cfg.WriteRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = p.store.UpdateStatus(ctx, signalID, status, executorID, retryCount)
		if lastErr == nil {
			return nil
		}
		if p.metrics != nil {
			p.metrics.StoreErrors.WithLabelValues("signal_update").Inc()
		}
		log.Warn().Err(lastErr).Str("signal_id", signalID).Int("attempt", attempt).Msg("Signal status write failed")
	}

	if p.incidents != nil {
		if ierr := p.incidents.Insert(ctx, persistence.Incident{
			Timestamp: p.now().UTC(),
			Kind:      "signal_lost",
			Reason:    fmt.Sprintf("signal %s status write to %s failed after %d attempts", signalID, status, retries),
			Details: map[string]interface{}{
				"signal_id": signalID,
				"status":    string(status),
				"error":     lastErr.Error(),
			},
		}); ierr != nil {
			log.Error().Err(ierr).Str("signal_id", signalID).Msg("Failed to record signal-lost incident")
		}
	}

	return lastErr
}
