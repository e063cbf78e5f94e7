package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/persistence"
	"github.com/tradepulse/core/internal/persistence/memory"
)

type stubAccountFeed struct {
	states map[string]*domain.AccountState
	err    error
}

func (s *stubAccountFeed) GetAccountState(_ context.Context, executorID string) (*domain.AccountState, error) {
	if s.err != nil {
		return nil, s.err
	}
	state, ok := s.states[executorID]
	if !ok {
		return nil, errors.New("unknown executor")
	}
	return state, nil
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		PromoteInterval: 30 * time.Second,
		ExpiryHorizon:   24 * time.Hour,
		WriteRetries:    3,
	}
}

func newTestQueue(t *testing.T) (*AdmissionQueue, *persistence.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil), store
}

func buySignal(id string, confidence float64, requiredBP float64) domain.QueuedSignal {
	return domain.QueuedSignal{
		SignalID:   id,
		Symbol:     "AAPL",
		Action:     "BUY",
		EntryPrice: 190.0,
		Confidence: confidence,
		Conditions: []domain.Condition{
			{Type: domain.NeedsBuyingPower, RequiredValue: requiredBP},
		},
	}
}

func TestCheckConditions(t *testing.T) {
	account := &domain.AccountState{
		ExecutorID:  "alpaca-1",
		BuyingPower: 5_000,
		Positions:   []domain.AccountPosition{{Symbol: "MSFT", Qty: 10, Value: 4_200}},
	}

	t.Run("all met", func(t *testing.T) {
		sig := buySignal("s1", 0.8, 4_000)
		assert.Empty(t, CheckConditions(&sig, account))
	})

	t.Run("insufficient buying power", func(t *testing.T) {
		sig := buySignal("s1", 0.8, 6_000)
		unmet := CheckConditions(&sig, account)
		require.Len(t, unmet, 1)
		assert.Contains(t, unmet[0], "buying power")
	})

	t.Run("short entry checks buying power", func(t *testing.T) {
		sig := domain.QueuedSignal{
			Symbol: "AAPL",
			Action: "SELL_SHORT",
			Conditions: []domain.Condition{
				{Type: domain.NeedsBuyingPowerForShort, RequiredValue: 9_000},
			},
		}
		unmet := CheckConditions(&sig, account)
		require.Len(t, unmet, 1)
		assert.Contains(t, unmet[0], "short")
	})

	t.Run("position requirement uses condition symbol", func(t *testing.T) {
		sig := domain.QueuedSignal{
			Symbol: "AAPL",
			Action: "SELL",
			Conditions: []domain.Condition{
				{Type: domain.NeedsPosition, Symbol: "MSFT"},
			},
		}
		assert.Empty(t, CheckConditions(&sig, account))

		sig.Conditions[0].Symbol = ""
		unmet := CheckConditions(&sig, account)
		require.Len(t, unmet, 1)
		assert.Contains(t, unmet[0], "AAPL")
	})

	t.Run("all unmet reasons reported", func(t *testing.T) {
		sig := domain.QueuedSignal{
			Symbol: "TSLA",
			Conditions: []domain.Condition{
				{Type: domain.NeedsBuyingPower, RequiredValue: 50_000},
				{Type: domain.NeedsPosition},
			},
		}
		assert.Len(t, CheckConditions(&sig, account), 2)
	})

	t.Run("unknown condition never promotes", func(t *testing.T) {
		sig := domain.QueuedSignal{
			Symbol:     "AAPL",
			Conditions: []domain.Condition{{Type: "NEEDS_MARGIN_TIER"}},
		}
		unmet := CheckConditions(&sig, account)
		require.Len(t, unmet, 1)
		assert.Contains(t, unmet[0], "unknown condition")
	})

	t.Run("nil account state", func(t *testing.T) {
		sig := buySignal("s1", 0.8, 1)
		assert.NotEmpty(t, CheckConditions(&sig, nil))
	})
}

func TestQueueSignalDefaults(t *testing.T) {
	q, _ := newTestQueue(t)

	queued, err := q.QueueSignal(context.Background(), domain.QueuedSignal{
		Symbol:     "BTC-USD",
		Action:     "BUY",
		Confidence: 0.72,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, queued.SignalID)
	assert.Equal(t, domain.StatusPending, queued.Status)
	assert.InDelta(t, 0.72, queued.Priority, 1e-9)
	assert.Equal(t, queued.QueuedAt.Add(24*time.Hour), queued.ExpiresAt)

	stored, err := q.Get(context.Background(), queued.SignalID)
	require.NoError(t, err)
	assert.Equal(t, queued.SignalID, stored.SignalID)
}

func TestQueueSignalPreservesExecutorPin(t *testing.T) {
	q, _ := newTestQueue(t)

	pin := "alpaca-primary"
	sig := buySignal("pinned", 0.8, 0)
	sig.ExecutorID = &pin

	queued, err := q.QueueSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, queued.ExecutorID)
	assert.Equal(t, "alpaca-primary", *queued.ExecutorID)

	stored, err := q.Get(context.Background(), "pinned")
	require.NoError(t, err)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "alpaca-primary", *stored.ExecutorID)

	// An empty pin means no pin
	empty := ""
	unpinned := buySignal("unpinned", 0.8, 0)
	unpinned.ExecutorID = &empty
	queued, err = q.QueueSignal(context.Background(), unpinned)
	require.NoError(t, err)
	assert.Nil(t, queued.ExecutorID)
}

func TestQueueSignalIdempotent(t *testing.T) {
	q, store := newTestQueue(t)

	first := buySignal("sig-1", 0.60, 1_000)
	_, err := q.QueueSignal(context.Background(), first)
	require.NoError(t, err)

	second := buySignal("sig-1", 0.90, 2_000)
	_, err = q.QueueSignal(context.Background(), second)
	require.NoError(t, err)

	pending, err := store.Signals.ListByStatus(context.Background(), domain.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.InDelta(t, 0.90, pending[0].Priority, 1e-9)
}

func TestReadyOrderingPriorityThenAge(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for _, s := range []struct {
		id       string
		conf     float64
		queuedAt time.Time
	}{
		{"low", 0.55, base},
		{"high", 0.95, base.Add(time.Minute)},
		{"high-older", 0.95, base.Add(-time.Minute)},
	} {
		sig := buySignal(s.id, s.conf, 0)
		sig.QueuedAt = s.queuedAt
		_, err := q.QueueSignal(ctx, sig)
		require.NoError(t, err)
		require.NoError(t, store.Signals.UpdateStatus(ctx, s.id, domain.StatusReady, nil, 0))
	}

	ready, err := q.GetReadySignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "high-older", ready[0].SignalID)
	assert.Equal(t, "high", ready[1].SignalID)
	assert.Equal(t, "low", ready[2].SignalID)
}

func TestExpiredSignalsReapedOnRead(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	sig := buySignal("stale", 0.8, 0)
	sig.QueuedAt = time.Now().UTC().Add(-25 * time.Hour)
	sig.ExpiresAt = sig.QueuedAt.Add(24 * time.Hour)
	_, err := q.QueueSignal(ctx, sig)
	require.NoError(t, err)
	require.NoError(t, store.Signals.UpdateStatus(ctx, "stale", domain.StatusReady, nil, 0))

	ready, err := q.GetReadySignals(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	stored, err := q.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestClaimExactlyOnce(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	_, err := q.QueueSignal(ctx, buySignal("sig-1", 0.8, 0))
	require.NoError(t, err)
	require.NoError(t, store.Signals.UpdateStatus(ctx, "sig-1", domain.StatusReady, nil, 0))

	wonA, err := q.Claim(ctx, "sig-1", "executor-a")
	require.NoError(t, err)
	wonB, err := q.Claim(ctx, "sig-1", "executor-b")
	require.NoError(t, err)

	assert.True(t, wonA)
	assert.False(t, wonB)

	stored, err := q.Get(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuting, stored.Status)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "executor-a", *stored.ExecutorID)
}

func TestClaimRequiresReady(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.QueueSignal(ctx, buySignal("sig-1", 0.8, 0))
	require.NoError(t, err)

	won, err := q.Claim(ctx, "sig-1", "executor-a")
	require.NoError(t, err)
	assert.False(t, won, "PENDING signals are not claimable")
}

func TestMarkExecuted(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	_, err := q.QueueSignal(ctx, buySignal("sig-1", 0.8, 0))
	require.NoError(t, err)
	require.NoError(t, store.Signals.UpdateStatus(ctx, "sig-1", domain.StatusReady, nil, 0))
	won, err := q.Claim(ctx, "sig-1", "executor-a")
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, q.MarkExecuted(ctx, "sig-1"))

	stored, err := q.Get(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, stored.Status)
}

func TestCancel(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	_, err := q.QueueSignal(ctx, buySignal("sig-1", 0.8, 0))
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, "sig-1"))
	stored, err := q.Get(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	// Claimed signals cannot be withdrawn
	_, err = q.QueueSignal(ctx, buySignal("sig-2", 0.8, 0))
	require.NoError(t, err)
	require.NoError(t, store.Signals.UpdateStatus(ctx, "sig-2", domain.StatusReady, nil, 0))
	won, err := q.Claim(ctx, "sig-2", "executor-a")
	require.NoError(t, err)
	require.True(t, won)

	err = q.Cancel(ctx, "sig-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXECUTING")
}

func TestPromoterPromotesFirstQualifyingExecutor(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 1_000},
		"exec-b": {ExecutorID: "exec-b", BuyingPower: 10_000},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a", "exec-b"}, time.Second, feed, store.Signals, store.Incidents, nil)

	_, err := q.QueueSignal(context.Background(), buySignal("sig-1", 0.8, 5_000))
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "exec-b", *stored.ExecutorID)
}

func TestPromoterPrefersConfiguredOrder(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 10_000},
		"exec-b": {ExecutorID: "exec-b", BuyingPower: 10_000},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a", "exec-b"}, time.Second, feed, store.Signals, store.Incidents, nil)

	_, err := q.QueueSignal(context.Background(), buySignal("sig-1", 0.8, 5_000))
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "sig-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "exec-a", *stored.ExecutorID)
}

func TestPromoterHonorsExecutorPin(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 10_000},
		"exec-b": {ExecutorID: "exec-b", BuyingPower: 10_000},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a", "exec-b"}, time.Second, feed, store.Signals, store.Incidents, nil)

	// Both executors qualify, but the pin overrides configured order
	pin := "exec-b"
	sig := buySignal("pinned", 0.8, 5_000)
	sig.ExecutorID = &pin
	_, err := q.QueueSignal(context.Background(), sig)
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "pinned")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, stored.Status)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "exec-b", *stored.ExecutorID)
}

func TestPromoterStarvesPinnedSignalWhenPinCannotQualify(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 10_000},
		"exec-b": {ExecutorID: "exec-b", BuyingPower: 100},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a", "exec-b"}, time.Second, feed, store.Signals, store.Incidents, nil)

	// exec-a could fill this, but the pin restricts evaluation to exec-b
	pin := "exec-b"
	sig := buySignal("pinned", 0.8, 5_000)
	sig.ExecutorID = &pin
	_, err := q.QueueSignal(context.Background(), sig)
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "pinned")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "exec-b", *stored.ExecutorID, "the pin survives a starved cycle")
}

func TestPromoterBumpsRetryCountWhenStarved(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 100},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a"}, time.Second, feed, store.Signals, store.Incidents, nil)

	_, err := q.QueueSignal(context.Background(), buySignal("sig-1", 0.8, 5_000))
	require.NoError(t, err)

	p.Cycle(context.Background())
	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
}

func TestPromoterDefersWhenFeedDown(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{err: errors.New("feed down")}
	p := NewPromoter(testQueueConfig(), []string{"exec-a"}, time.Second, feed, store.Signals, store.Incidents, nil)

	_, err := q.QueueSignal(context.Background(), buySignal("sig-1", 0.8, 0))
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.RetryCount, "a dead feed is not a condition failure")
}

func TestPromoterExpiresStaleSignals(t *testing.T) {
	store := memory.NewStore()
	q := NewAdmissionQueue(testQueueConfig(), store.Signals, store.Incidents, nil)
	feed := &stubAccountFeed{states: map[string]*domain.AccountState{
		"exec-a": {ExecutorID: "exec-a", BuyingPower: 10_000},
	}}
	p := NewPromoter(testQueueConfig(), []string{"exec-a"}, time.Second, feed, store.Signals, store.Incidents, nil)

	sig := buySignal("stale", 0.8, 0)
	sig.QueuedAt = time.Now().UTC().Add(-25 * time.Hour)
	sig.ExpiresAt = sig.QueuedAt.Add(24 * time.Hour)
	_, err := q.QueueSignal(context.Background(), sig)
	require.NoError(t, err)

	p.Cycle(context.Background())

	stored, err := q.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, stored.Status)
}

func TestDepthCounts(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	_, err := q.QueueSignal(ctx, buySignal("a", 0.8, 0))
	require.NoError(t, err)
	_, err = q.QueueSignal(ctx, buySignal("b", 0.7, 0))
	require.NoError(t, err)
	require.NoError(t, store.Signals.UpdateStatus(ctx, "b", domain.StatusReady, nil, 0))

	counts, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
	assert.Equal(t, 1, counts[domain.StatusReady])
}
