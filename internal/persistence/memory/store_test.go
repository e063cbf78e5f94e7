package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/persistence"
)

func TestSignalStoreGetMissing(t *testing.T) {
	s := NewSignalStore()

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	err = s.UpdateStatus(context.Background(), "nope", domain.StatusReady, nil, 0)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestSignalStoreUpsertIsolatesConditions(t *testing.T) {
	s := NewSignalStore()
	ctx := context.Background()

	conds := []domain.Condition{{Type: domain.NeedsBuyingPower, RequiredValue: 100}}
	require.NoError(t, s.Upsert(ctx, domain.QueuedSignal{SignalID: "a", Conditions: conds}))

	conds[0].RequiredValue = 999

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Conditions[0].RequiredValue)
}

func TestSnapshotStoreLatestAndRange(t *testing.T) {
	s := NewSnapshotStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, domain.RiskMetricsSnapshot{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			DrawdownPct: float64(i),
			RiskLevel:   "NORMAL",
		}))
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.DrawdownPct)

	within, err := s.ListRange(ctx, persistence.TimeRange{
		From: base.Add(30 * time.Second),
		To:   base.Add(90 * time.Second),
	}, 10)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, 1.0, within[0].DrawdownPct)
}

func TestSnapshotStoreLatestEmpty(t *testing.T) {
	s := NewSnapshotStore()

	_, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestIncidentStoreNewestFirst(t *testing.T) {
	s := NewIncidentStore()
	ctx := context.Background()

	for _, kind := range []string{"first", "second", "third"} {
		require.NoError(t, s.Insert(ctx, persistence.Incident{Kind: kind, Timestamp: time.Now().UTC()}))
	}

	got, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Kind)
	assert.Equal(t, "second", got[1].Kind)
}
