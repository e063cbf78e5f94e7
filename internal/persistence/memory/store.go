// Package memory provides an in-process persistence.Store used by tests and
// standalone (database-disabled) deployments. Semantics mirror the postgres
// implementation, including atomic claim behavior.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/persistence"
)

// NewStore returns a persistence.Store backed entirely by process memory
func NewStore() *persistence.Store {
	return &persistence.Store{
		Signals:   NewSignalStore(),
		Snapshots: NewSnapshotStore(),
		Incidents: NewIncidentStore(),
	}
}

// SignalStore is the in-memory SignalStore implementation
type SignalStore struct {
	mu      sync.Mutex
	signals map[string]domain.QueuedSignal
}

// NewSignalStore creates an empty in-memory signal store
func NewSignalStore() *SignalStore {
	return &SignalStore{signals: make(map[string]domain.QueuedSignal)}
}

func (s *SignalStore) Upsert(_ context.Context, signal domain.QueuedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal.Conditions = append([]domain.Condition(nil), signal.Conditions...)
	s.signals[signal.SignalID] = signal
	return nil
}

func (s *SignalStore) Get(_ context.Context, signalID string) (*domain.QueuedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal, ok := s.signals[signalID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := signal
	return &out, nil
}

func (s *SignalStore) ListByStatus(_ context.Context, status domain.SignalStatus, limit int) ([]domain.QueuedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.QueuedSignal
	for _, signal := range s.signals {
		if signal.Status == status {
			out = append(out, signal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SignalStore) UpdateStatus(_ context.Context, signalID string, status domain.SignalStatus, executorID *string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	signal, ok := s.signals[signalID]
	if !ok {
		return persistence.ErrNotFound
	}
	signal.Status = status
	if executorID != nil {
		signal.ExecutorID = executorID
	}
	signal.RetryCount = retryCount
	s.signals[signalID] = signal
	return nil
}

func (s *SignalStore) Claim(_ context.Context, signalID, consumerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	signal, ok := s.signals[signalID]
	if !ok || signal.Status != domain.StatusReady {
		return false, nil
	}
	signal.Status = domain.StatusExecuting
	signal.ExecutorID = &consumerID
	s.signals[signalID] = signal
	return true, nil
}

func (s *SignalStore) ExpireBefore(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, signal := range s.signals {
		if (signal.Status == domain.StatusPending || signal.Status == domain.StatusReady) && signal.ExpiresAt.Before(now) {
			signal.Status = domain.StatusExpired
			s.signals[id] = signal
			expired++
		}
	}
	return expired, nil
}

func (s *SignalStore) CountByStatus(_ context.Context) (map[domain.SignalStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.SignalStatus]int)
	for _, signal := range s.signals {
		counts[signal.Status]++
	}
	return counts, nil
}

// SnapshotStore is the in-memory SnapshotStore implementation
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots []domain.RiskMetricsSnapshot
}

// NewSnapshotStore creates an empty in-memory snapshot store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

func (s *SnapshotStore) Insert(_ context.Context, snapshot domain.RiskMetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func (s *SnapshotStore) Latest(_ context.Context) (*domain.RiskMetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, persistence.ErrNotFound
	}
	out := s.snapshots[len(s.snapshots)-1]
	return &out, nil
}

func (s *SnapshotStore) ListRange(_ context.Context, tr persistence.TimeRange, limit int) ([]domain.RiskMetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RiskMetricsSnapshot
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		snap := s.snapshots[i]
		if snap.Timestamp.Before(tr.From) || snap.Timestamp.After(tr.To) {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// IncidentStore is the in-memory IncidentStore implementation
type IncidentStore struct {
	mu        sync.Mutex
	incidents []persistence.Incident
	nextID    int64
}

// NewIncidentStore creates an empty in-memory incident store
func NewIncidentStore() *IncidentStore {
	return &IncidentStore{nextID: 1}
}

func (s *IncidentStore) Insert(_ context.Context, incident persistence.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident.ID = s.nextID
	incident.CreatedAt = time.Now()
	s.nextID++
	s.incidents = append(s.incidents, incident)
	return nil
}

func (s *IncidentStore) ListRecent(_ context.Context, limit int) ([]persistence.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []persistence.Incident
	for i := len(s.incidents) - 1; i >= 0; i-- {
		out = append(out, s.incidents[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
