package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// memoryRow pairs the two logical rows for one (target, candidate).
type memoryRow struct {
	stats   schemas.CandidateStats
	breaker schemas.BreakerRow
}

// Memory is the in-process Store. It backs tests and ephemeral runs where
// learned state is allowed to die with the process.
type Memory struct {
	params breaker.Params
	now    Clock

	mu   sync.Mutex
	rows map[schemas.TargetKey]map[string]*memoryRow
}

// NewMemory creates an empty in-memory store. A nil clock means time.Now.
func NewMemory(params breaker.Params, now Clock) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		params: params,
		now:    now,
		rows:   make(map[schemas.TargetKey]map[string]*memoryRow),
	}
}

func (m *Memory) row(target schemas.TargetKey, candidateID string) *memoryRow {
	perTarget, ok := m.rows[target]
	if !ok {
		perTarget = make(map[string]*memoryRow)
		m.rows[target] = perTarget
	}
	r, ok := perTarget[candidateID]
	if !ok {
		r = &memoryRow{breaker: schemas.NewBreakerRow()}
		perTarget[candidateID] = r
	}
	return r
}

// RecordOutcome implements Store. The single mutex makes the stats+breaker
// pair atomic by construction.
func (m *Memory) RecordOutcome(_ context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.row(target, candidateID)
	return applyOutcome(&r.stats, &r.breaker, outcome, m.params, m.now())
}

// GetStats implements Store.
func (m *Memory) GetStats(_ context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rows[target][candidateID]; ok {
		return r.stats, true, nil
	}
	return schemas.CandidateStats{}, false, nil
}

// GetBreaker implements Store.
func (m *Memory) GetBreaker(_ context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[target][candidateID]
	if !ok {
		return schemas.BreakerRow{}, false, nil
	}
	m.params.Refresh(&r.breaker, m.now())
	return r.breaker, true, nil
}

// IsOpen implements Store.
func (m *Memory) IsOpen(_ context.Context, target schemas.TargetKey, candidateID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[target][candidateID]
	if !ok {
		// Never seen means never tripped.
		return false, nil
	}
	return m.params.Refresh(&r.breaker, m.now()), nil
}

// ListCandidates implements Store.
func (m *Memory) ListCandidates(_ context.Context, target schemas.TargetKey) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.rows[target]))
	for id := range m.rows[target] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ResetTarget implements Store.
func (m *Memory) ResetTarget(_ context.Context, target schemas.TargetKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rows, target)
	return nil
}

// ResetAll implements Store.
func (m *Memory) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = make(map[schemas.TargetKey]map[string]*memoryRow)
	return nil
}

// Close implements Store. Nothing to release.
func (m *Memory) Close() error { return nil }
