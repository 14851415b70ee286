package datastore

import (
	"context"
	"fmt"
	"slices"

	"piggysaving/internal/aggregate"
	"piggysaving/internal/core"
)

// Snapshot is a consistent view of the model taken under a single read lock.
type Snapshot struct {
	Savings       []core.SavingRecord
	Costs         []core.CostRecord
	Totals        core.Totals
	SavingBuckets []aggregate.Bucket[core.SavingRecord]
	CostBuckets   []aggregate.Bucket[core.CostRecord]
}

func (s *Store) Savings() []core.SavingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.savings)
}

func (s *Store) Costs() []core.CostRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.costs)
}

func (s *Store) Totals() core.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

func (s *Store) SavingBuckets() []aggregate.Bucket[core.SavingRecord] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate.ByYearMonth(s.savings, s.expanded[core.KindSaving])
}

func (s *Store) CostBuckets() []aggregate.Bucket[core.CostRecord] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate.ByYearMonth(s.costs, s.expanded[core.KindCost])
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Savings:       slices.Clone(s.savings),
		Costs:         slices.Clone(s.costs),
		Totals:        s.totals,
		SavingBuckets: aggregate.ByYearMonth(s.savings, s.expanded[core.KindSaving]),
		CostBuckets:   aggregate.ByYearMonth(s.costs, s.expanded[core.KindCost]),
	}
}

// ToggleExpanded flips the reveal state of one month bucket and returns the
// new state. Keys are "YYYY-MM"; the bucket does not need to exist yet.
func (s *Store) ToggleExpanded(kind core.RecordKind, key string) (bool, error) {
	s.mu.Lock()
	state, ok := s.expanded[kind]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("toggle expanded: unknown record kind %q", kind)
	}
	state[key] = !state[key]
	if !state[key] {
		delete(state, key)
	}
	expanded := state[key]
	s.mu.Unlock()

	s.notify(context.Background(), EventExpandedToggled, key)
	return expanded, nil
}
