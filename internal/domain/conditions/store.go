package conditions

import (
	"sync"
	"time"
)

// Store is the process-owned collection of condition records, keyed by
// resource id. One mutex serializes every read and write; write volume is
// low and batch-oriented, so read concurrency is not worth the complexity.
type Store struct {
	mu      sync.Mutex
	records map[string]*ConditionRecord
	// order preserves insertion order for deterministic iteration.
	order []string
}

func NewStore() *Store {
	return &Store{records: make(map[string]*ConditionRecord)}
}

// Add inserts the record if its resource id is not already present and
// reports whether insertion occurred. First write wins; duplicates are
// never overwritten.
func (s *Store) Add(record *ConditionRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ResourceID]; exists {
		return false
	}
	s.records[record.ResourceID] = record
	s.order = append(s.order, record.ResourceID)
	return true
}

// GetByID returns a copy of the record, or false if the id is unknown.
func (s *Store) GetByID(resourceID string) (*ConditionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[resourceID]
	if !ok {
		return nil, false
	}
	return record.clone(), true
}

// AllActive returns a snapshot of records not yet soft-removed.
func (s *Store) AllActive() []*ConditionRecord {
	return s.snapshot(func(r *ConditionRecord) bool { return !r.IsRemoved })
}

// AllRemoved returns a snapshot of soft-removed records.
func (s *Store) AllRemoved() []*ConditionRecord {
	return s.snapshot(func(r *ConditionRecord) bool { return r.IsRemoved })
}

// Snapshot returns a point-in-time copy of every record, for batch scans.
func (s *Store) Snapshot() []*ConditionRecord {
	return s.snapshot(func(*ConditionRecord) bool { return true })
}

func (s *Store) snapshot(keep func(*ConditionRecord) bool) []*ConditionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ConditionRecord, 0, len(s.order))
	for _, id := range s.order {
		if record := s.records[id]; keep(record) {
			out = append(out, record.clone())
		}
	}
	return out
}

// SoftRemove transitions an existing, not-yet-removed record to removed,
// stamping the reason and a UTC timestamp. It reports false when the id is
// unknown or the record is already removed; this is the only mutation path
// after insertion.
func (s *Store) SoftRemove(resourceID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[resourceID]
	if !ok || record.IsRemoved {
		return false
	}
	now := time.Now().UTC()
	record.IsRemoved = true
	record.RemovalReason = reason
	record.RemovalTimestamp = &now
	return true
}

func (s *Store) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, record := range s.records {
		if !record.IsRemoved {
			n++
		}
	}
	return n
}

func (s *Store) RemovedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, record := range s.records {
		if record.IsRemoved {
			n++
		}
	}
	return n
}
