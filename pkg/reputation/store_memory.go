package reputation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// MemoryStore is the in-process Store. Records are cloned on the way
// in and out so callers never share backing state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*contracts.ReputationRecord
}

// NewMemoryStore returns an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*contracts.ReputationRecord)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, agentID string) (*contracts.ReputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", contracts.ErrNotFound, agentID)
	}
	return rec.Clone(), nil
}

// Save implements Store with compare-and-swap on Version.
func (s *MemoryStore) Save(_ context.Context, rec *contracts.ReputationRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.AgentID]
	switch {
	case rec.Version == 0 && exists:
		return fmt.Errorf("%w: agent %s already exists", contracts.ErrConcurrentModification, rec.AgentID)
	case rec.Version != 0 && !exists:
		return fmt.Errorf("%w: agent %s", contracts.ErrNotFound, rec.AgentID)
	case rec.Version != 0 && current.Version != rec.Version:
		return fmt.Errorf("%w: agent %s at version %d, caller held %d",
			contracts.ErrConcurrentModification, rec.AgentID, current.Version, rec.Version)
	}

	rec.Version++
	s.records[rec.AgentID] = rec.Clone()
	return nil
}

// List implements Store, ordered by agent id for stable iteration.
func (s *MemoryStore) List(_ context.Context) ([]*contracts.ReputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contracts.ReputationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}
