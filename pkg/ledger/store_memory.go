package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// MemoryStore keeps the chain in process, with agent and session
// indexes maintained on append.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []Entry
	byAgent   map[string][]uint64
	bySession map[string][]uint64
}

// NewMemoryStore returns an empty in-memory chain store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAgent:   make(map[string][]uint64),
		bySession: make(map[string][]uint64),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := uint64(len(s.entries)) + 1; e.Sequence != want {
		return fmt.Errorf("%w: got sequence %d, want %d", ErrOutOfOrder, e.Sequence, want)
	}
	s.entries = append(s.entries, e)
	for _, agent := range e.AgentIDs {
		s.byAgent[agent] = append(s.byAgent[agent], e.Sequence)
	}
	if e.SessionID != "" {
		s.bySession[e.SessionID] = append(s.bySession[e.SessionID], e.Sequence)
	}
	return nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, fmt.Errorf("%w: ledger empty", contracts.ErrNotFound)
	}
	head := s.entries[len(s.entries)-1]
	return &head, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return nil, fmt.Errorf("%w: entry %d", contracts.ErrNotFound, seq)
	}
	entry := s.entries[seq-1]
	return &entry, nil
}

// ByAgent implements Store.
func (s *MemoryStore) ByAgent(_ context.Context, agentID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byAgent[agentID]), nil
}

// BySession implements Store.
func (s *MemoryStore) BySession(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySession[sessionID]), nil
}

// All implements Store.
func (s *MemoryStore) All(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// collect resolves index sequences to entries. Caller holds the lock;
// index slices are append-only so they are already in order.
func (s *MemoryStore) collect(seqs []uint64) []Entry {
	out := make([]Entry, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, s.entries[seq-1])
	}
	return out
}
