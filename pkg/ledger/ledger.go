// Package ledger is the append-only audit trail behind every
// reputation mutation. Each entry is hash-chained to its predecessor,
// so a store that loses or rewrites history fails verification, and
// the chain is queryable by agent and session for replay and
// idempotent retries.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Northlight-Labs/keel/pkg/canonicalize"
	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// EntryKind categorizes what a ledger entry records.
type EntryKind string

const (
	KindSessionCommit    EntryKind = "SESSION_COMMIT"
	KindForkRegistration EntryKind = "FORK_REGISTRATION"
	KindWitnessPenalty   EntryKind = "WITNESS_PENALTY"
)

// genesisHash anchors the first entry's prev_hash.
const genesisHash = "genesis"

// Entry is one immutable, hash-chained record.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	Kind        EntryKind       `json:"kind"`
	SessionID   string          `json:"session_id,omitempty"`
	AgentIDs    []string        `json:"agent_ids"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Author      string          `json:"author,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// hashInput is the hashed projection of an entry: the semantic fields
// plus the chain link, canonicalized before digesting.
type hashInput struct {
	Seq       uint64          `json:"seq"`
	Kind      EntryKind       `json:"kind"`
	SessionID string          `json:"session_id"`
	AgentIDs  []string        `json:"agent_ids"`
	Data      json.RawMessage `json:"data"`
	Prev      string          `json:"prev"`
}

func entryHash(e *Entry) (string, error) {
	raw, err := canonicalize.JCS(hashInput{
		Seq:       e.Sequence,
		Kind:      e.Kind,
		SessionID: e.SessionID,
		AgentIDs:  e.AgentIDs,
		Data:      e.Data,
		Prev:      e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Ledger chains entries and delegates persistence to a Store. It is
// the single writer for its store: Append serializes internally and
// keeps the head cached.
type Ledger struct {
	mu    sync.Mutex
	store Store
	clock func() time.Time

	headHash string
	lastSeq  uint64
}

// New opens a ledger over a store, loading the current head so
// appends continue an existing chain.
func New(ctx context.Context, store Store) (*Ledger, error) {
	head, err := store.Head(ctx)
	if err != nil && !contracts.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load ledger head: %w", err)
	}

	l := &Ledger{store: store, clock: time.Now, headHash: genesisHash}
	if head != nil {
		l.headHash = head.ContentHash
		l.lastSeq = head.Sequence
	}
	return l, nil
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append chains a new entry and persists it. The payload is marshaled
// into the entry's data; a store failure surfaces as a ledger append
// fault with the chain state unchanged, so the caller can retry.
func (l *Ledger) Append(ctx context.Context, kind EntryKind, author, sessionID string, agentIDs []string, payload any) (*Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", contracts.ErrLedgerAppendFailure, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Sequence:  l.lastSeq + 1,
		Kind:      kind,
		SessionID: sessionID,
		AgentIDs:  append([]string(nil), agentIDs...),
		PrevHash:  l.headHash,
		Timestamp: l.clock().UTC(),
		Author:    author,
		Data:      data,
	}
	hash, err := entryHash(&entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrLedgerAppendFailure, err)
	}
	entry.ContentHash = hash

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrLedgerAppendFailure, err)
	}

	l.headHash = entry.ContentHash
	l.lastSeq = entry.Sequence
	return &entry, nil
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headHash
}

// Length returns the number of chained entries.
func (l *Ledger) Length() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(ctx context.Context, seq uint64) (*Entry, error) {
	return l.store.Get(ctx, seq)
}

// ByAgent returns all entries touching an agent, ordered by sequence.
func (l *Ledger) ByAgent(ctx context.Context, agentID string) ([]Entry, error) {
	return l.store.ByAgent(ctx, agentID)
}

// BySession returns all entries for a session, ordered by sequence.
func (l *Ledger) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return l.store.BySession(ctx, sessionID)
}

// All returns the full chain in sequence order.
func (l *Ledger) All(ctx context.Context) ([]Entry, error) {
	return l.store.All(ctx)
}

// Verify walks the whole chain, recomputing every link. It reports
// the first break it finds: a gap in sequence, a broken prev link, or
// an entry whose content no longer matches its hash.
func (l *Ledger) Verify(ctx context.Context) error {
	entries, err := l.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}

	prevHash := genesisHash
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return fmt.Errorf("sequence gap at position %d: entry claims %d", i+1, entry.Sequence)
		}
		if entry.PrevHash != prevHash {
			return fmt.Errorf("chain broken at entry %d: expected prev %s, got %s",
				entry.Sequence, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(&entry)
		if err != nil {
			return fmt.Errorf("failed to hash entry %d: %w", entry.Sequence, err)
		}
		if computed != entry.ContentHash {
			return fmt.Errorf("hash mismatch at entry %d", entry.Sequence)
		}
		prevHash = entry.ContentHash
	}
	return nil
}
