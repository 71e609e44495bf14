package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

var ledgerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l, err := New(context.Background(), store)
	require.NoError(t, err)
	return l.WithClock(func() time.Time { return ledgerNow }), store
}

func TestLedger_AppendChains(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a", "agent-b"}, map[string]any{"outcome": 0.85})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, "genesis", first.PrevHash)
	assert.Contains(t, first.ContentHash, "sha256:")
	assert.Equal(t, ledgerNow, first.Timestamp)

	second, err := l.Append(ctx, KindForkRegistration, "registry", "",
		[]string{"agent-c"}, map[string]any{"fork_type": "major"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	assert.Equal(t, second.ContentHash, l.Head())
	assert.Equal(t, uint64(2), l.Length())
}

func TestLedger_VerifyIntactChain(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
			[]string{"agent-a"}, map[string]any{"step": i})
		require.NoError(t, err)
	}
	assert.NoError(t, l.Verify(ctx))
}

func TestLedger_VerifyDetectsTamperedData(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
			[]string{"agent-a"}, map[string]any{"outcome": 0.5})
		require.NoError(t, err)
	}

	store.entries[1].Data = json.RawMessage(`{"outcome":1}`)

	err := l.Verify(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch at entry 2")
}

func TestLedger_VerifyDetectsBrokenLink(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
			[]string{"agent-a"}, map[string]any{"outcome": 0.5})
		require.NoError(t, err)
	}

	store.entries[2].PrevHash = "sha256:forged"

	err := l.Verify(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain broken at entry 3")
}

func TestLedger_ResumesExistingChain(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a"}, map[string]any{"outcome": 0.85})
	require.NoError(t, err)

	// A new front over the same store continues where the old one
	// stopped.
	resumed, err := New(ctx, store)
	require.NoError(t, err)
	resumed = resumed.WithClock(func() time.Time { return ledgerNow })

	second, err := resumed.Append(ctx, KindSessionCommit, "processor", "sess-2",
		[]string{"agent-a"}, map[string]any{"outcome": 0.6})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.NoError(t, resumed.Verify(ctx))
}

type faultyStore struct {
	*MemoryStore
	fail bool
}

func (f *faultyStore) Append(ctx context.Context, e Entry) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Append(ctx, e)
}

func TestLedger_AppendFailureLeavesChainRetryable(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore(), fail: true}
	ctx := context.Background()
	l, err := New(ctx, store)
	require.NoError(t, err)
	l = l.WithClock(func() time.Time { return ledgerNow })

	_, err = l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a"}, map[string]any{"outcome": 0.85})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrLedgerAppendFailure))
	assert.Equal(t, "genesis", l.Head())
	assert.Equal(t, uint64(0), l.Length())

	// Same append succeeds once the store recovers, still at
	// sequence one.
	store.fail = false
	entry, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a"}, map[string]any{"outcome": 0.85})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Sequence)
}

func TestLedger_Queries(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a", "agent-b"}, map[string]any{"outcome": 0.8})
	require.NoError(t, err)
	_, err = l.Append(ctx, KindSessionCommit, "processor", "sess-2",
		[]string{"agent-b"}, map[string]any{"outcome": 0.4})
	require.NoError(t, err)
	_, err = l.Append(ctx, KindWitnessPenalty, "processor", "",
		[]string{"agent-a"}, map[string]any{"severity": 0.8})
	require.NoError(t, err)

	forA, err := l.ByAgent(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, uint64(1), forA[0].Sequence)
	assert.Equal(t, uint64(3), forA[1].Sequence)

	forSession, err := l.BySession(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, forSession, 1)
	assert.Equal(t, KindSessionCommit, forSession[0].Kind)

	entry, err := l.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "sess-2", entry.SessionID)

	_, err = l.Get(ctx, 99)
	assert.True(t, contracts.IsNotFound(err))
}

func TestLedger_PayloadRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	type commitPayload struct {
		Outcome float64 `json:"outcome"`
		Weight  float64 `json:"weight"`
	}
	_, err := l.Append(ctx, KindSessionCommit, "processor", "sess-1",
		[]string{"agent-a"}, commitPayload{Outcome: 0.85, Weight: 1})
	require.NoError(t, err)

	entry, err := l.Get(ctx, 1)
	require.NoError(t, err)

	var decoded commitPayload
	require.NoError(t, json.Unmarshal(entry.Data, &decoded))
	assert.InDelta(t, 0.85, decoded.Outcome, 1e-9)
}
