package replay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/crypto"
	"github.com/Northlight-Labs/keel/pkg/identity"
	"github.com/Northlight-Labs/keel/pkg/ledger"
	"github.com/Northlight-Labs/keel/pkg/lineage"
	"github.com/Northlight-Labs/keel/pkg/reputation"
	"github.com/Northlight-Labs/keel/pkg/session"
	"github.com/Northlight-Labs/keel/pkg/witness"
)

var replayNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture runs a real processor so audits check against state the
// engine actually committed.
type fixture struct {
	records   *reputation.MemoryStore
	directory *identity.Registry
	forks     *lineage.Ledger
	ledger    *ledger.Ledger
	processor *session.Processor
	signers   map[string]*crypto.Ed25519Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return replayNow }

	led, err := ledger.New(context.Background(), ledger.NewMemoryStore())
	require.NoError(t, err)
	led.WithClock(clock)

	f := &fixture{
		records:   reputation.NewMemoryStore(),
		directory: identity.NewRegistry(),
		ledger:    led,
		signers:   map[string]*crypto.Ed25519Signer{},
	}
	f.forks = lineage.NewLedger(lineage.NewRegistry(), f.directory, crypto.Ed25519Verify, lineage.WithClock(clock))
	f.processor = session.NewProcessor(f.records, f.directory, f.forks,
		witness.NewEvaluator(nil), led).WithClock(clock)
	return f
}

func (f *fixture) addAgent(t *testing.T, agentID string) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer(agentID)
	require.NoError(t, err)
	require.NoError(t, f.directory.Register(contracts.AgentIdentity{
		AgentID:   agentID,
		DID:       "did:keel:" + agentID,
		PublicKey: signer.PublicKey(),
	}))
	f.signers[agentID] = signer
}

func (f *fixture) process(t *testing.T, sessionID string, outcome, weight float64, agentIDs ...string) {
	t.Helper()
	s := &contracts.SessionRecord{
		SessionID: sessionID,
		Task:      "code-review",
		Outcome:   outcome,
		Weight:    weight,
		Timestamp: replayNow,
	}
	for _, id := range agentIDs {
		s.Participants = append(s.Participants, "did:keel:"+id)
	}
	for _, id := range agentIDs {
		require.NoError(t, f.signers[id].SignSession(s, "did:keel:"+id))
	}
	_, err := f.processor.Process(context.Background(), s, nil)
	require.NoError(t, err)
}

func (f *fixture) fork(t *testing.T, parentID, childID string) {
	t.Helper()
	evt := lineage.NewForkEvent(parentID, childID, contracts.ForkTypeMajor, 0.5, replayNow)
	require.NoError(t, f.signers[parentID].SignForkEvent(evt))
	_, err := f.processor.RegisterFork(context.Background(), evt)
	require.NoError(t, err)
}

func TestHarness_AuditAllMatchesProcessedState(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "alice")
	f.addAgent(t, "alice-2")
	f.addAgent(t, "bob")
	ctx := context.Background()

	f.process(t, "sess-1", 0.85, 1.0, "alice", "bob")
	f.fork(t, "alice", "alice-2")
	f.process(t, "sess-2", 0.9, 2.0, "alice-2", "bob")
	_, err := f.processor.PenalizeWitness(ctx, "bob", 0.25, "dispute-1")
	require.NoError(t, err)

	h := NewHarness(f.ledger, f.records).WithClock(func() time.Time { return replayNow })
	report, err := h.AuditAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.ChainError)
	assert.Equal(t, 3, report.Agents)
	assert.Equal(t, 3, report.Matched)
	assert.Empty(t, report.Diverged)
	assert.Equal(t, replayNow, report.CheckedAt)

	// Spot-check bob: two commits and a penalty fold to the live state.
	res, err := h.Audit(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusMatch, res.Status)
	assert.Equal(t, 3, res.Steps)
	assert.InDelta(t, 4.65, res.Rebuilt.Alpha, 1e-9)
	assert.InDelta(t, 2.85, res.Rebuilt.Beta, 1e-9)
}

func TestHarness_FlagsDriftedRecord(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "alice")
	f.addAgent(t, "bob")
	ctx := context.Background()

	f.process(t, "sess-1", 0.85, 1.0, "alice", "bob")

	// Drift the live record behind the ledger's back.
	rec, err := f.records.Get(ctx, "alice")
	require.NoError(t, err)
	rec.Alpha += 0.5
	require.NoError(t, f.records.Save(ctx, rec))

	h := NewHarness(f.ledger, f.records)
	report, err := h.AuditAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Agents)
	assert.Equal(t, 1, report.Matched)
	require.Len(t, report.Diverged, 1)

	d := report.Diverged[0]
	assert.Equal(t, "alice", d.AgentID)
	assert.Equal(t, StatusDiverged, d.Status)
	require.NotNil(t, d.Divergence)
	assert.Equal(t, "alpha", d.Divergence.Field)
	assert.InDelta(t, 2.85, d.Rebuilt.Alpha, 1e-9)
}

func TestHarness_RebuildFoldsEveryEntryKind(t *testing.T) {
	ctx := context.Background()
	led, err := ledger.New(ctx, ledger.NewMemoryStore())
	require.NoError(t, err)
	led.WithClock(func() time.Time { return replayNow })

	commit1 := session.CommitRecord{
		SessionID: "sess-1", Outcome: 0.8, Source: session.SourceReported, Weight: 1.0,
		Participants: []session.CommitParticipant{
			{AgentID: "a1", DID: "did:keel:a1", ForkWeight: 1.0, Multiplier: 1.0},
		},
	}
	_, err = led.Append(ctx, ledger.KindSessionCommit, "keel/session", "sess-1", []string{"a1"}, commit1)
	require.NoError(t, err)

	fork := session.ForkRecord{
		ForkID: "fork-1", ParentID: "a1", ChildID: "a2",
		ForkType: contracts.ForkTypeMajor, EnforcedWeight: 0.5,
		ProbationExpires: replayNow.Add(14 * 24 * time.Hour),
	}
	_, err = led.Append(ctx, ledger.KindForkRegistration, "keel/session", "", []string{"a1", "a2"}, fork)
	require.NoError(t, err)

	commit2 := session.CommitRecord{
		SessionID: "sess-2", Outcome: 1.0, Source: session.SourceConsensus, Weight: 4.0,
		Participants: []session.CommitParticipant{
			{AgentID: "a2", DID: "did:keel:a2", ForkWeight: 0.5, Multiplier: 0.5},
		},
	}
	_, err = led.Append(ctx, ledger.KindSessionCommit, "keel/session", "sess-2", []string{"a2"}, commit2)
	require.NoError(t, err)

	_, err = led.Append(ctx, ledger.KindWitnessPenalty, "keel/session", "",
		[]string{"a1"}, session.PenaltyRecord{AgentID: "a1", Severity: 0.3})
	require.NoError(t, err)

	// A kind this harness does not know must fold to nothing.
	_, err = led.Append(ctx, ledger.EntryKind("CHECKPOINT"), "keel/ops", "",
		[]string{"a1"}, map[string]string{"note": "key rotation"})
	require.NoError(t, err)

	h := NewHarness(led, reputation.NewMemoryStore(), WithTrace())

	a1, steps, err := h.Rebuild(ctx, "a1")
	require.NoError(t, err)
	assert.InDelta(t, 2.8, a1.Alpha, 1e-9)
	assert.InDelta(t, 2.8, a1.Beta, 1e-9)
	assert.Empty(t, a1.ForkLineage)
	assert.Nil(t, a1.Probation)
	require.Len(t, steps, 2)
	assert.Equal(t, uint64(1), steps[0].Sequence)
	assert.Equal(t, uint64(4), steps[1].Sequence)

	a2, steps, err := h.Rebuild(ctx, "a2")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, a2.Alpha, 1e-9)
	assert.InDelta(t, 2.0, a2.Beta, 1e-9)
	assert.Equal(t, []string{"fork-1"}, a2.ForkLineage)
	require.NotNil(t, a2.Probation)
	assert.True(t, a2.Probation.Active)
	assert.Equal(t, 1, a2.Probation.SuccessesCount)
	require.Len(t, steps, 2)

	// The store is empty, so the audit reports the record missing and
	// carries the trace for diagnosis.
	res, err := h.Audit(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, StatusDiverged, res.Status)
	assert.Equal(t, "record", res.Divergence.Field)
	assert.Equal(t, steps, res.Trace)
}

func TestHarness_BrokenChainShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Append(ctx, ledger.Entry{
		Sequence:    1,
		Kind:        ledger.KindSessionCommit,
		SessionID:   "sess-1",
		AgentIDs:    []string{"a1"},
		ContentHash: "sha256:forged",
		PrevHash:    "genesis",
		Timestamp:   replayNow,
		Data:        json.RawMessage(`{}`),
	}))
	led, err := ledger.New(ctx, store)
	require.NoError(t, err)

	h := NewHarness(led, reputation.NewMemoryStore())
	report, err := h.AuditAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.ChainError, "hash mismatch at entry 1")
	assert.Zero(t, report.Agents)
	assert.Empty(t, report.Diverged)
}

func TestHarness_EpsilonToleratesRoundingDrift(t *testing.T) {
	ctx := context.Background()
	led, err := ledger.New(ctx, ledger.NewMemoryStore())
	require.NoError(t, err)
	led.WithClock(func() time.Time { return replayNow })

	commit := session.CommitRecord{
		SessionID: "sess-1", Outcome: 0.8, Source: session.SourceReported, Weight: 1.0,
		Participants: []session.CommitParticipant{
			{AgentID: "a1", DID: "did:keel:a1", ForkWeight: 1.0, Multiplier: 1.0},
		},
	}
	_, err = led.Append(ctx, ledger.KindSessionCommit, "keel/session", "sess-1", []string{"a1"}, commit)
	require.NoError(t, err)

	records := reputation.NewMemoryStore()
	require.NoError(t, records.Save(ctx, &contracts.ReputationRecord{
		AgentID:     "a1",
		Alpha:       2.82,
		Beta:        2.2,
		LastUpdated: replayNow,
		ForkLineage: []string{},
	}))

	strict, err := NewHarness(led, records).Audit(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusDiverged, strict.Status)

	loose, err := NewHarness(led, records, WithEpsilon(0.1)).Audit(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusMatch, loose.Status)
}
