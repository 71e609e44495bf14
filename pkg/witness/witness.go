// Package witness implements quorum evaluation for third-party session
// attestations: who may witness a session, how a set of attestations
// collapses to one consensus outcome, and how witnesses are drawn from
// the eligible pool by score-proportional sortition.
package witness

import (
	"context"
	"sort"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Candidate is one witness under consideration, with its score pinned
// at snapshot time.
type Candidate struct {
	WitnessID  string  `json:"witness_id"`
	DID        string  `json:"did"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// RecordSource is the slice of the reputation store the evaluator
// reads: one listing of current records.
type RecordSource interface {
	List(ctx context.Context) ([]*contracts.ReputationRecord, error)
}

// DIDDirectory maps an agent id to its DID.
type DIDDirectory interface {
	DIDForAgent(agentID string) (string, bool)
}

// Snapshot is a point-in-time view of candidate scores. Every
// eligibility and sortition read for one evaluation goes through the
// same snapshot, so a concurrent reputation update cannot skew a
// selection halfway through scoring.
type Snapshot struct {
	TakenAt    time.Time   `json:"taken_at"`
	Candidates []Candidate `json:"candidates"`
}

// TakeSnapshot reads every current record once and freezes the
// candidate pool. Agents without a registered DID cannot be addressed
// as witnesses and are left out.
func TakeSnapshot(ctx context.Context, records RecordSource, dids DIDDirectory, now time.Time) (*Snapshot, error) {
	all, err := records.List(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{TakenAt: now.UTC(), Candidates: make([]Candidate, 0, len(all))}
	for _, rec := range all {
		did, ok := dids.DIDForAgent(rec.AgentID)
		if !ok {
			continue
		}
		snap.Candidates = append(snap.Candidates, Candidate{
			WitnessID:  rec.AgentID,
			DID:        did,
			Score:      rec.DEX(),
			Confidence: rec.Confidence(),
		})
	}
	sort.Slice(snap.Candidates, func(i, j int) bool {
		return snap.Candidates[i].WitnessID < snap.Candidates[j].WitnessID
	})
	return snap, nil
}

// Candidate looks up one candidate by witness id.
func (s *Snapshot) Candidate(witnessID string) (Candidate, bool) {
	for _, c := range s.Candidates {
		if c.WitnessID == witnessID {
			return c, true
		}
	}
	return Candidate{}, false
}

// DEXSnapshot renders a candidate's pinned score in the attestation
// wire form.
func (c Candidate) DEXSnapshot(asOf time.Time) contracts.DEXSnapshot {
	return contracts.DEXSnapshot{Score: c.Score, Confidence: c.Confidence, AsOf: asOf.UTC()}
}
