package session

import (
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// OutcomeSource names where a committed session's outcome value came
// from.
type OutcomeSource string

const (
	// SourceReported means the session's own outcome was applied, no
	// attestations having been submitted.
	SourceReported OutcomeSource = "reported"
	// SourceConsensus means the outcome is the witness consensus value.
	SourceConsensus OutcomeSource = "consensus"
	// SourceFallback means quorum failed and policy fell back to the
	// reported outcome.
	SourceFallback OutcomeSource = "fallback"
)

// CommitParticipant pins the weighting factors one participant was
// updated with. Replays fold these exact factors; they are never
// re-derived from live fork or probation state.
type CommitParticipant struct {
	AgentID    string  `json:"agent_id"`
	DID        string  `json:"did"`
	ForkWeight float64 `json:"fork_weight"`
	Multiplier float64 `json:"multiplier"`
}

// CommitRecord is the ledger payload for a committed session. Together
// with the genesis priors it fully determines every participant's
// posterior, which is what makes ledger replay exact.
type CommitRecord struct {
	SessionID    string              `json:"session_id"`
	Outcome      float64             `json:"outcome"`
	Source       OutcomeSource       `json:"source"`
	Weight       float64             `json:"weight"`
	HighStakes   bool                `json:"high_stakes,omitempty"`
	PolicyHash   string              `json:"policy_hash,omitempty"`
	Participants []CommitParticipant `json:"participants"`
}

// ForkRecord is the ledger payload for an accepted fork registration,
// carrying the registry-stamped weight and probation window.
type ForkRecord struct {
	ForkID           string             `json:"fork_id"`
	ParentID         string             `json:"parent_id"`
	ChildID          string             `json:"child_id"`
	ForkType         contracts.ForkType `json:"fork_type"`
	EnforcedWeight   float64            `json:"enforced_weight"`
	ProbationExpires time.Time          `json:"probation_expires"`
}

// PenaltyRecord is the ledger payload for a confirmed-dispute witness
// penalty.
type PenaltyRecord struct {
	AgentID    string  `json:"agent_id"`
	Severity   float64 `json:"severity"`
	DisputeRef string  `json:"dispute_ref,omitempty"`
}
