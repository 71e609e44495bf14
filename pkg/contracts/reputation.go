// Package contracts defines the wire-level records exchanged by the keel
// reputation engine: agent identities, fork events, reputation records,
// session records, and witness attestations. Field names and shapes are
// stable; stores, ledgers, and exports persist these verbatim.
package contracts

import (
	"fmt"
	"time"
)

// Genesis priors for a newly registered agent. A fresh record starts at
// score 0.5 with confidence 4, so early outcomes move the score quickly
// without pinning it to either extreme.
const (
	GenesisAlpha = 2.0
	GenesisBeta  = 2.0
)

// ReputationRecord is the Bayesian expertise state for a single agent.
// Alpha accumulates evidence of success, Beta evidence of failure; both
// stay strictly positive for the life of the record.
type ReputationRecord struct {
	AgentID     string          `json:"agent_id"`
	Alpha       float64         `json:"alpha"`
	Beta        float64         `json:"beta"`
	LastUpdated time.Time       `json:"last_updated"`
	ForkLineage []string        `json:"fork_lineage"`
	Probation   *ProbationState `json:"probation"`
	Signature   string          `json:"signature"`

	// Version backs optimistic concurrency in stores. It increments on
	// every committed update and is never part of the wire payload or
	// the signed bytes.
	Version uint64 `json:"-"`
}

// ProbationState is the probation block nested inside a reputation
// record. A nil pointer on the record means the agent has never entered
// probation or has fully exited it.
type ProbationState struct {
	Active         bool      `json:"active"`
	ExpiresAt      time.Time `json:"expires_at"`
	SuccessesCount int       `json:"successes_count"`
}

// ProbationMultiplier damps outcome magnitude while probation is active.
const ProbationMultiplier = 0.5

// Multiplier returns the outcome damping factor implied by the probation
// state: ProbationMultiplier while active, 1.0 otherwise. Safe on a nil
// receiver so callers can chain through Record.Probation directly.
func (p *ProbationState) Multiplier() float64 {
	if p != nil && p.Active {
		return ProbationMultiplier
	}
	return 1.0
}

// NewGenesisRecord builds the starting record for an agent with no
// history: Beta(2,2) priors, empty lineage, no probation.
func NewGenesisRecord(agentID string, now time.Time) *ReputationRecord {
	return &ReputationRecord{
		AgentID:     agentID,
		Alpha:       GenesisAlpha,
		Beta:        GenesisBeta,
		LastUpdated: now.UTC(),
		ForkLineage: []string{},
	}
}

// DEX is the demonstrated-expertise score, the mean of the Beta
// posterior: alpha / (alpha + beta).
func (r *ReputationRecord) DEX() float64 {
	n := r.Alpha + r.Beta
	if n <= 0 {
		return 0
	}
	return r.Alpha / n
}

// Confidence is the effective evidence mass alpha + beta. Two agents
// can share a DEX while one is backed by hundreds of sessions and the
// other by four; this is how callers tell them apart.
func (r *ReputationRecord) Confidence() float64 {
	return r.Alpha + r.Beta
}

// Clone returns a deep copy. Stores hand these out so callers cannot
// mutate shared state.
func (r *ReputationRecord) Clone() *ReputationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ForkLineage = append([]string(nil), r.ForkLineage...)
	if r.Probation != nil {
		p := *r.Probation
		out.Probation = &p
	}
	return &out
}

// Validate checks the strict-positivity invariant and identifier shape.
func (r *ReputationRecord) Validate() error {
	switch {
	case r.AgentID == "":
		return fmt.Errorf("%w: agent_id empty", ErrValidation)
	case r.Alpha <= 0:
		return fmt.Errorf("%w: alpha %v must be > 0", ErrValidation, r.Alpha)
	case r.Beta <= 0:
		return fmt.Errorf("%w: beta %v must be > 0", ErrValidation, r.Beta)
	}
	return nil
}
