// Package probation implements the post-fork probation state machine.
// Probation state lives inside the agent's reputation record; this
// package owns the transitions and the confidence multiplier they
// imply. All functions take an explicit now so the engine stays free of
// wall-clock reads.
package probation

import (
	"fmt"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

const (
	// SuccessThreshold is the outcome at or above which a session
	// counts toward early probation exit.
	SuccessThreshold = 0.7
	// SuccessTarget is how many qualifying successes end probation
	// before the clock does.
	SuccessTarget = 10
)

// Status is the observable probation phase.
type Status string

const (
	// StatusNone means the agent has never been on probation, or the
	// record predates any fork.
	StatusNone Status = "NONE"
	// StatusActive means outcomes are currently damped.
	StatusActive Status = "ACTIVE"
	// StatusExpired means a past probation ran out. Terminal until a
	// new fork re-enters ACTIVE.
	StatusExpired Status = "EXPIRED"
)

// StatusOf classifies a probation pointer as carried on a record.
func StatusOf(p *contracts.ProbationState) Status {
	switch {
	case p == nil:
		return StatusNone
	case p.Active:
		return StatusActive
	default:
		return StatusExpired
	}
}

// Start returns a fresh active probation ending at expiresAt. Called
// when a fork event is accepted; restarting over an expired probation
// is the re-entry path.
func Start(expiresAt time.Time) *contracts.ProbationState {
	return &contracts.ProbationState{
		Active:         true,
		ExpiresAt:      expiresAt.UTC(),
		SuccessesCount: 0,
	}
}

// StartFromFork derives the child's probation from an accepted fork
// event's registry-stamped window.
func StartFromFork(evt *contracts.ForkEvent) *contracts.ProbationState {
	return Start(evt.ProbationExpires)
}

// MultiplierFor returns the outcome damping factor for the state: 0.5
// while active, 1.0 otherwise.
func MultiplierFor(p *contracts.ProbationState) float64 {
	return p.Multiplier()
}

// RecordOutcome advances the state machine after a session outcome.
// While active, an outcome at or above SuccessThreshold increments the
// success count; the expiry check then always runs, whichever branch
// was taken: probation ends when now reaches expires_at or when the
// success target is met, either alone sufficing.
//
// The state is mutated in place. Returns the resulting status.
func RecordOutcome(p *contracts.ProbationState, outcome float64, now time.Time) (Status, error) {
	if outcome < 0 || outcome > 1 {
		return StatusOf(p), fmt.Errorf("%w: outcome %v outside [0,1]", contracts.ErrValidation, outcome)
	}
	if p == nil || !p.Active {
		return StatusOf(p), nil
	}

	if outcome >= SuccessThreshold {
		p.SuccessesCount++
	}
	if !now.Before(p.ExpiresAt) || p.SuccessesCount >= SuccessTarget {
		p.Active = false
	}
	return StatusOf(p), nil
}
