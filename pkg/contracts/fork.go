package contracts

import (
	"fmt"
	"time"
)

// ForkType classifies why a child agent diverged from its parent. The
// type, never the forking party's claim, decides how much reputation
// the child inherits.
type ForkType string

const (
	// ForkTypeBugfix marks a corrective fork that preserves behavior.
	ForkTypeBugfix ForkType = "bugfix"
	// ForkTypeMajor marks a substantial behavioral revision.
	ForkTypeMajor ForkType = "major"
	// ForkTypeOverride marks a fork that discards parent alignment.
	ForkTypeOverride ForkType = "override"
	// ForkTypeExtension marks an additive capability fork. It has no
	// default inheritance weight; deployments register one explicitly.
	ForkTypeExtension ForkType = "extension"
)

// ForkEvent records a single parent→child fork. EnforcedWeight and the
// probation fields are filled in by the lineage registry when the event
// is accepted; ClaimedWeight is retained only for audit.
type ForkEvent struct {
	ForkID           string    `json:"fork_id"`
	ParentID         string    `json:"parent_id"`
	ChildID          string    `json:"child_id"`
	ForkType         ForkType  `json:"fork_type"`
	ClaimedWeight    float64   `json:"claimed_weight"`
	EnforcedWeight   float64   `json:"enforced_weight"`
	ProbationPeriod  int64     `json:"probation_period"`
	ProbationExpires time.Time `json:"probation_expires"`
	Timestamp        time.Time `json:"timestamp"`
	Signature        string    `json:"signature"`
}

// ProbationDuration converts the wire-level probation period (seconds)
// to a duration.
func (f *ForkEvent) ProbationDuration() time.Duration {
	return time.Duration(f.ProbationPeriod) * time.Second
}

// Validate checks structural soundness. Fork-type recognition belongs
// to the lineage registry; an unregistered type passes here and fails
// there with its own fault code.
func (f *ForkEvent) Validate() error {
	switch {
	case f.ForkID == "":
		return fmt.Errorf("%w: fork_id empty", ErrValidation)
	case f.ParentID == "":
		return fmt.Errorf("%w: parent_id empty", ErrValidation)
	case f.ChildID == "":
		return fmt.Errorf("%w: child_id empty", ErrValidation)
	case f.ParentID == f.ChildID:
		return fmt.Errorf("%w: fork %s is its own parent", ErrValidation, f.ForkID)
	case f.ForkType == "":
		return fmt.Errorf("%w: fork_type empty", ErrValidation)
	case f.ClaimedWeight < 0 || f.ClaimedWeight > 1:
		return fmt.Errorf("%w: claimed_weight %v outside [0,1]", ErrValidation, f.ClaimedWeight)
	case f.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp missing", ErrValidation)
	}
	return nil
}
