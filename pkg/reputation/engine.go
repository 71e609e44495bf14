// Package reputation implements the Bayesian expertise model: weighted
// outcome updates over a Beta(alpha, beta) posterior, the record store
// family behind it, and the derived standing board. Updates are pure
// arithmetic on an explicit record with an explicit now; persistence
// and ordering live in the stores.
package reputation

import (
	"fmt"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// DisputePenaltyFactor scales a confirmed dispute's severity into beta
// evidence against a witness.
const DisputePenaltyFactor = 2.0

// UpdateResult reports the posterior after a mutation.
type UpdateResult struct {
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	DEX        float64 `json:"dex"`
	Confidence float64 `json:"confidence"`
}

func resultFor(rec *contracts.ReputationRecord) UpdateResult {
	return UpdateResult{
		Alpha:      rec.Alpha,
		Beta:       rec.Beta,
		DEX:        rec.DEX(),
		Confidence: rec.Confidence(),
	}
}

// ApplyUpdate folds one session outcome into the record:
//
//	Δα = outcome     · weight · forkWeight · multiplier
//	Δβ = (1−outcome) · weight · forkWeight · multiplier
//
// Both deltas are non-negative; an ordinary update never decreases
// alpha or beta, and the added evidence mass is exactly
// weight·forkWeight·multiplier regardless of outcome. The record is
// mutated in place and must not be shared without a write lock.
func ApplyUpdate(rec *contracts.ReputationRecord, outcome, weight, forkWeight, multiplier float64, now time.Time) (UpdateResult, error) {
	if rec == nil {
		return UpdateResult{}, fmt.Errorf("%w: nil record", contracts.ErrValidation)
	}
	if outcome < 0 || outcome > 1 {
		return UpdateResult{}, fmt.Errorf("%w: outcome %v outside [0,1]", contracts.ErrValidation, outcome)
	}
	if weight <= 0 {
		return UpdateResult{}, fmt.Errorf("%w: weight %v must be > 0", contracts.ErrValidation, weight)
	}
	if forkWeight <= 0 || forkWeight > 1 {
		return UpdateResult{}, fmt.Errorf("%w: fork weight %v outside (0,1]", contracts.ErrValidation, forkWeight)
	}
	if multiplier != contracts.ProbationMultiplier && multiplier != 1.0 {
		return UpdateResult{}, fmt.Errorf("%w: multiplier %v not in {0.5, 1.0}", contracts.ErrValidation, multiplier)
	}

	mass := weight * forkWeight * multiplier
	rec.Alpha += outcome * mass
	rec.Beta += (1 - outcome) * mass
	rec.LastUpdated = now.UTC()
	return resultFor(rec), nil
}

// PenalizeWitness adds beta evidence for a confirmed dispute against a
// witness: beta += severity · DisputePenaltyFactor. This is the only
// path that materially lowers a score after the fact. It applies the
// penalty unconditionally; callers must track dispute identifiers and
// invoke it at most once per confirmed dispute.
func PenalizeWitness(rec *contracts.ReputationRecord, severity float64, now time.Time) (UpdateResult, error) {
	if rec == nil {
		return UpdateResult{}, fmt.Errorf("%w: nil record", contracts.ErrValidation)
	}
	if severity < 0 || severity > 1 {
		return UpdateResult{}, fmt.Errorf("%w: dispute severity %v outside [0,1]", contracts.ErrValidation, severity)
	}

	rec.Beta += severity * DisputePenaltyFactor
	rec.LastUpdated = now.UTC()
	return resultFor(rec), nil
}
