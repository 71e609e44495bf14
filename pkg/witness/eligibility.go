package witness

import (
	"context"
	"errors"
	"fmt"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Default eligibility gates. A witness needs a demonstrated track
// record (score and evidence mass), independence from the session, and
// no concentration on any single participant's recent history.
const (
	MinWitnessScore      = 0.7
	MinWitnessConfidence = 50.0
	MaxExposureFraction  = 0.10
)

// ExposureSource reports which fraction of a participant's recent
// sessions a candidate has already witnessed.
type ExposureSource interface {
	Fraction(ctx context.Context, witnessID, participantDID string) (float64, error)
}

// Evaluator applies the quorum rules: eligibility gating, consensus
// computation, and sortition over the eligible pool.
type Evaluator struct {
	exposure ExposureSource

	minScore         float64
	minConfidence    float64
	maxExposure      float64
	outlierTolerance float64
	retainedFraction float64
	highStakesWeight float64
	minHighStakes    int
}

// Option adjusts an evaluator's tuning away from the defaults.
type Option func(*Evaluator)

// WithThresholds overrides the score and confidence gates.
func WithThresholds(minScore, minConfidence float64) Option {
	return func(e *Evaluator) {
		e.minScore = minScore
		e.minConfidence = minConfidence
	}
}

// WithExposureLimit overrides the per-participant exposure ceiling.
func WithExposureLimit(limit float64) Option {
	return func(e *Evaluator) { e.maxExposure = limit }
}

// WithRetainedFraction overrides the fraction of attestations that must
// survive outlier exclusion for consensus to stand.
func WithRetainedFraction(f float64) Option {
	return func(e *Evaluator) { e.retainedFraction = f }
}

// WithHighStakesWeight overrides the session weight above which the
// two-attestation floor applies.
func WithHighStakesWeight(w float64) Option {
	return func(e *Evaluator) { e.highStakesWeight = w }
}

// NewEvaluator builds an evaluator over an exposure source. A nil
// source disables the exposure gate, which is only appropriate in
// closed test pools.
func NewEvaluator(exposure ExposureSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		exposure:         exposure,
		minScore:         MinWitnessScore,
		minConfidence:    MinWitnessConfidence,
		maxExposure:      MaxExposureFraction,
		outlierTolerance: OutlierTolerance,
		retainedFraction: RetainedFraction,
		highStakesWeight: HighStakesWeight,
		minHighStakes:    MinHighStakesAttestations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsEligible reports whether a candidate may witness the session. A nil
// return means eligible; an ineligible candidate yields a typed
// rejection carrying the first failed gate. Exposure-source failures
// surface as plain errors, not rejections.
func (e *Evaluator) IsEligible(ctx context.Context, cand Candidate, session *contracts.SessionRecord) error {
	if cand.Score < e.minScore {
		return &contracts.IneligibilityError{WitnessID: cand.WitnessID, Reason: contracts.IneligibleLowScore}
	}
	if cand.Confidence < e.minConfidence {
		return &contracts.IneligibilityError{WitnessID: cand.WitnessID, Reason: contracts.IneligibleLowConfidence}
	}
	if session.IsParticipant(cand.DID) || session.IsParticipant(cand.WitnessID) {
		return &contracts.IneligibilityError{WitnessID: cand.WitnessID, Reason: contracts.IneligibleIsParticipant}
	}
	if e.exposure != nil {
		for _, participant := range session.Participants {
			frac, err := e.exposure.Fraction(ctx, cand.WitnessID, participant)
			if err != nil {
				return fmt.Errorf("exposure lookup for witness %s on %s: %w", cand.WitnessID, participant, err)
			}
			if frac > e.maxExposure {
				return &contracts.IneligibilityError{WitnessID: cand.WitnessID, Reason: contracts.IneligibleOverexposed}
			}
		}
	}
	return nil
}

// FilterEligible partitions candidates into the eligible pool and the
// rejected set with reasons. Candidate order is preserved. A non-gate
// failure (exposure source unreachable) aborts the whole pass; a
// partially filtered pool must never feed sortition.
func (e *Evaluator) FilterEligible(ctx context.Context, cands []Candidate, session *contracts.SessionRecord) ([]Candidate, []*contracts.IneligibilityError, error) {
	eligible := make([]Candidate, 0, len(cands))
	rejected := []*contracts.IneligibilityError{}
	for _, cand := range cands {
		err := e.IsEligible(ctx, cand, session)
		if err == nil {
			eligible = append(eligible, cand)
			continue
		}
		var inel *contracts.IneligibilityError
		if errors.As(err, &inel) {
			rejected = append(rejected, inel)
			continue
		}
		return nil, nil, err
	}
	return eligible, rejected, nil
}

// HighStakes reports whether the session clears the high-stakes bar,
// either by weight or by an external flag.
func (e *Evaluator) HighStakes(session *contracts.SessionRecord, flagged bool) bool {
	return session.Weight > e.highStakesWeight || flagged
}
