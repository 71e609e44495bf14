package contracts

import (
	"fmt"
	"time"
)

// DEXSnapshot pins a witness's score at attestation time so later
// reputation movement cannot retroactively change how a session was
// weighed.
type DEXSnapshot struct {
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	AsOf       time.Time `json:"as_of"`
}

// AttestationBody is the witness's observed judgment of a session.
type AttestationBody struct {
	Outcome      float64 `json:"outcome"`
	Weight       float64 `json:"weight"`
	Notes        string  `json:"notes"`
	EvidenceHash string  `json:"evidence_hash"`
}

// WitnessAttestation is a witness's signed statement about a session
// outcome, carried alongside the session record it judges.
type WitnessAttestation struct {
	WitnessID   string          `json:"witness_id"`
	SessionID   string          `json:"session_id"`
	WitnessDID  string          `json:"witness_did"`
	WitnessDEX  DEXSnapshot     `json:"witness_dex"`
	Attestation AttestationBody `json:"attestation"`
	Timestamp   time.Time       `json:"timestamp"`
	Signature   string          `json:"signature"`
}

// Validate checks ranges and identifier shape.
func (a *WitnessAttestation) Validate() error {
	switch {
	case a.WitnessID == "":
		return fmt.Errorf("%w: witness_id empty", ErrValidation)
	case a.SessionID == "":
		return fmt.Errorf("%w: session_id empty", ErrValidation)
	case a.Attestation.Outcome < 0 || a.Attestation.Outcome > 1:
		return fmt.Errorf("%w: attested outcome %v outside [0,1]", ErrValidation, a.Attestation.Outcome)
	case a.WitnessDEX.Score < 0 || a.WitnessDEX.Score > 1:
		return fmt.Errorf("%w: witness score %v outside [0,1]", ErrValidation, a.WitnessDEX.Score)
	case a.WitnessDEX.Confidence < 0:
		return fmt.Errorf("%w: witness confidence %v negative", ErrValidation, a.WitnessDEX.Confidence)
	}
	return nil
}
