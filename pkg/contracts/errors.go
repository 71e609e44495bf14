package contracts

import (
	"errors"
	"fmt"
)

// Canonical fault codes, stable strings of the form
// KEEL/CORE/<NAMESPACE>/<CODE>. Logs, ledger entries, and processing
// results carry these instead of free-form messages so downstream
// systems can branch without string matching.
const (
	CodeValidation             = "KEEL/CORE/VALIDATION/OUT_OF_RANGE"
	CodeSchemaMismatch         = "KEEL/CORE/VALIDATION/SCHEMA_MISMATCH"
	CodeSignatureInvalid       = "KEEL/CORE/IDENTITY/SIGNATURE_INVALID"
	CodeIdentityUnresolved     = "KEEL/CORE/IDENTITY/UNRESOLVED"
	CodeDuplicateFork          = "KEEL/CORE/LINEAGE/DUPLICATE_FORK"
	CodeUnknownForkType        = "KEEL/CORE/LINEAGE/UNKNOWN_FORK_TYPE"
	CodeInsufficientQuorum     = "KEEL/CORE/WITNESS/INSUFFICIENT_QUORUM"
	CodeQuorumNotReached       = "KEEL/CORE/WITNESS/QUORUM_NOT_REACHED"
	CodeWitnessIneligible      = "KEEL/CORE/WITNESS/INELIGIBLE"
	CodeInsufficientPool       = "KEEL/CORE/WITNESS/INSUFFICIENT_POOL"
	CodeConcurrentModification = "KEEL/CORE/STORE/CONCURRENT_MODIFICATION"
	CodeNotFound               = "KEEL/CORE/STORE/NOT_FOUND"
	CodeLedgerAppendFailure    = "KEEL/CORE/LEDGER/APPEND_FAILURE"
	CodeRateLimited            = "KEEL/CORE/SESSION/RATE_LIMITED"
	CodePolicyDenied           = "KEEL/CORE/SESSION/POLICY_DENIED"
	CodeInternal               = "KEEL/CORE/INTERNAL/UNCLASSIFIED"
)

// Sentinel errors for the shared fault taxonomy. Packages wrap these
// with context; callers branch with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrSignatureInvalid       = errors.New("signature invalid")
	ErrIdentityUnresolved     = errors.New("identity unresolved")
	ErrDuplicateFork          = errors.New("duplicate fork event")
	ErrUnknownForkType        = errors.New("unknown fork type")
	ErrInsufficientQuorum     = errors.New("insufficient witness quorum")
	ErrQuorumNotReached       = errors.New("witness quorum not reached")
	ErrWitnessIneligible      = errors.New("witness ineligible")
	ErrInsufficientPool       = errors.New("insufficient witness pool")
	ErrConcurrentModification = errors.New("concurrent record modification")
	ErrNotFound               = errors.New("record not found")
	ErrLedgerAppendFailure    = errors.New("ledger append failed")
	ErrRateLimited            = errors.New("submission rate limited")
	ErrPolicyDenied           = errors.New("admission policy denied session")
)

// CodeForError maps a fault back to its canonical code. Anything
// outside the taxonomy reports as internal.
func CodeForError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSignatureInvalid):
		return CodeSignatureInvalid
	case errors.Is(err, ErrIdentityUnresolved):
		return CodeIdentityUnresolved
	case errors.Is(err, ErrDuplicateFork):
		return CodeDuplicateFork
	case errors.Is(err, ErrUnknownForkType):
		return CodeUnknownForkType
	case errors.Is(err, ErrInsufficientQuorum):
		return CodeInsufficientQuorum
	case errors.Is(err, ErrQuorumNotReached):
		return CodeQuorumNotReached
	case errors.Is(err, ErrWitnessIneligible):
		return CodeWitnessIneligible
	case errors.Is(err, ErrInsufficientPool):
		return CodeInsufficientPool
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrLedgerAppendFailure):
		return CodeLedgerAppendFailure
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrPolicyDenied):
		return CodePolicyDenied
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// IsNotFound reports whether err is the not-found fault.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConcurrentModification reports whether err is the optimistic
// concurrency fault.
func IsConcurrentModification(err error) bool { return errors.Is(err, ErrConcurrentModification) }

// IneligibilityReason explains why a candidate witness was rejected.
type IneligibilityReason string

const (
	IneligibleLowScore      IneligibilityReason = "LowScore"
	IneligibleLowConfidence IneligibilityReason = "LowConfidence"
	IneligibleIsParticipant IneligibilityReason = "IsParticipant"
	IneligibleOverexposed   IneligibilityReason = "OverexposedWitness"
)

// IneligibilityError reports a single witness failing an eligibility
// gate. It unwraps to ErrWitnessIneligible so callers can branch
// coarsely or read the reason for detail.
type IneligibilityError struct {
	WitnessID string
	Reason    IneligibilityReason
}

func (e *IneligibilityError) Error() string {
	return fmt.Sprintf("witness %s ineligible: %s", e.WitnessID, e.Reason)
}

func (e *IneligibilityError) Unwrap() error { return ErrWitnessIneligible }
