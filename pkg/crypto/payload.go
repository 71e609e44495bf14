package crypto

import (
	"time"

	"github.com/Northlight-Labs/keel/pkg/canonicalize"
	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Signing payloads are the RFC 8785 canonical JSON of the record with
// signature material zeroed. Any two engines must derive identical
// bytes for the same record or cross-verification breaks.

// SessionSigningBytes returns the bytes each participant signs. The
// signatures map is excluded so the payload is identical for every
// signer.
func SessionSigningBytes(s *contracts.SessionRecord) ([]byte, error) {
	c := *s
	c.Signatures = nil
	return canonicalize.JCS(&c)
}

// AttestationSigningBytes returns the bytes a witness signs.
func AttestationSigningBytes(a *contracts.WitnessAttestation) ([]byte, error) {
	c := *a
	c.Signature = ""
	return canonicalize.JCS(&c)
}

// ForkEventSigningBytes returns the bytes the fork initiator signs.
// The registry-computed fields (enforced weight, probation window) are
// excluded: the initiator signs the claim, never the registry's
// judgment of it.
func ForkEventSigningBytes(f *contracts.ForkEvent) ([]byte, error) {
	c := *f
	c.Signature = ""
	c.EnforcedWeight = 0
	c.ProbationPeriod = 0
	c.ProbationExpires = time.Time{}
	return canonicalize.JCS(&c)
}

// ReputationSigningBytes returns the bytes the engine signs when
// exporting a reputation record.
func ReputationSigningBytes(r *contracts.ReputationRecord) ([]byte, error) {
	c := *r
	c.Signature = ""
	return canonicalize.JCS(&c)
}
