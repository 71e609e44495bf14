package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// VerifyFunc checks a detached signature over payload bytes against a
// hex-encoded public key. The session processor takes one of these so
// deployments can route verification through an HSM or a remote
// service; Ed25519Verify is the standard implementation.
type VerifyFunc func(payload []byte, publicKeyHex, signatureHex string) (bool, error)

// Verify verifies a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// Ed25519Verify adapts Verify to the VerifyFunc shape.
func Ed25519Verify(payload []byte, publicKeyHex, signatureHex string) (bool, error) {
	return Verify(publicKeyHex, signatureHex, payload)
}

// VerifySessionSignature checks one participant's signature on a
// session record.
func VerifySessionSignature(rec *contracts.SessionRecord, did, pubKeyHex string, verify VerifyFunc) (bool, error) {
	sig, ok := rec.Signatures[did]
	if !ok || sig == "" {
		return false, fmt.Errorf("%w: no signature from %s", contracts.ErrSignatureInvalid, did)
	}
	payload, err := SessionSigningBytes(rec)
	if err != nil {
		return false, err
	}
	return verify(payload, pubKeyHex, sig)
}

// VerifyAttestationSignature checks a witness attestation signature.
func VerifyAttestationSignature(a *contracts.WitnessAttestation, pubKeyHex string, verify VerifyFunc) (bool, error) {
	if a.Signature == "" {
		return false, fmt.Errorf("%w: attestation unsigned", contracts.ErrSignatureInvalid)
	}
	payload, err := AttestationSigningBytes(a)
	if err != nil {
		return false, err
	}
	return verify(payload, pubKeyHex, a.Signature)
}

// VerifyForkEventSignature checks the initiator's signature on a fork
// event.
func VerifyForkEventSignature(f *contracts.ForkEvent, pubKeyHex string, verify VerifyFunc) (bool, error) {
	if f.Signature == "" {
		return false, fmt.Errorf("%w: fork event unsigned", contracts.ErrSignatureInvalid)
	}
	payload, err := ForkEventSigningBytes(f)
	if err != nil {
		return false, err
	}
	return verify(payload, pubKeyHex, f.Signature)
}

// VerifyReputationSignature checks the engine signature on an exported
// reputation record.
func VerifyReputationSignature(r *contracts.ReputationRecord, pubKeyHex string, verify VerifyFunc) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("%w: record unsigned", contracts.ErrSignatureInvalid)
	}
	payload, err := ReputationSigningBytes(r)
	if err != nil {
		return false, err
	}
	return verify(payload, pubKeyHex, r.Signature)
}
