package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Signer interface for cryptographic signatures over keel records.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	SignSession(s *contracts.SessionRecord, did string) error
	SignAttestation(a *contracts.WitnessAttestation) error
	SignForkEvent(f *contracts.ForkEvent) error
	SignReputationRecord(r *contracts.ReputationRecord) error
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromSeed derives a signer from a 32-byte seed.
// Deterministic; replay and tests depend on it.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// SignSession adds this signer's participant signature to the session
// record under the given DID.
func (s *Ed25519Signer) SignSession(rec *contracts.SessionRecord, did string) error {
	payload, err := SessionSigningBytes(rec)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	if rec.Signatures == nil {
		rec.Signatures = make(map[string]string)
	}
	rec.Signatures[did] = sig
	return nil
}

// SignAttestation signs a witness attestation in place.
func (s *Ed25519Signer) SignAttestation(a *contracts.WitnessAttestation) error {
	payload, err := AttestationSigningBytes(a)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}

// SignForkEvent signs a fork event in place.
func (s *Ed25519Signer) SignForkEvent(f *contracts.ForkEvent) error {
	payload, err := ForkEventSigningBytes(f)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	f.Signature = sig
	return nil
}

// SignReputationRecord signs an exported reputation record in place.
func (s *Ed25519Signer) SignReputationRecord(r *contracts.ReputationRecord) error {
	payload, err := ReputationSigningBytes(r)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}
