package witness

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/identity"
)

// AttestationClaims is the JWT envelope a witness submits an
// attestation in. The registered claims bind the envelope to the
// witness DID and the session; the attestation rides inside.
type AttestationClaims struct {
	jwt.RegisteredClaims
	Attestation *contracts.WitnessAttestation `json:"attestation"`
}

// TokenCodec encodes and decodes attestation envelopes.
type TokenCodec struct {
	keySet identity.KeySet
	issuer string
}

// NewTokenCodec wires a codec to a key set.
func NewTokenCodec(ks identity.KeySet) *TokenCodec {
	return &TokenCodec{keySet: ks, issuer: "keel/witness"}
}

// Encode wraps an attestation into a signed token. The token expires
// with the attestation window.
func (c *TokenCodec) Encode(ctx context.Context, att *contracts.WitnessAttestation, ttl time.Duration, now time.Time) (string, error) {
	if err := att.Validate(); err != nil {
		return "", err
	}
	claims := AttestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        att.WitnessID + ":" + att.SessionID,
			Subject:   att.WitnessDID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{"keel/engine"},
		},
		Attestation: att,
	}
	return c.keySet.Sign(ctx, claims)
}

// Decode verifies an envelope and returns the attestation inside. The
// envelope subject must match the attestation's witness DID, so a
// valid token cannot smuggle someone else's attestation.
func (c *TokenCodec) Decode(tokenString string) (*contracts.WitnessAttestation, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AttestationClaims{}, c.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AttestationClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Attestation == nil {
		return nil, fmt.Errorf("%w: token carries no attestation", contracts.ErrValidation)
	}
	if claims.Subject != claims.Attestation.WitnessDID {
		return nil, fmt.Errorf("%w: token subject %s does not match witness DID %s",
			contracts.ErrValidation, claims.Subject, claims.Attestation.WitnessDID)
	}
	if err := claims.Attestation.Validate(); err != nil {
		return nil, err
	}
	return claims.Attestation, nil
}
