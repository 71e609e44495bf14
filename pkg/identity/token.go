package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WitnessClaims is the payload of a witness credential: proof that a
// DID was selected to witness a specific session, carrying the score
// snapshot the selection was based on.
type WitnessClaims struct {
	jwt.RegisteredClaims
	SessionID  string  `json:"session_id"`
	WitnessID  string  `json:"witness_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// TokenManager mints and validates witness credentials.
type TokenManager struct {
	keySet KeySet
	issuer string
}

// NewTokenManager wires a token manager to a key set.
func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks, issuer: "keel/identity"}
}

// GenerateWitnessToken creates a signed credential for a selected
// witness. The token expires with the attestation window; a witness
// presenting an expired credential is simply not counted.
func (tm *TokenManager) GenerateWitnessToken(ctx context.Context, witnessID, witnessDID, sessionID string, score, confidence float64, ttl time.Duration, now time.Time) (string, error) {
	claims := WitnessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        witnessID + ":" + sessionID,
			Subject:   witnessDID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{"keel/witness"},
		},
		SessionID:  sessionID,
		WitnessID:  witnessID,
		Score:      score,
		Confidence: confidence,
	}
	return tm.keySet.Sign(ctx, claims)
}

// ValidateWitnessToken parses and verifies a witness credential.
func (tm *TokenManager) ValidateWitnessToken(tokenString string) (*WitnessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WitnessClaims{}, tm.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*WitnessClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
