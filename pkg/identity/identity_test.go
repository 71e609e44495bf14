package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

func TestRegistry_ResolveRoundTrip(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(contracts.AgentIdentity{
		AgentID:   "agent-1",
		DID:       "did:keel:agent-1",
		PublicKey: "abcd1234",
	})
	require.NoError(t, err)

	id, err := reg.Resolve(context.Background(), "did:keel:agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id.AgentID)
	assert.Equal(t, "abcd1234", id.PublicKey)

	did, ok := reg.DIDForAgent("agent-1")
	require.True(t, ok)
	assert.Equal(t, "did:keel:agent-1", did)
}

func TestRegistry_UnknownDID(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(context.Background(), "did:keel:ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrIdentityUnresolved))
}

func TestRegistry_RotationReplacesKey(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(contracts.AgentIdentity{
		AgentID: "agent-1", DID: "did:keel:agent-1", PublicKey: "old-key",
	}))
	require.NoError(t, reg.Register(contracts.AgentIdentity{
		AgentID: "agent-1", DID: "did:keel:agent-1", PublicKey: "new-key",
	}))

	id, err := reg.Resolve(context.Background(), "did:keel:agent-1")
	require.NoError(t, err)
	assert.Equal(t, "new-key", id.PublicKey)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RejectsIncomplete(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(contracts.AgentIdentity{DID: "did:keel:x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestRegistry_UnicodeFormsResolveToOneIdentity(t *testing.T) {
	// U+00E9 (precomposed) vs e + U+0301 (decomposed): same rendered
	// DID, different bytes.
	precomposed := "did:keel:josé"
	decomposed := "did:keel:josé"

	reg := NewRegistry()
	require.NoError(t, reg.Register(contracts.AgentIdentity{
		AgentID: "agent-j", DID: decomposed, PublicKey: "key-1",
	}))

	id, err := reg.Resolve(context.Background(), precomposed)
	require.NoError(t, err)
	assert.Equal(t, precomposed, id.DID)
	assert.Equal(t, 1, reg.Len())

	// Registering under the other rendering rotates, not forks.
	require.NoError(t, reg.Register(contracts.AgentIdentity{
		AgentID: "agent-j", DID: precomposed, PublicKey: "key-2",
	}))
	assert.Equal(t, 1, reg.Len())
}

func TestTokenManager_WitnessCredentialRoundTrip(t *testing.T) {
	ks, err := NewMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	now := time.Now().UTC()
	token, err := tm.GenerateWitnessToken(context.Background(),
		"agent-7", "did:keel:agent-7", "sess-42", 0.91, 120, time.Hour, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateWitnessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-42", claims.SessionID)
	assert.Equal(t, "agent-7", claims.WitnessID)
	assert.InDelta(t, 0.91, claims.Score, 1e-9)
	assert.Equal(t, "did:keel:agent-7", claims.Subject)
}

func TestTokenManager_ExpiredCredentialRejected(t *testing.T) {
	ks, err := NewMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	past := time.Now().UTC().Add(-2 * time.Hour)
	token, err := tm.GenerateWitnessToken(context.Background(),
		"agent-7", "did:keel:agent-7", "sess-42", 0.91, 120, time.Hour, past)
	require.NoError(t, err)

	_, err = tm.ValidateWitnessToken(token)
	require.Error(t, err)
}

func TestMemoryKeySet_RotationKeepsOldKeysVerifiable(t *testing.T) {
	ks, err := NewMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	token, err := tm.GenerateWitnessToken(context.Background(),
		"agent-1", "did:keel:agent-1", "sess-1", 0.8, 60, time.Hour, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	claims, err := tm.ValidateWitnessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
}
