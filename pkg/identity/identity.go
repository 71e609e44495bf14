// Package identity resolves agent DIDs to signing keys and lineage
// pointers, and mints short-lived witness credentials. The engine never
// checks a signature against a key the caller supplied inline; every
// verification goes through a Resolver so key rotation and revocation
// have one choke point.
package identity

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Normalize returns the canonical NFC form of an identifier. DIDs and
// agent ids are keyed in NFC form, so two Unicode renderings of the
// same identifier cannot split one agent across records.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Resolver maps a DID to the agent identity that currently backs it.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*contracts.AgentIdentity, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, did string) (*contracts.AgentIdentity, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, did string) (*contracts.AgentIdentity, error) {
	return f(ctx, did)
}

// Registry is an in-memory Resolver backed by explicit registration.
// Deployments that resolve DIDs from an external directory implement
// Resolver themselves; the registry covers local operation and tests.
type Registry struct {
	mu      sync.RWMutex
	byDID   map[string]contracts.AgentIdentity
	byAgent map[string]string // agent_id → did
}

// NewRegistry returns an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{
		byDID:   make(map[string]contracts.AgentIdentity),
		byAgent: make(map[string]string),
	}
}

// Register binds a DID to an identity, replacing any prior binding.
// Replacement is how key rotation lands here.
func (r *Registry) Register(id contracts.AgentIdentity) error {
	if id.DID == "" {
		return fmt.Errorf("%w: identity missing DID", contracts.ErrValidation)
	}
	if id.AgentID == "" {
		return fmt.Errorf("%w: identity missing agent_id", contracts.ErrValidation)
	}
	if id.PublicKey == "" {
		return fmt.Errorf("%w: identity missing public key", contracts.ErrValidation)
	}
	id.DID = Normalize(id.DID)
	id.AgentID = Normalize(id.AgentID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDID[id.DID] = id
	r.byAgent[id.AgentID] = id.DID
	return nil
}

// Resolve implements Resolver.
func (r *Registry) Resolve(_ context.Context, did string) (*contracts.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDID[Normalize(did)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrIdentityUnresolved, did)
	}
	out := id
	return &out, nil
}

// DIDForAgent returns the DID currently bound to an agent id.
func (r *Registry) DIDForAgent(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	did, ok := r.byAgent[Normalize(agentID)]
	return did, ok
}

// PublicKeyOf returns the signing key bound to an agent id. Satisfies
// the key directory contract the fork ledger checks signatures against.
func (r *Registry) PublicKeyOf(_ context.Context, agentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	did, ok := r.byAgent[Normalize(agentID)]
	if !ok {
		return "", fmt.Errorf("%w: agent %s", contracts.ErrIdentityUnresolved, agentID)
	}
	return r.byDID[did].PublicKey, nil
}

// Len reports how many identities are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDID)
}
