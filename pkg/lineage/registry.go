// Package lineage records agent fork events and derives the
// protocol-enforced inheritance weight for each fork type. The forking
// party's claimed weight is retained for transparency but never scores:
// weight always comes out of the type registry.
package lineage

import (
	"fmt"
	"sync"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// ForkPolicy is what a fork type costs: the enforced inheritance weight
// and the probation window imposed on the child.
type ForkPolicy struct {
	EnforcedWeight  float64       `json:"enforced_weight"`
	ProbationPeriod time.Duration `json:"probation_period"`
}

// Registry maps fork types to their policies. The canonical three are
// preloaded; deployments may add types (extension among them) at
// configuration time, before traffic.
type Registry struct {
	mu       sync.RWMutex
	policies map[contracts.ForkType]ForkPolicy
}

// NewRegistry returns a registry with the canonical fork types:
//
//	bugfix   → weight 1.0, probation 7 days
//	major    → weight 0.5, probation 14 days
//	override → weight 0.1, probation 30 days
func NewRegistry() *Registry {
	return &Registry{
		policies: map[contracts.ForkType]ForkPolicy{
			contracts.ForkTypeBugfix:   {EnforcedWeight: 1.0, ProbationPeriod: 7 * 24 * time.Hour},
			contracts.ForkTypeMajor:    {EnforcedWeight: 0.5, ProbationPeriod: 14 * 24 * time.Hour},
			contracts.ForkTypeOverride: {EnforcedWeight: 0.1, ProbationPeriod: 30 * 24 * time.Hour},
		},
	}
}

// RegisterType adds or replaces a fork type policy.
func (r *Registry) RegisterType(ft contracts.ForkType, policy ForkPolicy) error {
	if ft == "" {
		return fmt.Errorf("%w: empty fork type", contracts.ErrValidation)
	}
	// A zero weight would freeze the child's record forever.
	if policy.EnforcedWeight <= 0 || policy.EnforcedWeight > 1 {
		return fmt.Errorf("%w: enforced weight %v outside (0,1]", contracts.ErrValidation, policy.EnforcedWeight)
	}
	if policy.ProbationPeriod < 0 {
		return fmt.Errorf("%w: negative probation period", contracts.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[ft] = policy
	return nil
}

// PolicyFor resolves a fork type, failing with the unknown-type fault
// for anything not registered.
func (r *Registry) PolicyFor(ft contracts.ForkType) (ForkPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[ft]
	if !ok {
		return ForkPolicy{}, fmt.Errorf("%w: %q", contracts.ErrUnknownForkType, ft)
	}
	return p, nil
}

// Types returns the registered fork types.
func (r *Registry) Types() []contracts.ForkType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.ForkType, 0, len(r.policies))
	for ft := range r.policies {
		out = append(out, ft)
	}
	return out
}
