package session

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Northlight-Labs/keel/pkg/canonicalize"
	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// PolicyConfig declares the CEL rules a deployment gates sessions with.
// Rules see two variables: `session` (the inbound record as a map) and
// `timestamp` (processing time, unix seconds).
type PolicyConfig struct {
	// AdmissionRules must all evaluate true for a session to be
	// processed at all.
	AdmissionRules []string `json:"admission_rules" yaml:"admission_rules"`
	// HighStakesRule classifies sessions that need the stricter witness
	// quorum, in addition to the built-in weight threshold.
	HighStakesRule string `json:"high_stakes_rule" yaml:"high_stakes_rule"`
}

// Policy is a compiled admission policy. Rules compile once at
// construction; a malformed rule is rejected before it can gate
// anything.
type Policy struct {
	admission   []cel.Program
	sources     []string
	highStakes  cel.Program
	fingerprint string
}

// NewPolicy compiles the configured rules against the session
// environment.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("session", cel.DynType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}

	p := &Policy{sources: append([]string(nil), cfg.AdmissionRules...)}
	for i, rule := range cfg.AdmissionRules {
		prg, err := compileRule(env, rule)
		if err != nil {
			return nil, fmt.Errorf("admission rule %d: %w", i, err)
		}
		p.admission = append(p.admission, prg)
	}
	if cfg.HighStakesRule != "" {
		if p.highStakes, err = compileRule(env, cfg.HighStakesRule); err != nil {
			return nil, fmt.Errorf("high-stakes rule: %w", err)
		}
	}

	// The fingerprint hashes rule source, so audit entries can name the
	// exact policy revision that admitted a session.
	digest, err := canonicalize.CanonicalHash(map[string]any{
		"admission":   cfg.AdmissionRules,
		"high_stakes": cfg.HighStakesRule,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint policy: %w", err)
	}
	p.fingerprint = "sha256:" + digest
	return p, nil
}

func compileRule(env *cel.Env, rule string) (cel.Program, error) {
	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	return env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
}

// Admit evaluates every admission rule against the session. The first
// failing rule denies with the policy fault; evaluation errors are
// reported as such, never as denials.
func (p *Policy) Admit(s *contracts.SessionRecord, now time.Time) error {
	input := policyInput(s, now)
	for i, prg := range p.admission {
		ok, err := evalBool(prg, input)
		if err != nil {
			return fmt.Errorf("admission rule %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("%w: rule %q", contracts.ErrPolicyDenied, p.sources[i])
		}
	}
	return nil
}

// HighStakes evaluates the high-stakes rule, false when none is
// configured.
func (p *Policy) HighStakes(s *contracts.SessionRecord, now time.Time) (bool, error) {
	if p.highStakes == nil {
		return false, nil
	}
	ok, err := evalBool(p.highStakes, policyInput(s, now))
	if err != nil {
		return false, fmt.Errorf("high-stakes rule: %w", err)
	}
	return ok, nil
}

// Fingerprint identifies this policy revision, stable across restarts.
func (p *Policy) Fingerprint() string { return p.fingerprint }

func policyInput(s *contracts.SessionRecord, now time.Time) map[string]any {
	return map[string]any{
		"timestamp": now.Unix(),
		"session": map[string]any{
			"session_id":   s.SessionID,
			"task":         s.Task,
			"outcome":      s.Outcome,
			"weight":       s.Weight,
			"participants": s.Participants,
			"witnesses":    s.Witnesses,
		},
	}
}

func evalBool(prg cel.Program, input map[string]any) (bool, error) {
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result %T is not bool", out.Value())
	}
	return val, nil
}
