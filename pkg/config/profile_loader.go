package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/lineage"
	"github.com/Northlight-Labs/keel/pkg/session"
	"github.com/Northlight-Labs/keel/pkg/witness"
)

// EngineProfile is a reviewed deployment profile: the policy surface a
// deployment runs with, versioned alongside its rollout. Zero-valued
// fields keep the protocol defaults, so a profile states only what it
// changes.
type EngineProfile struct {
	Name         string               `yaml:"name" json:"name"`
	Code         string               `yaml:"code" json:"code"`
	Quorum       QuorumConfig         `yaml:"quorum" json:"quorum"`
	Witness      WitnessConfig        `yaml:"witness,omitempty" json:"witness,omitempty"`
	ForkPolicies []ForkPolicyConfig   `yaml:"fork_policies,omitempty" json:"fork_policies,omitempty"`
	Admission    session.PolicyConfig `yaml:"admission,omitempty" json:"admission,omitempty"`
	Limiter      LimiterConfig        `yaml:"limiter,omitempty" json:"limiter,omitempty"`
}

// QuorumConfig controls what happens to a session whose witness set
// thins below quorum after discards.
type QuorumConfig struct {
	// Policy is "reject" or "fallback". Anything else is treated as
	// "reject", the conservative default.
	Policy string `yaml:"policy" json:"policy"`
}

// WitnessConfig overrides the witness admission gates.
type WitnessConfig struct {
	MinScore         float64 `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	MinConfidence    float64 `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	MaxExposure      float64 `yaml:"max_exposure,omitempty" json:"max_exposure,omitempty"`
	RetainedFraction float64 `yaml:"retained_fraction,omitempty" json:"retained_fraction,omitempty"`
	HighStakesWeight float64 `yaml:"high_stakes_weight,omitempty" json:"high_stakes_weight,omitempty"`
}

// ForkPolicyConfig declares one fork type and its enforced terms.
type ForkPolicyConfig struct {
	Type          string  `yaml:"type" json:"type"`
	Weight        float64 `yaml:"weight" json:"weight"`
	ProbationDays int     `yaml:"probation_days" json:"probation_days"`
}

// LimiterConfig tunes per-DID submission friction.
type LimiterConfig struct {
	Rate  float64 `yaml:"rate,omitempty" json:"rate,omitempty"`
	Burst int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// LoadProfile loads the engine profile for the given code from
// profilesDir, reading profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*EngineProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile EngineProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by profile code.
func LoadAllProfiles(profilesDir string) (map[string]*EngineProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*EngineProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile EngineProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_strict.yaml -> strict
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// QuorumPolicy maps the profile's quorum handling onto the session
// processor's.
func (p *EngineProfile) QuorumPolicy() session.QuorumPolicy {
	if strings.EqualFold(p.Quorum.Policy, "fallback") {
		return session.QuorumFallback
	}
	return session.QuorumReject
}

// EvaluatorOptions builds the witness evaluator overrides the profile
// declares.
func (p *EngineProfile) EvaluatorOptions() []witness.Option {
	var opts []witness.Option
	if p.Witness.MinScore > 0 || p.Witness.MinConfidence > 0 {
		minScore := p.Witness.MinScore
		if minScore == 0 {
			minScore = witness.MinWitnessScore
		}
		minConfidence := p.Witness.MinConfidence
		if minConfidence == 0 {
			minConfidence = witness.MinWitnessConfidence
		}
		opts = append(opts, witness.WithThresholds(minScore, minConfidence))
	}
	if p.Witness.MaxExposure > 0 {
		opts = append(opts, witness.WithExposureLimit(p.Witness.MaxExposure))
	}
	if p.Witness.RetainedFraction > 0 {
		opts = append(opts, witness.WithRetainedFraction(p.Witness.RetainedFraction))
	}
	if p.Witness.HighStakesWeight > 0 {
		opts = append(opts, witness.WithHighStakesWeight(p.Witness.HighStakesWeight))
	}
	return opts
}

// ApplyForkPolicies registers the profile's fork types into the
// registry, overriding canonical entries of the same name.
func (p *EngineProfile) ApplyForkPolicies(reg *lineage.Registry) error {
	for _, fp := range p.ForkPolicies {
		policy := lineage.ForkPolicy{
			EnforcedWeight:  fp.Weight,
			ProbationPeriod: time.Duration(fp.ProbationDays) * 24 * time.Hour,
		}
		if err := reg.RegisterType(contracts.ForkType(fp.Type), policy); err != nil {
			return fmt.Errorf("fork policy %q: %w", fp.Type, err)
		}
	}
	return nil
}

// AdmissionPolicy compiles the profile's admission rules. It returns
// nil when the profile declares none.
func (p *EngineProfile) AdmissionPolicy() (*session.Policy, error) {
	if len(p.Admission.AdmissionRules) == 0 && p.Admission.HighStakesRule == "" {
		return nil, nil
	}
	return session.NewPolicy(p.Admission)
}

// SubmissionLimiter builds the profile's friction limiter, or nil when
// the profile declares none.
func (p *EngineProfile) SubmissionLimiter() *session.SubmissionLimiter {
	if p.Limiter.Rate <= 0 {
		return nil
	}
	burst := p.Limiter.Burst
	if burst <= 0 {
		burst = 1
	}
	return session.NewSubmissionLimiter(p.Limiter.Rate, burst)
}
