// Package session orchestrates the full life of a session outcome:
// signature verification, admission policy, witness consensus, the
// Bayesian updates for every participant, and the two-phase commit
// that lands them in the record store and the audit ledger together.
// The processor owns no timers and performs no retries of its own;
// callers resubmit failed sessions and the ledger-backed session index
// makes resubmission idempotent.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Northlight-Labs/keel/pkg/audit"
	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/crypto"
	"github.com/Northlight-Labs/keel/pkg/ledger"
	"github.com/Northlight-Labs/keel/pkg/probation"
	"github.com/Northlight-Labs/keel/pkg/reputation"
	"github.com/Northlight-Labs/keel/pkg/witness"
)

const (
	tracerName   = "keel.engine"
	ledgerAuthor = "keel/session"
)

// QuorumPolicy decides what happens when witnesses were presented but
// quorum failed.
type QuorumPolicy string

const (
	// QuorumReject aborts the session with the quorum fault. Default.
	QuorumReject QuorumPolicy = "reject"
	// QuorumFallback applies the session's own reported outcome.
	QuorumFallback QuorumPolicy = "fallback"
)

// Directory resolves participant DIDs to registered identities and
// backs the witness snapshot's agent→DID mapping.
type Directory interface {
	Resolve(ctx context.Context, did string) (*contracts.AgentIdentity, error)
	DIDForAgent(agentID string) (string, bool)
}

// ForkLedger supplies fork weights and linearized fork registration.
type ForkLedger interface {
	Register(ctx context.Context, evt *contracts.ForkEvent) (*contracts.ForkEvent, error)
	CurrentForkWeight(agentID string) float64
	EventsFor(agentID string) []*contracts.ForkEvent
}

// ParticipantUpdate reports one participant's share of a processed
// session: the factors that scaled the outcome and the posterior they
// produced.
type ParticipantUpdate struct {
	AgentID    string                  `json:"agent_id"`
	DID        string                  `json:"did"`
	ForkWeight float64                 `json:"fork_weight"`
	Multiplier float64                 `json:"multiplier"`
	Probation  probation.Status        `json:"probation"`
	Posterior  reputation.UpdateResult `json:"posterior"`
}

// DiscardedAttestation names a witness whose attestation did not reach
// consensus, with the gate it failed.
type DiscardedAttestation struct {
	WitnessID string `json:"witness_id"`
	Reason    string `json:"reason"`
}

// Discard reasons beyond the eligibility gates.
const (
	discardUnknownWitness   = "UnknownWitness"
	discardDIDMismatch      = "DIDMismatch"
	discardSignatureInvalid = "SignatureInvalid"
)

// Result is the full account of one processed session. Committed is
// false when the updates were computed but the ledger append did not
// acknowledge; such a session can be resubmitted verbatim. Replayed
// results come from the session index and carry the committed outcome
// and factors, not posterior snapshots.
type Result struct {
	SessionID  string                   `json:"session_id"`
	Outcome    float64                  `json:"outcome"`
	Source     OutcomeSource            `json:"source"`
	HighStakes bool                     `json:"high_stakes"`
	Updates    []ParticipantUpdate      `json:"updates"`
	Discarded  []DiscardedAttestation   `json:"discarded,omitempty"`
	Consensus  *witness.ConsensusResult `json:"consensus,omitempty"`
	PolicyHash string                   `json:"policy_hash,omitempty"`
	Sequence   uint64                   `json:"sequence"`
	Committed  bool                     `json:"committed"`
	Replayed   bool                     `json:"replayed,omitempty"`
}

// Processor drives session outcomes through verification, weighting,
// consensus, and atomic commit.
type Processor struct {
	records   reputation.Store
	directory Directory
	forks     ForkLedger
	evaluator *witness.Evaluator
	ledger    *ledger.Ledger
	exposure  witness.ExposureRecorder
	trail     audit.Logger
	verify    crypto.VerifyFunc
	policy    *Policy
	limiter   *SubmissionLimiter
	quorum    QuorumPolicy
	clock     func() time.Time
	tracer    trace.Tracer
	logger    *slog.Logger
}

// ProcessorOption configures optional collaborators.
type ProcessorOption func(*Processor)

// WithQuorumPolicy sets the quorum-failure policy.
func WithQuorumPolicy(p QuorumPolicy) ProcessorOption {
	return func(pr *Processor) { pr.quorum = p }
}

// WithVerify replaces the signature verifier, for deployments that
// verify through an external provider.
func WithVerify(v crypto.VerifyFunc) ProcessorOption {
	return func(pr *Processor) { pr.verify = v }
}

// WithPolicy installs a CEL admission policy.
func WithPolicy(p *Policy) ProcessorOption {
	return func(pr *Processor) { pr.policy = p }
}

// WithLimiter installs per-DID submission friction.
func WithLimiter(l *SubmissionLimiter) ProcessorOption {
	return func(pr *Processor) { pr.limiter = l }
}

// WithExposureRecorder records committed sessions into the witness
// exposure window, feeding the overexposure gate.
func WithExposureRecorder(r witness.ExposureRecorder) ProcessorOption {
	return func(pr *Processor) { pr.exposure = r }
}

// WithAuditTrail records commits, denials, throttles, and quorum
// rejections onto an operator-facing trail. The trail is advisory:
// write failures are logged and never fail the pipeline.
func WithAuditTrail(l audit.Logger) ProcessorOption {
	return func(pr *Processor) { pr.trail = l }
}

// NewProcessor wires the processor's collaborators. Records, directory,
// forks, evaluator, and ledger are required; the rest are options.
func NewProcessor(records reputation.Store, directory Directory, forks ForkLedger, evaluator *witness.Evaluator, led *ledger.Ledger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		records:   records,
		directory: directory,
		forks:     forks,
		evaluator: evaluator,
		ledger:    led,
		verify:    crypto.Ed25519Verify,
		quorum:    QuorumReject,
		clock:     time.Now,
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithClock replaces the wall clock, for tests and replay.
func (p *Processor) WithClock(clock func() time.Time) *Processor {
	p.clock = clock
	return p
}

// Process runs one session through the pipeline. On success every
// participant's record is updated and a session-commit entry is in the
// ledger; on any rejection no reputation state changes. The one partial
// state is a computed result whose ledger append failed: it comes back
// with Committed false alongside the error, and resubmitting the same
// session is safe.
func (p *Processor) Process(ctx context.Context, s *contracts.SessionRecord, attestations []*contracts.WitnessAttestation) (*Result, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", contracts.ErrValidation)
	}
	ctx, span := p.tracer.Start(ctx, "keel.session.process", trace.WithAttributes(
		attribute.String("keel.session.id", s.SessionID),
		attribute.Int("keel.session.participants", len(s.Participants)),
		attribute.Int("keel.session.attestations", len(attestations)),
	))
	defer span.End()

	res, err := p.process(ctx, s, attestations)
	p.auditSession(ctx, s, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.CodeForError(err))
		return res, err
	}
	span.SetAttributes(
		attribute.Float64("keel.session.outcome", res.Outcome),
		attribute.String("keel.session.source", string(res.Source)),
	)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (p *Processor) process(ctx context.Context, s *contracts.SessionRecord, attestations []*contracts.WitnessAttestation) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	now := p.clock().UTC()

	// Idempotent retry: a session already in the ledger is done, no
	// matter how many times it is resubmitted.
	if prior, err := p.committedResult(ctx, s.SessionID); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	idents, err := p.verifyParticipants(ctx, s)
	if err != nil {
		return nil, err
	}

	// Friction is charged after verification so a forged session cannot
	// drain a bystander's budget.
	if p.limiter != nil && !p.limiter.AllowAll(s.Participants) {
		return nil, fmt.Errorf("%w: session %s", contracts.ErrRateLimited, s.SessionID)
	}

	policyHash := ""
	flagged := false
	if p.policy != nil {
		if err := p.policy.Admit(s, now); err != nil {
			return nil, err
		}
		if flagged, err = p.policy.HighStakes(s, now); err != nil {
			return nil, err
		}
		policyHash = p.policy.Fingerprint()
	}

	updates, byDID, err := p.loadParticipants(ctx, s, idents, now)
	if err != nil {
		return nil, err
	}

	res := &Result{
		SessionID:  s.SessionID,
		Outcome:    s.Outcome,
		Source:     SourceReported,
		HighStakes: p.evaluator.HighStakes(s, flagged),
		PolicyHash: policyHash,
	}
	witnessed, err := p.resolveOutcome(ctx, s, attestations, res, now)
	if err != nil {
		return nil, err
	}

	// Compute phase: fold the resolved outcome into private copies.
	// Nothing shared has moved yet, so any failure here rejects the
	// session without a trace.
	for i := range updates {
		rec := byDID[updates[i].DID]
		posterior, err := reputation.ApplyUpdate(rec, res.Outcome, s.Weight, updates[i].ForkWeight, updates[i].Multiplier, now)
		if err != nil {
			return nil, err
		}
		status, err := probation.RecordOutcome(rec.Probation, res.Outcome, now)
		if err != nil {
			return nil, err
		}
		updates[i].Posterior = posterior
		updates[i].Probation = status
	}
	res.Updates = updates

	// Commit phase: the ledger append is the point of finality. Record
	// saves follow it and re-fold the committed factors on conflict, so
	// what lands in the store always matches what the ledger says.
	entry, err := p.ledger.Append(ctx, ledger.KindSessionCommit, ledgerAuthor, s.SessionID, agentIDs(updates), commitRecord(s, res))
	if err != nil {
		return res, err
	}
	res.Sequence = entry.Sequence
	res.Committed = true

	for i := range updates {
		if err := p.saveParticipant(ctx, byDID[updates[i].DID], &updates[i], res.Outcome, s.Weight, now); err != nil {
			return res, fmt.Errorf("session %s committed at sequence %d but record save failed for %s: %w",
				s.SessionID, entry.Sequence, updates[i].AgentID, err)
		}
	}

	if p.exposure != nil && len(witnessed) > 0 {
		if err := p.exposure.RecordSession(ctx, s.SessionID, s.Participants, witnessed, now); err != nil {
			p.logger.WarnContext(ctx, "exposure recording failed",
				"session_id", s.SessionID, "error", err)
		}
	}
	return res, nil
}

// committedResult consults the ledger-backed session index. A hit
// reproduces the committed result; posterior snapshots are not
// reconstructed.
func (p *Processor) committedResult(ctx context.Context, sessionID string) (*Result, error) {
	entries, err := p.ledger.BySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to consult session index: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.Kind != ledger.KindSessionCommit {
			continue
		}
		var commit CommitRecord
		if err := json.Unmarshal(e.Data, &commit); err != nil {
			return nil, fmt.Errorf("corrupt session commit at sequence %d: %w", e.Sequence, err)
		}
		res := &Result{
			SessionID:  commit.SessionID,
			Outcome:    commit.Outcome,
			Source:     commit.Source,
			HighStakes: commit.HighStakes,
			PolicyHash: commit.PolicyHash,
			Sequence:   e.Sequence,
			Committed:  true,
			Replayed:   true,
		}
		for _, cp := range commit.Participants {
			res.Updates = append(res.Updates, ParticipantUpdate{
				AgentID:    cp.AgentID,
				DID:        cp.DID,
				ForkWeight: cp.ForkWeight,
				Multiplier: cp.Multiplier,
			})
		}
		return res, nil
	}
	return nil, nil
}

func (p *Processor) verifyParticipants(ctx context.Context, s *contracts.SessionRecord) (map[string]*contracts.AgentIdentity, error) {
	idents := make(map[string]*contracts.AgentIdentity, len(s.Participants))
	for _, did := range s.Participants {
		ident, err := p.directory.Resolve(ctx, did)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", did, err)
		}
		ok, err := crypto.VerifySessionSignature(s, did, ident.PublicKey, p.verify)
		if err != nil {
			if errors.Is(err, contracts.ErrSignatureInvalid) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: participant %s: %v", contracts.ErrSignatureInvalid, did, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: participant %s", contracts.ErrSignatureInvalid, did)
		}
		idents[did] = ident
	}
	return idents, nil
}

func (p *Processor) loadParticipants(ctx context.Context, s *contracts.SessionRecord, idents map[string]*contracts.AgentIdentity, now time.Time) ([]ParticipantUpdate, map[string]*contracts.ReputationRecord, error) {
	updates := make([]ParticipantUpdate, 0, len(s.Participants))
	byDID := make(map[string]*contracts.ReputationRecord, len(s.Participants))
	for _, did := range s.Participants {
		agentID := idents[did].AgentID
		rec, err := reputation.GetOrCreate(ctx, p.records, agentID, now)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load record for %s: %w", agentID, err)
		}
		byDID[did] = rec
		updates = append(updates, ParticipantUpdate{
			AgentID:    agentID,
			DID:        did,
			ForkWeight: p.forks.CurrentForkWeight(agentID),
			Multiplier: probation.MultiplierFor(rec.Probation),
		})
	}
	return updates, byDID, nil
}

// resolveOutcome settles the outcome the updates will use, mutating res
// in place. It returns the witness ids whose attestations entered
// consensus, for exposure accounting.
func (p *Processor) resolveOutcome(ctx context.Context, s *contracts.SessionRecord, attestations []*contracts.WitnessAttestation, res *Result, now time.Time) ([]string, error) {
	if len(attestations) == 0 {
		return s.Witnesses, nil
	}

	snapshot, err := witness.TakeSnapshot(ctx, p.records, p.directory, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot witness pool: %w", err)
	}

	eligible := make([]*contracts.WitnessAttestation, 0, len(attestations))
	witnessed := make([]string, 0, len(attestations))
	for _, att := range attestations {
		if att == nil {
			return nil, fmt.Errorf("%w: nil attestation", contracts.ErrValidation)
		}
		if att.SessionID != s.SessionID {
			return nil, fmt.Errorf("%w: attestation from %s targets session %s, not %s",
				contracts.ErrValidation, att.WitnessID, att.SessionID, s.SessionID)
		}
		if err := att.Validate(); err != nil {
			return nil, err
		}

		cand, ok := snapshot.Candidate(att.WitnessID)
		if !ok {
			res.Discarded = append(res.Discarded, DiscardedAttestation{att.WitnessID, discardUnknownWitness})
			continue
		}
		if cand.DID != att.WitnessDID {
			res.Discarded = append(res.Discarded, DiscardedAttestation{att.WitnessID, discardDIDMismatch})
			continue
		}
		if !p.attestationSigned(ctx, att, cand) {
			res.Discarded = append(res.Discarded, DiscardedAttestation{att.WitnessID, discardSignatureInvalid})
			continue
		}

		err := p.evaluator.IsEligible(ctx, cand, s)
		var inel *contracts.IneligibilityError
		if errors.As(err, &inel) {
			res.Discarded = append(res.Discarded, DiscardedAttestation{att.WitnessID, string(inel.Reason)})
			continue
		}
		if err != nil {
			return nil, err
		}
		eligible = append(eligible, att)
		witnessed = append(witnessed, att.WitnessID)
	}

	consensus, err := p.evaluator.ComputeConsensus(eligible, res.HighStakes)
	switch {
	case err == nil:
		res.Outcome = consensus.Outcome
		res.Source = SourceConsensus
		res.Consensus = consensus
	case errors.Is(err, contracts.ErrInsufficientQuorum) || errors.Is(err, contracts.ErrQuorumNotReached):
		if p.quorum != QuorumFallback {
			return nil, err
		}
		res.Outcome = s.Outcome
		res.Source = SourceFallback
	default:
		return nil, err
	}
	return witnessed, nil
}

func (p *Processor) attestationSigned(ctx context.Context, att *contracts.WitnessAttestation, cand witness.Candidate) bool {
	ident, err := p.directory.Resolve(ctx, cand.DID)
	if err != nil {
		return false
	}
	ok, err := crypto.VerifyAttestationSignature(att, ident.PublicKey, p.verify)
	return err == nil && ok
}

// saveParticipant lands one computed update, re-folding the committed
// factors onto the fresh record when another session got there first.
func (p *Processor) saveParticipant(ctx context.Context, rec *contracts.ReputationRecord, u *ParticipantUpdate, outcome, weight float64, now time.Time) error {
	err := p.records.Save(ctx, rec)
	for contracts.IsConcurrentModification(err) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fresh, getErr := p.records.Get(ctx, rec.AgentID)
		if getErr != nil {
			return getErr
		}
		posterior, applyErr := reputation.ApplyUpdate(fresh, outcome, weight, u.ForkWeight, u.Multiplier, now)
		if applyErr != nil {
			return applyErr
		}
		status, probErr := probation.RecordOutcome(fresh.Probation, outcome, now)
		if probErr != nil {
			return probErr
		}
		u.Posterior = posterior
		u.Probation = status
		rec = fresh
		err = p.records.Save(ctx, rec)
	}
	return err
}

// auditSession classifies one pipeline run for the trail. Replays are
// silent: the original commit was already recorded and nothing moved.
func (p *Processor) auditSession(ctx context.Context, s *contracts.SessionRecord, res *Result, err error) {
	actor := ""
	if len(s.Participants) > 0 {
		actor = s.Participants[0]
	}
	resource := "session/" + s.SessionID

	switch {
	case err == nil && res.Replayed:
		return
	case err == nil:
		p.record(ctx, audit.EventMutation, actor, "session.commit", resource, map[string]any{
			"sequence":    res.Sequence,
			"outcome":     res.Outcome,
			"source":      string(res.Source),
			"high_stakes": res.HighStakes,
		})
	case errors.Is(err, contracts.ErrLedgerAppendFailure):
		p.record(ctx, audit.EventSystem, actor, "ledger.append_failure", resource, map[string]any{"error": err.Error()})
	case errors.Is(err, contracts.ErrRateLimited):
		p.record(ctx, audit.EventPolicy, actor, "session.throttle", resource, nil)
	case errors.Is(err, contracts.ErrPolicyDenied):
		meta := map[string]any{"error": err.Error()}
		if p.policy != nil {
			meta["policy_hash"] = p.policy.Fingerprint()
		}
		p.record(ctx, audit.EventPolicy, actor, "session.deny", resource, meta)
	case errors.Is(err, contracts.ErrInsufficientQuorum) || errors.Is(err, contracts.ErrQuorumNotReached):
		p.record(ctx, audit.EventPolicy, actor, "session.quorum_reject", resource, map[string]any{"error": err.Error()})
	default:
		p.record(ctx, audit.EventPolicy, actor, "session.reject", resource, map[string]any{
			"code":  contracts.CodeForError(err),
			"error": err.Error(),
		})
	}
}

func (p *Processor) record(ctx context.Context, typ audit.EventType, actor, action, resource string, meta map[string]any) {
	if p.trail == nil {
		return
	}
	if err := p.trail.Record(ctx, typ, actor, action, resource, meta); err != nil {
		p.logger.WarnContext(ctx, "audit trail write failed", "action", action, "error", err)
	}
}

func agentIDs(updates []ParticipantUpdate) []string {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.AgentID
	}
	return ids
}

func commitRecord(s *contracts.SessionRecord, res *Result) CommitRecord {
	commit := CommitRecord{
		SessionID:    s.SessionID,
		Outcome:      res.Outcome,
		Source:       res.Source,
		Weight:       s.Weight,
		HighStakes:   res.HighStakes,
		PolicyHash:   res.PolicyHash,
		Participants: make([]CommitParticipant, len(res.Updates)),
	}
	for i, u := range res.Updates {
		commit.Participants[i] = CommitParticipant{
			AgentID:    u.AgentID,
			DID:        u.DID,
			ForkWeight: u.ForkWeight,
			Multiplier: u.Multiplier,
		}
	}
	return commit
}
