// Package replay rebuilds reputation state from the audit ledger and
// checks it against the live record store. Commit entries carry the
// inputs of each update, never the resulting posterior, so folding an
// agent's entries from the genesis priors must land exactly on the
// stored record. Any gap is either store damage or a half-finished
// commit; the harness reports the first differing field and hands back
// the rebuilt record, leaving repair to the operator.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/ledger"
	"github.com/Northlight-Labs/keel/pkg/probation"
	"github.com/Northlight-Labs/keel/pkg/reputation"
	"github.com/Northlight-Labs/keel/pkg/session"
)

// Status classifies one agent's audit.
type Status string

const (
	StatusMatch    Status = "MATCH"
	StatusDiverged Status = "DIVERGED"
)

// Step records the posterior after folding one ledger entry, for
// tracing where a rebuild and a live record parted ways.
type Step struct {
	Sequence uint64           `json:"sequence"`
	Kind     ledger.EntryKind `json:"kind"`
	Alpha    float64          `json:"alpha"`
	Beta     float64          `json:"beta"`
}

// Divergence names the first field where the rebuilt record and the
// live record disagree. Want is what the ledger proves; Got is what
// the store holds.
type Divergence struct {
	AgentID string `json:"agent_id"`
	Field   string `json:"field"`
	Want    string `json:"want"`
	Got     string `json:"got"`
}

// Result is one agent's audit: the rebuilt record, how many entries
// fed it, and the divergence if any.
type Result struct {
	AgentID    string                      `json:"agent_id"`
	Status     Status                      `json:"status"`
	Steps      int                         `json:"steps"`
	Rebuilt    *contracts.ReputationRecord `json:"rebuilt"`
	Divergence *Divergence                 `json:"divergence,omitempty"`
	Trace      []Step                      `json:"trace,omitempty"`
}

// Report is a whole-store audit. A chain error means the ledger itself
// failed verification; no per-agent audits run over a broken chain.
type Report struct {
	CheckedAt  time.Time `json:"checked_at"`
	Agents     int       `json:"agents"`
	Matched    int       `json:"matched"`
	Diverged   []Result  `json:"diverged,omitempty"`
	ChainError string    `json:"chain_error,omitempty"`
}

// Harness audits a record store against its ledger. It holds no state
// and never writes; the rebuilt records it returns are the repair
// material.
type Harness struct {
	ledger  *ledger.Ledger
	records reputation.Store
	epsilon float64
	trace   bool
	clock   func() time.Time
}

// Option adjusts harness behavior.
type Option func(*Harness)

// WithEpsilon overrides the float tolerance for alpha/beta comparison.
func WithEpsilon(e float64) Option {
	return func(h *Harness) { h.epsilon = e }
}

// WithTrace records the per-entry posterior trace on every result.
func WithTrace() Option {
	return func(h *Harness) { h.trace = true }
}

// NewHarness builds a harness over a ledger and the store it audits.
func NewHarness(led *ledger.Ledger, records reputation.Store, opts ...Option) *Harness {
	h := &Harness{
		ledger:  led,
		records: records,
		epsilon: 1e-9,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithClock overrides the clock for testing.
func (h *Harness) WithClock(clock func() time.Time) *Harness {
	h.clock = clock
	return h
}

// Rebuild folds an agent's ledger entries from the genesis priors and
// returns the resulting record with the per-entry trace. An agent with
// no entries rebuilds to the genesis record.
func (h *Harness) Rebuild(ctx context.Context, agentID string) (*contracts.ReputationRecord, []Step, error) {
	entries, err := h.ledger.ByAgent(ctx, agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load ledger history for %s: %w", agentID, err)
	}

	rec := contracts.NewGenesisRecord(agentID, time.Time{})
	steps := make([]Step, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		folded, err := h.fold(rec, agentID, e)
		if err != nil {
			return nil, nil, err
		}
		if !folded {
			continue
		}
		steps = append(steps, Step{Sequence: e.Sequence, Kind: e.Kind, Alpha: rec.Alpha, Beta: rec.Beta})
	}
	return rec, steps, nil
}

// fold applies one entry to the record. Entries indexed to the agent
// but carrying no state change for it (the parent side of a fork)
// report false.
func (h *Harness) fold(rec *contracts.ReputationRecord, agentID string, e *ledger.Entry) (bool, error) {
	switch e.Kind {
	case ledger.KindSessionCommit:
		var commit session.CommitRecord
		if err := json.Unmarshal(e.Data, &commit); err != nil {
			return false, fmt.Errorf("corrupt session commit at sequence %d: %w", e.Sequence, err)
		}
		part, ok := participantFor(&commit, agentID)
		if !ok {
			return false, nil
		}
		if _, err := reputation.ApplyUpdate(rec, commit.Outcome, commit.Weight, part.ForkWeight, part.Multiplier, e.Timestamp); err != nil {
			return false, fmt.Errorf("replaying sequence %d: %w", e.Sequence, err)
		}
		if _, err := probation.RecordOutcome(rec.Probation, commit.Outcome, e.Timestamp); err != nil {
			return false, fmt.Errorf("replaying sequence %d: %w", e.Sequence, err)
		}
		return true, nil

	case ledger.KindForkRegistration:
		var fork session.ForkRecord
		if err := json.Unmarshal(e.Data, &fork); err != nil {
			return false, fmt.Errorf("corrupt fork registration at sequence %d: %w", e.Sequence, err)
		}
		if fork.ChildID != agentID {
			return false, nil
		}
		rec.ForkLineage = append(rec.ForkLineage, fork.ForkID)
		rec.Probation = probation.Start(fork.ProbationExpires)
		rec.LastUpdated = e.Timestamp.UTC()
		return true, nil

	case ledger.KindWitnessPenalty:
		var penalty session.PenaltyRecord
		if err := json.Unmarshal(e.Data, &penalty); err != nil {
			return false, fmt.Errorf("corrupt witness penalty at sequence %d: %w", e.Sequence, err)
		}
		if penalty.AgentID != agentID {
			return false, nil
		}
		if _, err := reputation.PenalizeWitness(rec, penalty.Severity, e.Timestamp); err != nil {
			return false, fmt.Errorf("replaying sequence %d: %w", e.Sequence, err)
		}
		return true, nil
	}
	// Unknown kinds fold nothing; newer engines may write kinds this
	// one does not know.
	return false, nil
}

// Audit rebuilds one agent and compares the result to the live record.
func (h *Harness) Audit(ctx context.Context, agentID string) (*Result, error) {
	rebuilt, steps, err := h.Rebuild(ctx, agentID)
	if err != nil {
		return nil, err
	}

	live, err := h.records.Get(ctx, agentID)
	if err != nil && !contracts.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load live record for %s: %w", agentID, err)
	}

	res := &Result{AgentID: agentID, Status: StatusMatch, Steps: len(steps), Rebuilt: rebuilt}
	if h.trace {
		res.Trace = steps
	}
	if d := h.compare(agentID, rebuilt, live); d != nil {
		res.Status = StatusDiverged
		res.Divergence = d
	}
	return res, nil
}

// AuditAll verifies the chain, then audits every agent known to either
// the store or the ledger. Chain verification failure short-circuits:
// a broken chain proves nothing about any record.
func (h *Harness) AuditAll(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: h.clock().UTC()}
	if err := h.ledger.Verify(ctx); err != nil {
		report.ChainError = err.Error()
		return report, nil
	}

	agents, err := h.agentSet(ctx)
	if err != nil {
		return nil, err
	}
	for _, agentID := range agents {
		res, err := h.Audit(ctx, agentID)
		if err != nil {
			return nil, err
		}
		report.Agents++
		if res.Status == StatusMatch {
			report.Matched++
		} else {
			report.Diverged = append(report.Diverged, *res)
		}
	}
	return report, nil
}

// agentSet unions store agents with ledger agents so a record missing
// from either side still gets audited.
func (h *Harness) agentSet(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}

	records, err := h.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	for _, rec := range records {
		seen[rec.AgentID] = struct{}{}
	}

	entries, err := h.ledger.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	for i := range entries {
		for _, agentID := range entries[i].AgentIDs {
			seen[agentID] = struct{}{}
		}
	}

	agents := make([]string, 0, len(seen))
	for agentID := range seen {
		agents = append(agents, agentID)
	}
	sort.Strings(agents)
	return agents, nil
}

func (h *Harness) compare(agentID string, rebuilt, live *contracts.ReputationRecord) *Divergence {
	if live == nil {
		return &Divergence{AgentID: agentID, Field: "record", Want: "present", Got: "missing"}
	}
	if math.Abs(rebuilt.Alpha-live.Alpha) > h.epsilon {
		return &Divergence{AgentID: agentID, Field: "alpha", Want: formatFloat(rebuilt.Alpha), Got: formatFloat(live.Alpha)}
	}
	if math.Abs(rebuilt.Beta-live.Beta) > h.epsilon {
		return &Divergence{AgentID: agentID, Field: "beta", Want: formatFloat(rebuilt.Beta), Got: formatFloat(live.Beta)}
	}
	if !slices.Equal(rebuilt.ForkLineage, live.ForkLineage) {
		return &Divergence{AgentID: agentID, Field: "fork_lineage",
			Want: fmt.Sprintf("%v", rebuilt.ForkLineage), Got: fmt.Sprintf("%v", live.ForkLineage)}
	}

	wantStatus := probation.StatusOf(rebuilt.Probation)
	gotStatus := probation.StatusOf(live.Probation)
	if wantStatus != gotStatus {
		return &Divergence{AgentID: agentID, Field: "probation", Want: string(wantStatus), Got: string(gotStatus)}
	}
	if rebuilt.Probation != nil && live.Probation != nil {
		if rebuilt.Probation.SuccessesCount != live.Probation.SuccessesCount {
			return &Divergence{AgentID: agentID, Field: "probation_successes",
				Want: strconv.Itoa(rebuilt.Probation.SuccessesCount), Got: strconv.Itoa(live.Probation.SuccessesCount)}
		}
		if !rebuilt.Probation.ExpiresAt.Equal(live.Probation.ExpiresAt) {
			return &Divergence{AgentID: agentID, Field: "probation_expires",
				Want: rebuilt.Probation.ExpiresAt.Format(time.RFC3339Nano),
				Got:  live.Probation.ExpiresAt.Format(time.RFC3339Nano)}
		}
	}
	return nil
}

func participantFor(commit *session.CommitRecord, agentID string) (session.CommitParticipant, bool) {
	for _, p := range commit.Participants {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return session.CommitParticipant{}, false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
