package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Northlight-Labs/keel/pkg/audit"
	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/ledger"
	"github.com/Northlight-Labs/keel/pkg/probation"
	"github.com/Northlight-Labs/keel/pkg/reputation"
)

// RegisterFork runs a fork event through the lineage registry, starts
// the child's probation, and appends the registration to the ledger. A
// pair already fully registered fails with the duplicate-fork fault; a
// pair whose earlier registration never reached the ledger is finished
// instead, which is what makes retrying a failed registration safe.
func (p *Processor) RegisterFork(ctx context.Context, evt *contracts.ForkEvent) (*contracts.ForkEvent, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil fork event", contracts.ErrValidation)
	}
	ctx, span := p.tracer.Start(ctx, "keel.fork.register", trace.WithAttributes(
		attribute.String("keel.fork.id", evt.ForkID),
		attribute.String("keel.fork.type", string(evt.ForkType)),
	))
	defer span.End()

	stamped, err := p.forks.Register(ctx, evt)
	if err != nil {
		if errors.Is(err, contracts.ErrDuplicateFork) {
			if prior, recovered := p.recoverFork(ctx, evt); recovered {
				span.SetStatus(codes.Ok, "")
				p.auditFork(ctx, prior)
				return prior, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.CodeForError(err))
		return nil, err
	}

	if err := p.commitFork(ctx, stamped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.CodeForError(err))
		return stamped, err
	}
	span.SetStatus(codes.Ok, "")
	p.auditFork(ctx, stamped)
	return stamped, nil
}

func (p *Processor) auditFork(ctx context.Context, evt *contracts.ForkEvent) {
	p.record(ctx, audit.EventMutation, evt.ParentID, "fork.register", "agent/"+evt.ChildID, map[string]any{
		"fork_id":         evt.ForkID,
		"fork_type":       string(evt.ForkType),
		"enforced_weight": evt.EnforcedWeight,
	})
}

// recoverFork finishes a registration that reached the fork ledger but
// not the audit ledger. Returns false for a pair already committed,
// which stays a duplicate.
func (p *Processor) recoverFork(ctx context.Context, evt *contracts.ForkEvent) (*contracts.ForkEvent, bool) {
	var prior *contracts.ForkEvent
	for _, e := range p.forks.EventsFor(evt.ChildID) {
		if e.ParentID == evt.ParentID {
			prior = e
			break
		}
	}
	if prior == nil {
		return nil, false
	}
	committed, err := p.forkCommitted(ctx, prior)
	if err != nil || committed {
		return nil, false
	}
	if err := p.commitFork(ctx, prior); err != nil {
		return nil, false
	}
	return prior, true
}

func (p *Processor) forkCommitted(ctx context.Context, evt *contracts.ForkEvent) (bool, error) {
	entries, err := p.ledger.ByAgent(ctx, evt.ChildID)
	if err != nil {
		return false, err
	}
	for i := range entries {
		if entries[i].Kind != ledger.KindForkRegistration {
			continue
		}
		var record ForkRecord
		if err := json.Unmarshal(entries[i].Data, &record); err != nil {
			continue
		}
		if record.ForkID == evt.ForkID {
			return true, nil
		}
	}
	return false, nil
}

func (p *Processor) commitFork(ctx context.Context, evt *contracts.ForkEvent) error {
	record := ForkRecord{
		ForkID:           evt.ForkID,
		ParentID:         evt.ParentID,
		ChildID:          evt.ChildID,
		ForkType:         evt.ForkType,
		EnforcedWeight:   evt.EnforcedWeight,
		ProbationExpires: evt.ProbationExpires,
	}
	if _, err := p.ledger.Append(ctx, ledger.KindForkRegistration, ledgerAuthor, "",
		[]string{evt.ParentID, evt.ChildID}, record); err != nil {
		return err
	}
	return p.stampChild(ctx, evt)
}

// stampChild starts the child's probation window and extends its
// lineage, minting the genesis record on first sight.
func (p *Processor) stampChild(ctx context.Context, evt *contracts.ForkEvent) error {
	now := p.clock().UTC()
	for {
		child, err := reputation.GetOrCreate(ctx, p.records, evt.ChildID, now)
		if err != nil {
			return err
		}
		if hasFork(child.ForkLineage, evt.ForkID) {
			return nil
		}
		child.ForkLineage = append(child.ForkLineage, evt.ForkID)
		child.Probation = probation.StartFromFork(evt)
		child.LastUpdated = now

		err = p.records.Save(ctx, child)
		if err == nil {
			return nil
		}
		if !contracts.IsConcurrentModification(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func hasFork(lineage []string, forkID string) bool {
	for _, id := range lineage {
		if id == forkID {
			return true
		}
	}
	return false
}

// PenalizeWitness applies a confirmed dispute against a witness's
// record and appends the penalty to the ledger. The engine does not
// deduplicate disputes: callers pass a stable disputeRef and must
// invoke this at most once per confirmed dispute.
func (p *Processor) PenalizeWitness(ctx context.Context, agentID string, severity float64, disputeRef string) (*reputation.UpdateResult, error) {
	ctx, span := p.tracer.Start(ctx, "keel.witness.penalize", trace.WithAttributes(
		attribute.String("keel.agent.id", agentID),
		attribute.Float64("keel.dispute.severity", severity),
	))
	defer span.End()

	result, err := p.penalize(ctx, agentID, severity, disputeRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, contracts.CodeForError(err))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	p.record(ctx, audit.EventMutation, agentID, "witness.penalize", "agent/"+agentID, map[string]any{
		"severity":    severity,
		"dispute_ref": disputeRef,
	})
	return result, nil
}

func (p *Processor) penalize(ctx context.Context, agentID string, severity float64, disputeRef string) (*reputation.UpdateResult, error) {
	now := p.clock().UTC()
	rec, err := p.records.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	result, err := reputation.PenalizeWitness(rec, severity, now)
	if err != nil {
		return nil, err
	}

	payload := PenaltyRecord{AgentID: agentID, Severity: severity, DisputeRef: disputeRef}
	if _, err := p.ledger.Append(ctx, ledger.KindWitnessPenalty, ledgerAuthor, "",
		[]string{agentID}, payload); err != nil {
		return nil, err
	}

	err = p.records.Save(ctx, rec)
	for contracts.IsConcurrentModification(err) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if rec, err = p.records.Get(ctx, agentID); err != nil {
			return nil, err
		}
		if result, err = reputation.PenalizeWitness(rec, severity, now); err != nil {
			return nil, err
		}
		err = p.records.Save(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
