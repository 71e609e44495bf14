// Package observability provides keel-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// keel semantic convention attributes. The session processor emits the
// same keys on its spans, so hosts filtering on them see both sides.
var (
	// Session attributes
	AttrSessionID         = attribute.Key("keel.session.id")
	AttrSessionOutcome    = attribute.Key("keel.session.outcome")
	AttrSessionSource     = attribute.Key("keel.session.source")
	AttrSessionWeight     = attribute.Key("keel.session.weight")
	AttrSessionHighStakes = attribute.Key("keel.session.high_stakes")

	// Agent and witness attributes
	AttrAgentID       = attribute.Key("keel.agent.id")
	AttrWitnessID     = attribute.Key("keel.witness.id")
	AttrDiscardReason = attribute.Key("keel.witness.discard_reason")

	// Fork attributes
	AttrForkID             = attribute.Key("keel.fork.id")
	AttrForkType           = attribute.Key("keel.fork.type")
	AttrForkEnforcedWeight = attribute.Key("keel.fork.enforced_weight")

	// Policy attributes
	AttrPolicyHash     = attribute.Key("keel.policy.hash")
	AttrPolicyDecision = attribute.Key("keel.policy.decision")

	// Ledger attributes
	AttrLedgerKind     = attribute.Key("keel.ledger.kind")
	AttrLedgerSequence = attribute.Key("keel.ledger.sequence")
)

// SessionOperation creates attributes for session processing.
func SessionOperation(sessionID, source string, weight float64, highStakes bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrSessionSource.String(source),
		AttrSessionWeight.Float64(weight),
		AttrSessionHighStakes.Bool(highStakes),
	}
}

// WitnessOperation creates attributes for witness evaluation.
func WitnessOperation(witnessID, sessionID, discardReason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrWitnessID.String(witnessID),
		AttrSessionID.String(sessionID),
		AttrDiscardReason.String(discardReason),
	}
}

// ForkOperation creates attributes for fork registration.
func ForkOperation(forkID, forkType string, enforcedWeight float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrForkID.String(forkID),
		AttrForkType.String(forkType),
		AttrForkEnforcedWeight.Float64(enforcedWeight),
	}
}

// LedgerOperation creates attributes for ledger appends.
func LedgerOperation(kind string, sequence uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLedgerKind.String(kind),
		AttrLedgerSequence.Int64(int64(sequence)),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
