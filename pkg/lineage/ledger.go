package lineage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/crypto"
)

// KeyDirectory returns the signing key for an agent. The identity
// registry satisfies this.
type KeyDirectory interface {
	PublicKeyOf(ctx context.Context, agentID string) (string, error)
}

// Ledger is the append-only fork record. One event per (parent, child)
// pair; registration is linearized so a concurrent duplicate loses
// cleanly.
type Ledger struct {
	mu       sync.RWMutex
	registry *Registry
	keys     KeyDirectory
	verify   crypto.VerifyFunc
	clock    func() time.Time

	byPair  map[pairKey]*contracts.ForkEvent
	byChild map[string][]*contracts.ForkEvent
	byID    map[string]*contracts.ForkEvent
}

type pairKey struct {
	parent string
	child  string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// NewLedger builds a fork ledger. keys and verify back the fork-author
// signature check; registry decides enforced weights.
func NewLedger(registry *Registry, keys KeyDirectory, verify crypto.VerifyFunc, opts ...Option) *Ledger {
	l := &Ledger{
		registry: registry,
		keys:     keys,
		verify:   verify,
		clock:    time.Now,
		byPair:   make(map[pairKey]*contracts.ForkEvent),
		byChild:  make(map[string][]*contracts.ForkEvent),
		byID:     make(map[string]*contracts.ForkEvent),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewForkEvent builds an unsigned fork event with a fresh id, ready for
// the initiator to sign and register.
func NewForkEvent(parentID, childID string, ft contracts.ForkType, claimedWeight float64, now time.Time) *contracts.ForkEvent {
	return &contracts.ForkEvent{
		ForkID:        uuid.NewString(),
		ParentID:      parentID,
		ChildID:       childID,
		ForkType:      ft,
		ClaimedWeight: claimedWeight,
		Timestamp:     now.UTC(),
	}
}

// Register validates and records a fork event. On success the returned
// event carries the registry-enforced weight and probation window; the
// caller's claimed weight is stored untouched and unused.
//
// Failure order: structural validation, author signature, fork type,
// duplicate pair. No state changes on any failure.
func (l *Ledger) Register(ctx context.Context, evt *contracts.ForkEvent) (*contracts.ForkEvent, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil fork event", contracts.ErrValidation)
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}

	pubKey, err := l.keys.PublicKeyOf(ctx, evt.ParentID)
	if err != nil {
		return nil, fmt.Errorf("resolve fork author %s: %w", evt.ParentID, err)
	}
	ok, err := crypto.VerifyForkEventSignature(evt, pubKey, l.verify)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: fork %s author signature", contracts.ErrSignatureInvalid, evt.ForkID)
	}

	policy, err := l.registry.PolicyFor(evt.ForkType)
	if err != nil {
		return nil, err
	}

	now := l.clock().UTC()
	stamped := *evt
	stamped.EnforcedWeight = policy.EnforcedWeight
	stamped.ProbationPeriod = int64(policy.ProbationPeriod / time.Second)
	stamped.ProbationExpires = now.Add(policy.ProbationPeriod)

	key := pairKey{parent: evt.ParentID, child: evt.ChildID}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byPair[key]; exists {
		return nil, fmt.Errorf("%w: pair (%s, %s) already recorded", contracts.ErrDuplicateFork, evt.ParentID, evt.ChildID)
	}
	if _, exists := l.byID[stamped.ForkID]; exists {
		return nil, fmt.Errorf("%w: fork id %s", contracts.ErrDuplicateFork, stamped.ForkID)
	}
	l.byPair[key] = &stamped
	l.byID[stamped.ForkID] = &stamped
	l.byChild[evt.ChildID] = append(l.byChild[evt.ChildID], &stamped)
	sort.SliceStable(l.byChild[evt.ChildID], func(i, j int) bool {
		return l.byChild[evt.ChildID][i].Timestamp.Before(l.byChild[evt.ChildID][j].Timestamp)
	})

	out := stamped
	return &out, nil
}

// CurrentForkWeight returns the enforced weight of the agent's most
// recent fork, or 1.0 for an agent that has never forked. Only the
// latest generation's weight applies to new updates; ancestor forks do
// not compound.
func (l *Ledger) CurrentForkWeight(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.byChild[agentID]
	if len(events) == 0 {
		return 1.0
	}
	return events[len(events)-1].EnforcedWeight
}

// LatestFork returns the agent's most recent fork event, or nil.
func (l *Ledger) LatestFork(agentID string) *contracts.ForkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.byChild[agentID]
	if len(events) == 0 {
		return nil
	}
	out := *events[len(events)-1]
	return &out
}

// EventsFor returns the agent's fork events in timestamp order.
func (l *Ledger) EventsFor(agentID string) []*contracts.ForkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.byChild[agentID]
	out := make([]*contracts.ForkEvent, 0, len(events))
	for _, e := range events {
		c := *e
		out = append(out, &c)
	}
	return out
}

// Event looks up a fork event by id.
func (l *Ledger) Event(forkID string) (*contracts.ForkEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byID[forkID]
	if !ok {
		return nil, fmt.Errorf("%w: fork %s", contracts.ErrNotFound, forkID)
	}
	out := *e
	return &out, nil
}

// AncestryOf walks the fork chain from the agent to its root,
// most recent generation first. Parent references are by value, so a
// malformed cycle terminates instead of spinning.
func (l *Ledger) AncestryOf(agentID string) []*contracts.ForkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var chain []*contracts.ForkEvent
	seen := map[string]bool{agentID: true}
	current := agentID
	for {
		events := l.byChild[current]
		if len(events) == 0 {
			break
		}
		latest := events[len(events)-1]
		c := *latest
		chain = append(chain, &c)
		if seen[latest.ParentID] {
			break
		}
		seen[latest.ParentID] = true
		current = latest.ParentID
	}
	return chain
}
