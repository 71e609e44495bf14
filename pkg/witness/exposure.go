package witness

import (
	"context"
	"sync"
	"time"
)

// DefaultExposureWindow bounds how far back "recent sessions" reaches
// when computing witness exposure.
const DefaultExposureWindow = 30 * 24 * time.Hour

// ExposureRecorder ingests committed sessions so future eligibility
// checks see them. The processor records after commit, never before.
type ExposureRecorder interface {
	RecordSession(ctx context.Context, sessionID string, participants, witnessIDs []string, at time.Time) error
}

type exposureEvent struct {
	sessionID string
	at        time.Time
	witnesses map[string]struct{}
}

// MemoryExposure is the in-process exposure tracker: a sliding window
// of each participant's sessions and the witnesses who observed them.
type MemoryExposure struct {
	mu            sync.Mutex
	window        time.Duration
	clock         func() time.Time
	byParticipant map[string][]exposureEvent
}

// NewMemoryExposure creates a tracker with the given window; zero
// means DefaultExposureWindow.
func NewMemoryExposure(window time.Duration) *MemoryExposure {
	if window <= 0 {
		window = DefaultExposureWindow
	}
	return &MemoryExposure{
		window:        window,
		clock:         time.Now,
		byParticipant: make(map[string][]exposureEvent),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *MemoryExposure) WithClock(clock func() time.Time) *MemoryExposure {
	m.clock = clock
	return m
}

// RecordSession implements ExposureRecorder. Recording the same
// session twice for a participant is a no-op, so a retried commit does
// not inflate exposure.
func (m *MemoryExposure) RecordSession(_ context.Context, sessionID string, participants, witnessIDs []string, at time.Time) error {
	witnesses := make(map[string]struct{}, len(witnessIDs))
	for _, w := range witnessIDs {
		witnesses[w] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, participant := range participants {
		events := m.byParticipant[participant]
		duplicate := false
		for _, evt := range events {
			if evt.sessionID == sessionID {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		m.byParticipant[participant] = append(events, exposureEvent{
			sessionID: sessionID,
			at:        at,
			witnesses: witnesses,
		})
	}
	return nil
}

// Fraction implements ExposureSource: witnessed recent sessions over
// total recent sessions for the participant. A participant with no
// recent history yields zero, leaving new participants witnessable by
// anyone.
func (m *MemoryExposure) Fraction(_ context.Context, witnessID, participantDID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock().Add(-m.window)
	events := m.prune(participantDID, cutoff)
	if len(events) == 0 {
		return 0, nil
	}

	witnessed := 0
	for _, evt := range events {
		if _, ok := evt.witnesses[witnessID]; ok {
			witnessed++
		}
	}
	return float64(witnessed) / float64(len(events)), nil
}

// prune drops events older than the cutoff. Caller holds the lock.
func (m *MemoryExposure) prune(participantDID string, cutoff time.Time) []exposureEvent {
	events := m.byParticipant[participantDID]
	kept := events[:0]
	for _, evt := range events {
		if !evt.at.Before(cutoff) {
			kept = append(kept, evt)
		}
	}
	if len(kept) == 0 {
		delete(m.byParticipant, participantDID)
		return nil
	}
	m.byParticipant[participantDID] = kept
	return kept
}
