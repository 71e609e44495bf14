package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxSessionWeight caps the economic significance a single session can
// carry into a reputation update.
const MaxSessionWeight = 10.0

// SessionRecord describes one completed work session submitted for
// reputation processing. Participants and signature keys are DIDs; Bond
// is an opaque reference the engine carries but never interprets.
type SessionRecord struct {
	SessionID    string            `json:"session_id"`
	Participants []string          `json:"participants"`
	Task         string            `json:"task"`
	Outcome      float64           `json:"outcome"`
	Weight       float64           `json:"weight"`
	Witnesses    []string          `json:"witnesses"`
	Bond         json.RawMessage   `json:"bond"`
	Timestamp    time.Time         `json:"timestamp"`
	Signatures   map[string]string `json:"signatures"`
}

// Validate checks ranges and identifier shape before any reputation
// math runs. Signature checks are separate and happen against resolved
// identities.
func (s *SessionRecord) Validate() error {
	switch {
	case s.SessionID == "":
		return fmt.Errorf("%w: session_id empty", ErrValidation)
	case len(s.Participants) == 0:
		return fmt.Errorf("%w: participants empty", ErrValidation)
	case s.Outcome < 0 || s.Outcome > 1:
		return fmt.Errorf("%w: outcome %v outside [0,1]", ErrValidation, s.Outcome)
	case s.Weight <= 0 || s.Weight > MaxSessionWeight:
		return fmt.Errorf("%w: weight %v outside (0,%v]", ErrValidation, s.Weight, MaxSessionWeight)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp missing", ErrValidation)
	}
	seen := make(map[string]struct{}, len(s.Participants))
	for _, did := range s.Participants {
		if did == "" {
			return fmt.Errorf("%w: empty participant DID", ErrValidation)
		}
		if _, dup := seen[did]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrValidation, did)
		}
		seen[did] = struct{}{}
	}
	return nil
}

// IsParticipant reports whether the DID appears in the participant set.
func (s *SessionRecord) IsParticipant(did string) bool {
	for _, p := range s.Participants {
		if p == did {
			return true
		}
	}
	return false
}
