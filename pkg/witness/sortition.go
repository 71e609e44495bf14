package witness

import (
	"fmt"
	"sort"

	"github.com/Northlight-Labs/keel/pkg/contracts"
	"github.com/Northlight-Labs/keel/pkg/prng"
)

// SelectionResult records a completed draw. Seed plus the candidate
// pool is enough to replay the selection bit-for-bit during an audit.
type SelectionResult struct {
	SessionID string      `json:"session_id"`
	Seed      string      `json:"seed"`
	Selected  []Candidate `json:"selected"`
}

// SelectWitnesses draws k witnesses from the pool by sortition: each
// candidate's chance per round is its score over the remaining pool's
// score sum, and winners leave the pool, so no witness is drawn twice.
// The pool is ordered by witness id before drawing, which makes the
// result a function of the pool membership and the source alone.
func SelectWitnesses(pool []Candidate, k int, src prng.Source) ([]Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: selection size %d must be positive", contracts.ErrValidation, k)
	}
	if len(pool) < k {
		return nil, fmt.Errorf("%w: need %d eligible candidates, have %d",
			contracts.ErrInsufficientPool, k, len(pool))
	}

	remaining := make([]Candidate, len(pool))
	copy(remaining, pool)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].WitnessID < remaining[j].WitnessID
	})

	selected := make([]Candidate, 0, k)
	for len(selected) < k {
		var total float64
		for _, c := range remaining {
			total += c.Score
		}

		idx := len(remaining) - 1
		if total > 0 {
			r := src.Float64() * total
			cumulative := 0.0
			for i, c := range remaining {
				cumulative += c.Score
				if r < cumulative {
					idx = i
					break
				}
			}
		} else {
			// Degenerate all-zero pool: fall back to a uniform draw.
			idx = src.Intn(len(remaining))
		}

		selected = append(selected, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return selected, nil
}

// SelectForSession derives the session's sortition seed from the root
// secret, runs the draw, and records the seed with the winners.
func SelectForSession(pool []Candidate, k int, rootSeed []byte, sessionID string) (*SelectionResult, error) {
	seed, err := prng.SessionSeed(rootSeed, sessionID)
	if err != nil {
		return nil, err
	}
	src, err := prng.New(seed)
	if err != nil {
		return nil, err
	}
	selected, err := SelectWitnesses(pool, k, src)
	if err != nil {
		return nil, err
	}
	return &SelectionResult{
		SessionID: sessionID,
		Seed:      src.Seed(),
		Selected:  selected,
	}, nil
}
