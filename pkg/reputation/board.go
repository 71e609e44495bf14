package reputation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Northlight-Labs/keel/pkg/canonicalize"
	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// Tier buckets a score for display and coarse gating.
type Tier string

const (
	TierPlatinum Tier = "PLATINUM" // > 0.95
	TierGold     Tier = "GOLD"     // > 0.85
	TierSilver   Tier = "SILVER"   // > 0.70
	TierBronze   Tier = "BRONZE"   // > 0.50
	TierNone     Tier = ""         // <= 0.50
)

// TierFor buckets a DEX score.
func TierFor(score float64) Tier {
	switch {
	case score > 0.95:
		return TierPlatinum
	case score > 0.85:
		return TierGold
	case score > 0.70:
		return TierSilver
	case score > 0.50:
		return TierBronze
	default:
		return TierNone
	}
}

// ProvisionalConfidence marks entries whose evidence mass is too thin
// for the score to mean much yet.
const ProvisionalConfidence = 50.0

// BoardEntry is one ranked agent.
type BoardEntry struct {
	Rank        int       `json:"rank"`
	AgentID     string    `json:"agent_id"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Tier        Tier      `json:"tier"`
	Provisional bool      `json:"provisional"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Board ranks agents by demonstrated expertise. Ordering is
// deterministic: score descending, agent id ascending on ties, so two
// nodes ranking the same records publish the same board.
type Board struct {
	BoardID    string       `json:"board_id"`
	ComputedAt time.Time    `json:"computed_at"`
	Entries    []BoardEntry `json:"entries"`

	mu      sync.RWMutex
	records map[string]*contracts.ReputationRecord
}

// NewBoard creates an empty standing board.
func NewBoard() *Board {
	return &Board{
		BoardID: uuid.New().String(),
		Entries: []BoardEntry{},
		records: make(map[string]*contracts.ReputationRecord),
	}
}

// NewBoardFromRecords builds and ranks a board in one step.
func NewBoardFromRecords(records []*contracts.ReputationRecord) *Board {
	b := NewBoard()
	for _, rec := range records {
		b.records[rec.AgentID] = rec.Clone()
	}
	b.Rank()
	return b
}

// UpdateRecord replaces an agent's record. Call Rank afterwards;
// batched callers update many records then rank once.
func (b *Board) UpdateRecord(rec *contracts.ReputationRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.AgentID] = rec.Clone()
}

// Rank recomputes the deterministic ordering.
func (b *Board) Rank() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Entries = make([]BoardEntry, 0, len(b.records))
	for _, rec := range b.records {
		score := rec.DEX()
		b.Entries = append(b.Entries, BoardEntry{
			AgentID:     rec.AgentID,
			Score:       score,
			Confidence:  rec.Confidence(),
			Tier:        TierFor(score),
			Provisional: rec.Confidence() < ProvisionalConfidence,
			UpdatedAt:   rec.LastUpdated,
		})
	}

	sort.SliceStable(b.Entries, func(i, j int) bool {
		if b.Entries[i].Score != b.Entries[j].Score {
			return b.Entries[i].Score > b.Entries[j].Score
		}
		return b.Entries[i].AgentID < b.Entries[j].AgentID
	})
	for i := range b.Entries {
		b.Entries[i].Rank = i + 1
	}
	b.ComputedAt = time.Now().UTC()
}

// Entry retrieves an agent's entry.
func (b *Board) Entry(agentID string) (*BoardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.Entries {
		if b.Entries[i].AgentID == agentID {
			e := b.Entries[i]
			return &e, true
		}
	}
	return nil, false
}

// TopN returns the top n entries.
func (b *Board) TopN(n int) []BoardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.Entries) {
		n = len(b.Entries)
	}
	out := make([]BoardEntry, n)
	copy(out, b.Entries[:n])
	return out
}

// ByTier returns entries holding a specific tier.
func (b *Board) ByTier(tier Tier) []BoardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []BoardEntry{}
	for _, e := range b.Entries {
		if e.Tier == tier {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of ranked agents.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.Entries)
}

// BoardExport is the publishable view with a deterministic hash over
// the rankings.
type BoardExport struct {
	BoardID     string         `json:"board_id"`
	ComputedAt  time.Time      `json:"computed_at"`
	TotalAgents int            `json:"total_agents"`
	Entries     []BoardEntry   `json:"entries"`
	TierSummary map[string]int `json:"tier_summary"`
	Hash        string         `json:"hash"`
}

// Export returns the publishable board.
func (b *Board) Export() (*BoardExport, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	export := &BoardExport{
		BoardID:     b.BoardID,
		ComputedAt:  b.ComputedAt,
		TotalAgents: len(b.Entries),
		Entries:     b.Entries,
		TierSummary: make(map[string]int),
	}
	for _, e := range b.Entries {
		export.TierSummary[string(e.Tier)]++
	}

	hash, err := b.rankingHash()
	if err != nil {
		return nil, err
	}
	export.Hash = hash
	return export, nil
}

type rankingDigest struct {
	Rank    int     `json:"rank"`
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// rankingHash hashes only rank-bearing data, so two boards with the
// same standings hash identically whatever their board ids.
func (b *Board) rankingHash() (string, error) {
	digests := make([]rankingDigest, 0, len(b.Entries))
	for _, e := range b.Entries {
		digests = append(digests, rankingDigest{Rank: e.Rank, AgentID: e.AgentID, Score: e.Score})
	}
	return canonicalize.CanonicalHash(digests)
}

// Hash returns the deterministic hash of the current standings.
func (b *Board) Hash() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rankingHash()
}
