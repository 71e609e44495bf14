package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

func recordWith(agentID string, alpha, beta float64) *contracts.ReputationRecord {
	rec := contracts.NewGenesisRecord(agentID, now)
	rec.Alpha = alpha
	rec.Beta = beta
	return rec
}

func TestBoard_DeterministicRanking(t *testing.T) {
	// Scores: top 0.90, tie-a 0.70, tie-b 0.70, mid 0.60, bottom 0.20.
	records := []*contracts.ReputationRecord{
		recordWith("mid", 6, 4),
		recordWith("top", 9, 1),
		recordWith("bottom", 2, 8),
		recordWith("tie-b", 7, 3),
		recordWith("tie-a", 14, 6),
	}
	b := NewBoardFromRecords(records)

	require.Equal(t, 5, b.Count())
	assert.Equal(t, "top", b.Entries[0].AgentID)
	assert.Equal(t, 1, b.Entries[0].Rank)
	assert.Equal(t, "tie-a", b.Entries[1].AgentID, "ties break by agent id ascending")
	assert.Equal(t, "tie-b", b.Entries[2].AgentID)
	assert.Equal(t, "mid", b.Entries[3].AgentID)
	assert.Equal(t, "bottom", b.Entries[4].AgentID)
	assert.Equal(t, 5, b.Entries[4].Rank)
}

func TestTierFor_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{0.97, TierPlatinum},
		{0.95, TierGold}, // boundary is exclusive
		{0.90, TierGold},
		{0.85, TierSilver},
		{0.75, TierSilver},
		{0.70, TierBronze},
		{0.60, TierBronze},
		{0.50, TierNone},
		{0.10, TierNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierFor(tc.score), "score %.2f", tc.score)
	}
}

func TestBoard_ProvisionalFlag(t *testing.T) {
	// seasoned holds confidence 100, fresh only 5.
	b := NewBoardFromRecords([]*contracts.ReputationRecord{
		recordWith("seasoned", 60, 40),
		recordWith("fresh", 3, 2),
	})

	seasoned, ok := b.Entry("seasoned")
	require.True(t, ok)
	assert.False(t, seasoned.Provisional)

	fresh, ok := b.Entry("fresh")
	require.True(t, ok)
	assert.True(t, fresh.Provisional)
}

func TestBoard_ExportHashIgnoresBoardID(t *testing.T) {
	records := []*contracts.ReputationRecord{
		recordWith("a", 9, 1),
		recordWith("b", 6, 4),
		recordWith("c", 2, 8),
	}
	b1 := NewBoardFromRecords(records)
	b2 := NewBoardFromRecords(records)
	require.NotEqual(t, b1.BoardID, b2.BoardID)

	e1, err := b1.Export()
	require.NoError(t, err)
	e2, err := b2.Export()
	require.NoError(t, err)

	assert.Equal(t, e1.Hash, e2.Hash, "same standings must hash identically")
	assert.Equal(t, 3, e1.TotalAgents)
	assert.Equal(t, 1, e1.TierSummary[string(TierGold)])
	assert.Equal(t, 1, e1.TierSummary[string(TierBronze)])
}

func TestBoard_HashTracksStandings(t *testing.T) {
	b := NewBoardFromRecords([]*contracts.ReputationRecord{
		recordWith("a", 9, 1),
		recordWith("b", 6, 4),
	})
	before, err := b.Hash()
	require.NoError(t, err)

	b.UpdateRecord(recordWith("b", 19, 1)) // b overtakes a
	b.Rank()
	after, err := b.Hash()
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
	assert.Equal(t, "b", b.Entries[0].AgentID)
}

func TestBoard_TopNAndByTier(t *testing.T) {
	// p is platinum, g gold, s1 and s2 silver, n below every tier.
	b := NewBoardFromRecords([]*contracts.ReputationRecord{
		recordWith("p", 97, 3),
		recordWith("g", 9, 1),
		recordWith("s1", 3, 1),
		recordWith("s2", 15, 5),
		recordWith("n", 1, 9),
	})

	top2 := b.TopN(2)
	require.Len(t, top2, 2)
	assert.Equal(t, "p", top2[0].AgentID)
	assert.Equal(t, "g", top2[1].AgentID)

	assert.Len(t, b.TopN(50), 5, "TopN clamps to board size")

	silvers := b.ByTier(TierSilver)
	require.Len(t, silvers, 2)
	assert.ElementsMatch(t, []string{"s1", "s2"},
		[]string{silvers[0].AgentID, silvers[1].AgentID})
}
