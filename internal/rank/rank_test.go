package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram/internal/intent"
	"engram/internal/memory"
)

func TestRankAndDiversify_SortsByScoreDescending(t *testing.T) {
	now := time.Now()
	strat := intent.Route("what is the deployment process")
	cands := []Candidate{
		{Cell: &memory.Cell{ID: "a", Text: "low relevance text", Importance: 0.1}, Semantic: 0.5, BM25: 0.1},
		{Cell: &memory.Cell{ID: "b", Text: "high relevance text about deployment", Importance: 0.9}, Semantic: 0.9, BM25: 0.9},
	}
	out := RankAndDiversify(cands, strat, Context{}, now, 10)
	require.Len(t, out, 2)
	require.Equal(t, "b", out[0].Cell.ID)
}

func TestRankAndDiversify_FiltersBelowMinScore(t *testing.T) {
	strat := intent.Strategy{Weights: intent.Weights{Vector: 1.0}, MinScore: 0.99, Limit: 10}
	cands := []Candidate{
		{Cell: &memory.Cell{ID: "a", Text: "x"}, Semantic: 0.1},
	}
	out := RankAndDiversify(cands, strat, Context{}, time.Now(), 10)
	require.Empty(t, out)
}

func TestDiversify_PenalizesNearDuplicateText(t *testing.T) {
	scored := []Scored{
		{Cell: &memory.Cell{ID: "a", Text: "the quick brown fox jumps"}, Score: 0.9},
		{Cell: &memory.Cell{ID: "b", Text: "The quick brown fox jumps!"}, Score: 0.89},
		{Cell: &memory.Cell{ID: "c", Text: "completely unrelated content here"}, Score: 0.8},
	}
	out := diversify(scored, 2)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].Cell.ID)
	require.Equal(t, "c", out[1].Cell.ID)
}
