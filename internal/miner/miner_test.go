package miner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/memory"
)

func cellWithVec(id string, vec []float32, domain memory.Domain, text string) *memory.Cell {
	return &memory.Cell{ID: id, Vector: vec, Domain: domain, Type: memory.TypeSemantic, Text: text}
}

func TestClusterBatchCells_GroupsSimilarVectors(t *testing.T) {
	cells := []*memory.Cell{
		cellWithVec("a", []float32{1, 0, 0}, memory.DomainTechnical, "server restarted"),
		cellWithVec("b", []float32{0.99, 0.01, 0}, memory.DomainTechnical, "server restarted again"),
		cellWithVec("c", []float32{0.98, 0.02, 0}, memory.DomainTechnical, "server restarted once more"),
		cellWithVec("d", []float32{0, 0, 1}, memory.DomainPersonal, "unrelated topic"),
	}
	patterns := clusterBatchCells(cells)
	require.Len(t, patterns, 1)
	require.Equal(t, memory.PatternCluster, patterns[0].Kind)
	require.Equal(t, 3, patterns[0].Occurrences)
}

func TestRecurringErrorPatterns_RequiresAtLeastTwoSimilarErrors(t *testing.T) {
	cells := []*memory.Cell{
		cellWithVec("a", []float32{1, 0}, memory.DomainTechnical, "database connection error timeout"),
		cellWithVec("b", []float32{0.99, 0.01}, memory.DomainTechnical, "database connection error timeout again"),
		cellWithVec("c", []float32{0, 1}, memory.DomainPersonal, "had a great lunch today"),
	}
	patterns := recurringErrorPatterns(cells)
	require.Len(t, patterns, 1)
	require.Equal(t, memory.PatternRecurringError, patterns[0].Kind)
	require.Equal(t, 2, patterns[0].Occurrences)
}

func TestTFIDF_DropsStopwordsAndUniversalTerms(t *testing.T) {
	cells := []*memory.Cell{
		cellWithVec("a", nil, memory.DomainTechnical, "kubernetes deployment failed yesterday"),
		cellWithVec("b", nil, memory.DomainTechnical, "kubernetes deployment succeeded today"),
		cellWithVec("c", nil, memory.DomainTechnical, "kubernetes rollout paused"),
		cellWithVec("d", nil, memory.DomainPersonal, "had a great lunch today"),
		cellWithVec("e", nil, memory.DomainPersonal, "weekend trip was relaxing"),
	}
	stats := TFIDF(cells)
	// "kubernetes" appears in 3/5 docs (60%, under the 80% ceiling, over the
	// 2-doc floor) and survives; "deployment" appears in exactly 2/5 docs and
	// survives too.
	require.Contains(t, stats.TopTerms, "kubernetes")
	require.Contains(t, stats.TopTerms, "deployment")
}

func TestPatternID_IsDeterministic(t *testing.T) {
	id1 := patternID("cluster", "a,b,c")
	id2 := patternID("cluster", "a,b,c")
	require.Equal(t, id1, id2)
	require.Len(t, id1, 32)
}
