package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/memory"
)

func TestContentHash_IsCaseAndWhitespaceInsensitive(t *testing.T) {
	a := ContentHash("  Deploy the Service  ")
	b := ContentHash("deploy the service")
	require.Equal(t, a, b)
}

func TestContentHash_DiffersForDifferentText(t *testing.T) {
	require.NotEqual(t, ContentHash("a"), ContentHash("b"))
}

func TestEvaluate_HighSimilaritySameTypeMerges(t *testing.T) {
	existing := &memory.Cell{Vector: []float32{1, 0}, Type: memory.TypeSemantic, Text: "the deploy runs at noon"}
	d := Evaluate(existing, "the deploy runs at noon", []float32{1, 0}, memory.TypeSemantic)
	require.Equal(t, ActionMerge, d.Action)
}

func TestEvaluate_HighSimilarityDifferentTypeIsDuplicate(t *testing.T) {
	existing := &memory.Cell{Vector: []float32{1, 0}, Type: memory.TypeSemantic, Text: "the deploy runs at noon"}
	d := Evaluate(existing, "the deploy runs at noon", []float32{1, 0}, memory.TypeEpisodic)
	require.Equal(t, ActionDuplicate, d.Action)
}

func TestEvaluate_MidBandNegationMismatchConflicts(t *testing.T) {
	existing := &memory.Cell{Vector: []float32{1, 0}, Type: memory.TypeSemantic, Text: "the service is running"}
	d := Evaluate(existing, "the service is not running", []float32{0.8, 0.6}, memory.TypeSemantic)
	require.Equal(t, ActionConflict, d.Action)
}

func TestEvaluate_LowSimilarityIsNone(t *testing.T) {
	existing := &memory.Cell{Vector: []float32{1, 0}, Type: memory.TypeSemantic, Text: "anything"}
	d := Evaluate(existing, "unrelated", []float32{0, 1}, memory.TypeSemantic)
	require.Equal(t, ActionNone, d.Action)
}

func TestMerge_KeepsIncomingIdAndMaxImportance(t *testing.T) {
	existing := &memory.Cell{ID: "old", Importance: 0.9, AccessCount: 3, LinkedMemories: []string{"x"}, Text: "old text"}
	incoming := &memory.Cell{ID: "new", Importance: 0.2, AccessCount: 1, LinkedMemories: []string{"y"}}

	merged := Merge(existing, incoming)

	require.Equal(t, "new", merged.ID)
	require.Equal(t, 0.9, merged.Importance)
	require.Equal(t, 4, merged.AccessCount)
	require.ElementsMatch(t, []string{"x", "y", "old"}, merged.LinkedMemories)
	require.Equal(t, "old", merged.Metadata["merged_from"])
}

func TestMerge_TruncatesLongPreview(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	existing := &memory.Cell{ID: "old", Text: string(long)}
	incoming := &memory.Cell{ID: "new"}

	merged := Merge(existing, incoming)

	preview := merged.Metadata["merged_from_preview"].(string)
	require.Len(t, preview, 123)
	require.True(t, preview[120:] == "...")
}
