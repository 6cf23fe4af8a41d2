package vecmath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosine_IdenticalVectorsAreOne(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosine_OrthogonalVectorsAreZero(t *testing.T) {
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosine_MismatchedOrZeroLengthYieldsZero(t *testing.T) {
	require.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1}))
	require.Equal(t, 0.0, Cosine(nil, nil))
}

func TestCosine_ZeroMagnitudeYieldsZero(t *testing.T) {
	require.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestJaccardWords_SharedLongWordsOverlap(t *testing.T) {
	sim := JaccardWords("the deploy script failed", "the deploy pipeline failed")
	require.Greater(t, sim, 0.0)
	require.LessOrEqual(t, sim, 1.0)
}

func TestJaccardWords_NoSharedWordsIsZero(t *testing.T) {
	require.Equal(t, 0.0, JaccardWords("apples oranges", "bananas grapes"))
}

func TestJaccardWords_ShortWordsAreIgnored(t *testing.T) {
	require.Equal(t, 0.0, JaccardWords("a an is", "a an is"))
}
