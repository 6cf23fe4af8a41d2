package activation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	neighbors map[string][]string
	mentions  map[string][]string
}

func (f *fakeGraph) Neighbors(_ context.Context, name, relType string, limit int) ([]string, error) {
	return f.neighbors[name+"|"+relType], nil
}

func (f *fakeGraph) MentioningMemories(_ context.Context, entity string, limit int) ([]string, error) {
	return f.mentions[entity], nil
}

func TestSpread_SeedGetsFullActivation(t *testing.T) {
	g := &fakeGraph{mentions: map[string][]string{"alice": {"mem-1"}}}
	result := Spread(context.Background(), g, []string{"alice"})
	require.Equal(t, 1.0, result["mem-1"])
}

func TestSpread_NeighborGetsDecayedActivation(t *testing.T) {
	g := &fakeGraph{
		neighbors: map[string][]string{"alice|MENTIONS": {"bob"}},
		mentions:  map[string][]string{"alice": {"mem-1"}, "bob": {"mem-2"}},
	}
	result := Spread(context.Background(), g, []string{"alice"})
	require.Equal(t, 1.0, result["mem-1"])
	require.InDelta(t, 0.5, result["mem-2"], 1e-9)
}

func TestSpread_ReachesSecondHopWithDoubleDecay(t *testing.T) {
	g := &fakeGraph{
		neighbors: map[string][]string{
			"alice|MENTIONS": {"bob"},
			"bob|MENTIONS":   {"carol"},
		},
		mentions: map[string][]string{"alice": {"m1"}, "bob": {"m2"}, "carol": {"m3"}},
	}
	result := Spread(context.Background(), g, []string{"alice"})
	require.Contains(t, result, "m1")
	require.Contains(t, result, "m2")
	// carol sits at depth 2 (== MaxDepth) with 0.25 activation, above
	// MinPropagate, so her memory is reached but she is not expanded further.
	require.InDelta(t, 0.25, result["m3"], 1e-9)
}

func TestSpread_EmptySeedsReturnsEmpty(t *testing.T) {
	g := &fakeGraph{}
	result := Spread(context.Background(), g, nil)
	require.Empty(t, result)
}
