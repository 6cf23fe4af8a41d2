// Package activation implements graph-based spreading activation from
// query-extracted seed entities: a breadth-first walk over the
// entity graph with exponential per-hop decay, bounded fan-out and depth.
package activation

import (
	"context"

	"engram/internal/graphstore"
)

const (
	// MaxFanOut caps neighbors expanded per node per hop.
	MaxFanOut = 10
	// MaxDepth caps the number of hops from each seed.
	MaxDepth = 2
	// HopDecay is the multiplicative activation decay applied per hop.
	HopDecay = 0.5
	// MinPropagate is the minimum activation below which a node is not
	// expanded further.
	MinPropagate = 0.1
	// MaxNodes caps the total number of distinct nodes visited.
	MaxNodes = 30
)

// Neighborer is the subset of graphstore.Client the walk needs; satisfied by
// *graphstore.Client, narrowed here so tests can substitute a fake.
type Neighborer interface {
	Neighbors(ctx context.Context, name, relType string, limit int) ([]string, error)
	MentioningMemories(ctx context.Context, entity string, limit int) ([]string, error)
}

var _ Neighborer = (*graphstore.Client)(nil)

// relTypes are the edge kinds walked during spreading activation.
var relTypes = []string{"MENTIONS", "RELATED_TO", "CO_OCCURS_WITH"}

// Result maps a memory id to the highest activation it was reached with.
type Result map[string]float64

// Spread walks outward from seeds, accumulating activation on memory ids
// mentioning each visited entity. A node already visited is not
// re-expanded even if reached again with higher activation, keeping the
// walk O(MaxNodes) regardless of graph density.
func Spread(ctx context.Context, g Neighborer, seeds []string) Result {
	result := make(Result)
	if len(seeds) == 0 || g == nil {
		return result
	}

	visited := make(map[string]bool, MaxNodes)
	type frontier struct {
		entity     string
		activation float64
		depth      int
	}
	queue := make([]frontier, 0, len(seeds))
	for _, s := range seeds {
		if s == "" {
			continue
		}
		queue = append(queue, frontier{entity: s, activation: 1.0, depth: 0})
	}

	for len(queue) > 0 && len(visited) < MaxNodes {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.entity] {
			continue
		}
		visited[cur.entity] = true

		mem, err := g.MentioningMemories(ctx, cur.entity, MaxFanOut)
		if err == nil {
			for _, id := range mem {
				if cur.activation > result[id] {
					result[id] = cur.activation
				}
			}
		}

		if cur.depth >= MaxDepth || cur.activation*HopDecay < MinPropagate {
			continue
		}
		nextActivation := cur.activation * HopDecay
		for _, rel := range relTypes {
			neighbors, err := g.Neighbors(ctx, cur.entity, rel, MaxFanOut)
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				queue = append(queue, frontier{entity: n, activation: nextActivation, depth: cur.depth + 1})
			}
		}
	}
	return result
}
