// Package dream implements the long background batch compactor: a
// budget-respecting sweep of aggressive dedup, episodic-to-semantic merge,
// pruning, strengthening, and optional pattern mining.
package dream

import (
	"context"
	"time"

	"engram/internal/decay"
	"engram/internal/memory"
	"engram/internal/miner"
	"engram/internal/vecmath"
	"engram/internal/vectorstore"
)

const (
	defaultBudget = 5 * time.Minute
	scrollBatch   = 200

	aggressiveDedupThreshold = 0.88
	episodicMergeThreshold   = 0.80
	pruneActivationCeiling   = -4.0
	pruneImportanceCeiling   = 0.2
	strengthenAccessCount    = 5
	strengthenImportanceBump = 0.1
	usefulnessRatioFloor     = 0.5
	strengthenConfidenceBump = 0.05

	miningMinRemaining = 60 * time.Second
	minRunInterval      = 12 * time.Hour
)

// markerID is the per-agent marker cell deterministic id.
func markerID(agentID string) string {
	return "dream-meta-" + agentID
}

// Summary tallies one dream run.
type Summary struct {
	Merged      int
	Pruned      int
	Strengthened int
	Mined        int
	Aborted      bool
}

// Orchestrator runs the dream compactor over a partition.
type Orchestrator struct {
	VS      *vectorstore.Client
	Miner   *miner.Orchestrator // nil disables the optional mining phase
	AgentID string
	Budget  time.Duration
}

// ShouldRun reports whether at least minRunInterval has elapsed since the
// last recorded dream run, consulting the marker cell.
func (o *Orchestrator) ShouldRun(ctx context.Context, partition string) bool {
	p, err := o.VS.Get(ctx, partition, markerID(o.AgentID))
	if err != nil || p.Payload == nil {
		return true
	}
	last, ok := p.Payload["last_run"]
	if !ok {
		return true
	}
	lastTime := memory.CellFromPayload("", nil, map[string]any{"updated_at": last}).UpdatedAt
	if lastTime.IsZero() {
		return true
	}
	return time.Since(lastTime) >= minRunInterval
}

// recordRun writes/refreshes the marker cell with a zero vector plus a tiny
// perturbation so it never collides with a legitimate all-zero embedding.
func (o *Orchestrator) recordRun(ctx context.Context, partition string, dims int) {
	vec := make([]float32, dims)
	if dims > 0 {
		vec[0] = 1e-6
	}
	_ = o.VS.Upsert(ctx, partition, markerID(o.AgentID), vec, map[string]any{
		"memory_type": string(memory.TypeCore),
		"scope":       "dream_marker",
		"last_run":    time.Now().UTC(),
		"updated_at":  time.Now().UTC(),
		"deleted":     false,
	})
}

// Run executes the dream pipeline, stopping cleanly at a phase boundary
// once the budget is exhausted.
func (o *Orchestrator) Run(ctx context.Context, partition string, embeddingDims int) (Summary, error) {
	budget := o.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	deadline := time.Now().Add(budget)

	var summary Summary

	cells, err := o.scrollAll(ctx, partition)
	if err != nil {
		return summary, err
	}

	if time.Now().After(deadline) {
		summary.Aborted = true
		o.recordRun(ctx, partition, embeddingDims)
		return summary, nil
	}
	merged, cells := o.aggressiveDedup(ctx, partition, cells)
	summary.Merged += merged

	if time.Now().After(deadline) {
		summary.Aborted = true
		o.recordRun(ctx, partition, embeddingDims)
		return summary, nil
	}
	merged, cells = o.episodicToSemantic(ctx, partition, cells)
	summary.Merged += merged

	if time.Now().After(deadline) {
		summary.Aborted = true
		o.recordRun(ctx, partition, embeddingDims)
		return summary, nil
	}
	pruned, cells := o.prune(ctx, partition, cells)
	summary.Pruned += pruned

	if time.Now().After(deadline) {
		summary.Aborted = true
		o.recordRun(ctx, partition, embeddingDims)
		return summary, nil
	}
	summary.Strengthened += o.strengthen(ctx, partition, cells)

	remaining := time.Until(deadline)
	if remaining > miningMinRemaining && o.Miner != nil {
		result, err := o.Miner.Run(ctx, partition)
		if err == nil {
			summary.Mined = len(result.Patterns)
		}
	}

	o.recordRun(ctx, partition, embeddingDims)
	return summary, nil
}

func (o *Orchestrator) scrollAll(ctx context.Context, partition string) ([]*memory.Cell, error) {
	var out []*memory.Cell
	var offset any
	for {
		points, next, err := o.VS.Scroll(ctx, partition, scrollBatch, offset, vectorstore.Filters{})
		if err != nil {
			return out, err
		}
		for _, p := range points {
			if p.ID == markerID(o.AgentID) {
				continue
			}
			out = append(out, memory.CellFromPayload(p.ID, p.Vector, p.Payload))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	return out, nil
}

// aggressiveDedup merges intra-batch pairs at or above aggressiveDedupThreshold,
// keeping the higher-access-count cell and never reusing a loser, as Q's
// near-dup merge does, at a looser threshold. The merge itself is merge's:
// access times and links are joined and the higher importance is kept;
// access counts are not summed.
func (o *Orchestrator) aggressiveDedup(ctx context.Context, partition string, cells []*memory.Cell) (int, []*memory.Cell) {
	used := make(map[string]bool, len(cells))
	count := 0
	for i := 0; i < len(cells); i++ {
		if used[cells[i].ID] {
			continue
		}
		for j := i + 1; j < len(cells); j++ {
			if used[cells[i].ID] {
				break
			}
			if used[cells[j].ID] {
				continue
			}
			a, b := cells[i], cells[j]
			if vecmath.Cosine(a.Vector, b.Vector) < aggressiveDedupThreshold {
				continue
			}
			keeper, loser := a, b
			if b.AccessCount > a.AccessCount {
				keeper, loser = b, a
			}
			o.merge(ctx, partition, keeper, loser, "")
			used[loser.ID] = true
			count++
		}
	}
	return count, survivors(cells, used)
}

// episodicToSemantic greedily clusters episodic cells at episodicMergeThreshold
// and converts the cluster's keeper to semantic.
func (o *Orchestrator) episodicToSemantic(ctx context.Context, partition string, cells []*memory.Cell) (int, []*memory.Cell) {
	// claimed marks a cell as already placed in some cluster, so it is never
	// picked as a fresh seed or re-grouped elsewhere. deleted marks only the
	// losers that were actually soft-deleted; the keeper of each cluster
	// stays claimed but must still appear in the survivor set.
	claimed := make(map[string]bool, len(cells))
	deleted := make(map[string]bool, len(cells))
	count := 0
	for i := 0; i < len(cells); i++ {
		if claimed[cells[i].ID] || cells[i].Type != memory.TypeEpisodic {
			continue
		}
		cluster := []*memory.Cell{cells[i]}
		for j := i + 1; j < len(cells); j++ {
			if claimed[cells[j].ID] || cells[j].Type != memory.TypeEpisodic {
				continue
			}
			if vecmath.Cosine(cells[i].Vector, cells[j].Vector) < episodicMergeThreshold {
				continue
			}
			cluster = append(cluster, cells[j])
		}
		if len(cluster) < 2 {
			continue
		}
		keeper := cluster[0]
		for _, c := range cluster[1:] {
			if c.AccessCount > keeper.AccessCount {
				keeper = c
			}
		}
		for _, c := range cluster {
			claimed[c.ID] = true
			if c.ID == keeper.ID {
				continue
			}
			o.merge(ctx, partition, keeper, c, string(memory.TypeSemantic))
			deleted[c.ID] = true
			count++
		}
	}
	return count, survivors(cells, deleted)
}

func (o *Orchestrator) merge(ctx context.Context, partition string, keeper, loser *memory.Cell, newType string) {
	keeper.AccessTimes = append(keeper.AccessTimes, loser.AccessTimes...)
	keeper.LinkedMemories = unionStrings(keeper.LinkedMemories, loser.LinkedMemories)
	if loser.Importance > keeper.Importance {
		keeper.Importance = loser.Importance
	}
	patch := map[string]any{
		"access_times":    keeper.AccessTimes,
		"linked_memories": keeper.LinkedMemories,
		"importance":      keeper.Importance,
		"merged_from":     loser.ID,
		"updated_at":      time.Now().UTC(),
	}
	if newType != "" {
		patch["memory_type"] = newType
		keeper.Type = memory.MemoryType(newType)
	}
	_ = o.VS.Patch(ctx, partition, keeper.ID, patch)
	_ = o.VS.SoftDelete(ctx, partition, loser.ID)
}

func (o *Orchestrator) prune(ctx context.Context, partition string, cells []*memory.Cell) (int, []*memory.Cell) {
	now := time.Now().UTC()
	used := make(map[string]bool, len(cells))
	count := 0
	for _, c := range cells {
		if c.NeverArchived() {
			continue
		}
		if c.Importance >= pruneImportanceCeiling {
			continue
		}
		a := decay.Activation(c, now)
		if a >= pruneActivationCeiling {
			continue
		}
		_ = o.VS.Patch(ctx, partition, c.ID, map[string]any{
			"deleted":     true,
			"prune_reason": "low_activation_and_importance",
			"updated_at":  now,
		})
		used[c.ID] = true
		count++
	}
	return count, survivors(cells, used)
}

func (o *Orchestrator) strengthen(ctx context.Context, partition string, cells []*memory.Cell) int {
	count := 0
	for _, c := range cells {
		importance := c.Importance
		confidence := c.Confidence
		changed := false
		if c.AccessCount > strengthenAccessCount {
			importance = clamp01(importance + strengthenImportanceBump)
			changed = true
		}
		usefulCount, _ := c.Metadata["useful_count"].(float64)
		hitCount, _ := c.Metadata["hit_count"].(float64)
		if hitCount > 0 && usefulCount/hitCount > usefulnessRatioFloor {
			confidence = clamp01(confidence + strengthenConfidenceBump)
			changed = true
		}
		if !changed {
			continue
		}
		_ = o.VS.Patch(ctx, partition, c.ID, map[string]any{
			"importance": importance,
			"confidence": confidence,
			"updated_at": time.Now().UTC(),
		})
		count++
	}
	return count
}

func survivors(cells []*memory.Cell, removed map[string]bool) []*memory.Cell {
	out := make([]*memory.Cell, 0, len(cells))
	for _, c := range cells {
		if !removed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
