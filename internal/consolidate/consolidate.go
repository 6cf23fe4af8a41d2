// Package consolidate implements on-demand/cron consolidation:
// contradiction flagging, near-duplicate merge, promotion, and demotion,
// run in bounded batches over a single partition.
package consolidate

import (
	"context"
	"time"

	"engram/internal/audit"
	"engram/internal/classify"
	"engram/internal/memory"
	"engram/internal/vecmath"
	"engram/internal/vectorstore"
)

// batchSize bounds each pairwise pass at O(batchSize^2) comparisons.
const batchSize = 200

const (
	contradictionLow  = 0.70
	contradictionHigh = 0.92
	nearDupThreshold  = 0.92
	promoteAccessCount = 10
	demoteImportance   = 0.3
	demoteStaleAfter   = 30 * 24 * time.Hour
)

// Summary tallies what one consolidation run did.
type Summary struct {
	ContradictionsFlagged int
	Merged                int
	Promoted              int
	Demoted               int
}

// Orchestrator runs consolidation over a partition.
type Orchestrator struct {
	VS     *vectorstore.Client
	Audit  *audit.Ledger // nil disables ledger append
	AgentID string
}

// Run scrolls the partition in batches of batchSize and applies Q's four
// operations within each batch.
func (o *Orchestrator) Run(ctx context.Context, partition string) (Summary, error) {
	start := time.Now()
	var summary Summary
	var offset any

	for {
		points, next, err := o.VS.Scroll(ctx, partition, batchSize, offset, vectorstore.Filters{})
		if err != nil {
			return summary, err
		}
		if len(points) == 0 {
			break
		}
		cells := make([]*memory.Cell, len(points))
		for i, p := range points {
			cells[i] = memory.CellFromPayload(p.ID, p.Vector, p.Payload)
		}

		flagged := o.flagContradictions(ctx, partition, cells)
		merged := o.mergeNearDuplicates(ctx, partition, cells)
		promoted := o.promotePopular(ctx, partition, cells)
		demoted := o.demoteStale(ctx, partition, cells)

		summary.ContradictionsFlagged += flagged
		summary.Merged += merged
		summary.Promoted += promoted
		summary.Demoted += demoted

		if next == nil {
			break
		}
		offset = next
	}

	if o.Audit != nil {
		_ = o.Audit.RecordConsolidation(ctx, o.AgentID, summary.ContradictionsFlagged, summary.Merged, summary.Promoted, summary.Demoted, time.Since(start))
	}
	return summary, nil
}

// flagContradictions patches the lower-confidence cell of every pair in the
// contradiction similarity band whose negation profiles disagree.
func (o *Orchestrator) flagContradictions(ctx context.Context, partition string, cells []*memory.Cell) int {
	count := 0
	for i := 0; i < len(cells); i++ {
		for j := i + 1; j < len(cells); j++ {
			a, b := cells[i], cells[j]
			sim := vecmath.Cosine(a.Vector, b.Vector)
			if sim < contradictionLow || sim >= contradictionHigh {
				continue
			}
			if classify.HasNegation(a.Text) == classify.HasNegation(b.Text) {
				continue
			}
			loser, winner := a, b
			if b.Confidence < a.Confidence {
				loser, winner = b, a
			}
			_ = o.VS.Patch(ctx, partition, loser.ID, map[string]any{
				"has_contradiction":  true,
				"contradiction_with": winner.ID,
				"updated_at":         time.Now().UTC(),
			})
			count++
		}
	}
	return count
}

// mergeNearDuplicates merges pairs at or above nearDupThreshold, keeping the
// cell with the higher access-count. A loser is never reused within the
// same pass.
func (o *Orchestrator) mergeNearDuplicates(ctx context.Context, partition string, cells []*memory.Cell) int {
	used := make(map[string]bool, len(cells))
	count := 0
	for i := 0; i < len(cells); i++ {
		if used[cells[i].ID] {
			continue
		}
		for j := i + 1; j < len(cells); j++ {
			if used[cells[j].ID] || used[cells[i].ID] {
				continue
			}
			a, b := cells[i], cells[j]
			if vecmath.Cosine(a.Vector, b.Vector) < nearDupThreshold {
				continue
			}
			keeper, loser := a, b
			if b.AccessCount > a.AccessCount {
				keeper, loser = b, a
			}
			o.mergeInto(ctx, partition, keeper, loser)
			used[loser.ID] = true
			count++
		}
	}
	return count
}

func (o *Orchestrator) mergeInto(ctx context.Context, partition string, keeper, loser *memory.Cell) {
	keeper.AccessCount += loser.AccessCount
	keeper.LinkedMemories = unionStrings(keeper.LinkedMemories, loser.LinkedMemories)
	if keeper.Metadata == nil {
		keeper.Metadata = make(map[string]any)
	}
	for k, v := range loser.Metadata {
		if _, exists := keeper.Metadata[k]; !exists {
			keeper.Metadata[k] = v
		}
	}
	keeper.Metadata["merged_from"] = loser.ID

	_ = o.VS.Patch(ctx, partition, keeper.ID, map[string]any{
		"access_count":    keeper.AccessCount,
		"linked_memories": keeper.LinkedMemories,
		"merged_from":     loser.ID,
		"updated_at":      time.Now().UTC(),
	})
	_ = o.VS.SoftDelete(ctx, partition, loser.ID)
}

// promotePopular sets type=core on any non-core cell accessed more than
// promoteAccessCount times.
func (o *Orchestrator) promotePopular(ctx context.Context, partition string, cells []*memory.Cell) int {
	count := 0
	for _, c := range cells {
		if c.Type == memory.TypeCore || c.AccessCount <= promoteAccessCount {
			continue
		}
		_ = o.VS.Patch(ctx, partition, c.ID, map[string]any{
			"memory_type":       string(memory.TypeCore),
			"promoted_from":     string(c.Type),
			"promotion_reason":  "access_count_exceeded_threshold",
			"updated_at":        time.Now().UTC(),
		})
		// The cell is core from here on, so demoteStale in the same pass skips it.
		c.Type = memory.TypeCore
		count++
	}
	return count
}

// demoteStale halves the priority of non-core/non-procedural cells that are
// both unimportant and long unaccessed.
func (o *Orchestrator) demoteStale(ctx context.Context, partition string, cells []*memory.Cell) int {
	now := time.Now().UTC()
	count := 0
	for _, c := range cells {
		if c.Type == memory.TypeCore || c.Type == memory.TypeProcedural {
			continue
		}
		if c.Importance >= demoteImportance {
			continue
		}
		lastAccess := c.CreatedAt
		if len(c.AccessTimes) > 0 {
			lastAccess = c.AccessTimes[len(c.AccessTimes)-1]
		}
		if now.Sub(lastAccess) < demoteStaleAfter {
			continue
		}
		_ = o.VS.Patch(ctx, partition, c.ID, map[string]any{
			"priority":          c.Priority / 2,
			"demotion_reason":   "stale_and_unimportant",
			"previous_priority": c.Priority,
			"updated_at":        now,
		})
		count++
	}
	return count
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
