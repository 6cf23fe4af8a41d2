// Package store implements the store orchestrator: the write-path
// pipeline from raw text to a persisted, linked, indexed memory cell.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"engram/internal/broadcast"
	"engram/internal/cache"
	"engram/internal/classify"
	"engram/internal/dedup"
	"engram/internal/embedding"
	"engram/internal/engerr"
	"engram/internal/extraction"
	"engram/internal/graphstore"
	"engram/internal/keyword"
	"engram/internal/linker"
	"engram/internal/memory"
	"engram/internal/observability"
	"engram/internal/vectorstore"
)

// dedupSearchMinScore is the similarity floor used to find dedup candidate
// peers. It is below dedup's 0.92 merge/duplicate threshold but above its
// 0.70 conflict floor, so only conflict candidates scoring 0.85 or more
// are surfaced.
const dedupSearchMinScore = 0.85

// Action is the outcome the caller observes from Store.
type Action string

const (
	ActionCreated        Action = "created"
	ActionMerged         Action = "merged"
	ActionDuplicate      Action = "duplicate"
	ActionBlockedSecret  Action = "blocked_secret"
	ActionConflictFlagged Action = "conflict_flagged"
)

// Result is what Store returns.
type Result struct {
	Action Action
	Cell   *memory.Cell
}

// Input is one store request.
type Input struct {
	Text      string
	AgentID   string
	UserID    string
	Category  string
	EventTime *time.Time
}

// Collections names the vector-store partitions the orchestrator writes to.
type Collections struct {
	Shared  string
	Private string
}

// Orchestrator wires together every component the store pipeline touches.
type Orchestrator struct {
	VS         *vectorstore.Client
	Embed      *embedding.Client
	Extract    *extraction.Client // nil disables external enrichment
	Graph      *graphstore.Client // nil disables graph ingest
	Broadcast  broadcast.Broadcaster // nil disables publishing
	Cache      *cache.Cache
	Keyword    *keyword.Index
	Collections Collections

	AutoLinkThreshold float64
	AutoLinkK         int
	EnableAutoLink    bool
	EnableGraph       bool
	EnableBroadcast   bool
}

// Store runs the full write pipeline for one piece of text.
func (o *Orchestrator) Store(ctx context.Context, in Input) (Result, error) {
	cctx := classify.Context{AgentID: in.AgentID, HasUser: in.UserID != ""}
	cls := classify.Security(in.Text, cctx)
	if cls == memory.ClassSecret {
		return Result{Action: ActionBlockedSecret}, nil
	}

	vec, err := o.Embed.Embed(ctx, in.Text)
	if err != nil {
		return Result{}, err
	}

	partition := o.partitionFor(cls)
	newType := classify.Type(in.Text)

	peer, decision := o.findDedupPeer(ctx, partition, vec, in.Text, newType)

	conflictFlagged := false
	if decision.Action == dedup.ActionDuplicate {
		return Result{Action: ActionDuplicate, Cell: peer}, nil
	}
	if decision.Action == dedup.ActionConflict {
		conflictFlagged = true
		if o.EnableBroadcast && o.Broadcast != nil {
			broadcast.Dispatch(ctx, o.Broadcast, peer, memory.EventConflictResolved)
		}
	}

	entities := o.extractEntities(ctx, in.Text)
	urgency := classify.UrgencyOf(in.Text)
	domain := classify.DomainOf(in.Text)
	priority := classify.Priority(urgency, domain)
	tags := classify.Tags(in.Text, domain)

	now := time.Now().UTC()
	cell := &memory.Cell{
		ID:             uuid.New().String(),
		Text:           in.Text,
		Category:       in.Category,
		Type:           newType,
		Classification: cls,
		Urgency:        urgency,
		Domain:         domain,
		ConfidenceTag:  memory.ConfidenceGrounded,
		Confidence:     0.8,
		Importance:     0.5,
		Priority:       priority,
		AgentID:        in.AgentID,
		UserID:         in.UserID,
		Scope:          scopeFor(cls),
		IngestedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Vector:         vec,
		Metadata:       map[string]any{"tags": tags, "entities": entities},
	}
	if in.EventTime != nil {
		cell.EventTime = *in.EventTime
	}

	action := ActionCreated
	if decision.Action == dedup.ActionMerge {
		cell = dedup.Merge(peer, cell)
		action = ActionMerged
	}
	if conflictFlagged {
		action = ActionConflictFlagged
	}

	if err := o.VS.Upsert(ctx, partition, cell.ID, cell.Vector, cell.ToPayload()); err != nil {
		return Result{}, err
	}
	if decision.Action == dedup.ActionMerge {
		if err := o.VS.SoftDelete(ctx, partition, peer.ID); err != nil {
			observability.LoggerWithTrace(ctx).Debug().Err(err).Str("component", "store").Msg("merge_soft_delete_failed")
		}
	}

	o.bestEffortFanout(ctx, partition, cell, entities)

	return Result{Action: action, Cell: cell}, nil
}

func (o *Orchestrator) partitionFor(cls memory.Classification) string {
	if cls == memory.ClassPrivate {
		return o.Collections.Private
	}
	return o.Collections.Shared
}

func scopeFor(cls memory.Classification) memory.Scope {
	if cls == memory.ClassPrivate {
		return memory.ScopePrivate
	}
	return memory.ScopePublic
}

// findDedupPeer searches for the nearest existing cell and classifies it
// using the search backend's own similarity score. The score comes from a
// cosine-configured collection, so it stands in for dedup.Evaluate's own
// vecmath.Cosine computation without a second round trip for the peer's
// stored vector.
func (o *Orchestrator) findDedupPeer(ctx context.Context, partition string, vec []float32, newText string, newType memory.MemoryType) (*memory.Cell, dedup.Decision) {
	points, err := o.VS.Search(ctx, partition, vec, 1, dedupSearchMinScore, vectorstore.Filters{})
	if err != nil || len(points) == 0 {
		return nil, dedup.Decision{Action: dedup.ActionNone}
	}
	peer := memory.CellFromPayload(points[0].ID, nil, points[0].Payload)
	sim := points[0].Score

	switch {
	case sim >= dedup.DuplicateThreshold:
		if peer.Type == newType {
			return peer, dedup.Decision{Action: dedup.ActionMerge, Reason: "similarity >= 0.92 and same type"}
		}
		return peer, dedup.Decision{Action: dedup.ActionDuplicate, Reason: "similarity >= 0.92, different type"}
	case sim >= dedup.ConflictLow && sim < dedup.ConflictHigh:
		if classify.HasNegation(peer.Text) != classify.HasNegation(newText) {
			return peer, dedup.Decision{Action: dedup.ActionConflict, Reason: "negation mismatch in similarity band"}
		}
		return peer, dedup.Decision{Action: dedup.ActionNone}
	default:
		return peer, dedup.Decision{Action: dedup.ActionNone}
	}
}

func (o *Orchestrator) extractEntities(ctx context.Context, text string) []string {
	local := classify.Entities(text)
	if o.Extract == nil {
		return local
	}
	remote, err := o.Extract.Extract(ctx, text)
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Str("component", "store").Msg("enrichment_failed_using_local")
		return local
	}
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, e := range append(local, remote...) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// bestEffortFanout runs auto-linking, graph ingest, broadcast, cache
// invalidation and keyword indexing in parallel; none of their
// failures are returned to the caller.
func (o *Orchestrator) bestEffortFanout(ctx context.Context, partition string, cell *memory.Cell, entities []string) {
	g, gctx := errgroup.WithContext(ctx)

	if o.EnableAutoLink {
		g.Go(func() error {
			linked := linker.Link(gctx, o.VS, partition, cell.ID, cell.Vector, cell.LinkedMemories, o.AutoLinkThreshold, o.AutoLinkK)
			cell.LinkedMemories = linked
			if err := o.VS.Patch(gctx, partition, cell.ID, map[string]any{"linked_memories": linked}); err != nil {
				observability.LoggerWithTrace(gctx).Debug().Err(err).Str("component", "store").Msg("link_patch_failed")
			}
			return nil
		})
	}
	if o.EnableGraph && o.Graph != nil {
		g.Go(func() error {
			if err := o.Graph.IngestMemory(gctx, cell.ID, cell.Text, entities, cell.AgentID, nonZeroTime(cell.EventTime)); err != nil {
				observability.LoggerWithTrace(gctx).Debug().Err(err).Str("component", "store").Msg("graph_ingest_failed")
			}
			return nil
		})
	}
	if o.EnableBroadcast && o.Broadcast != nil {
		g.Go(func() error {
			broadcast.Dispatch(gctx, o.Broadcast, cell, memory.EventNewMemory)
			return nil
		})
	}
	if o.Cache != nil {
		g.Go(func() error {
			o.Cache.InvalidateAll()
			return nil
		})
	}
	g.Go(func() error {
		o.Keyword.Add(cell.ID, cell.Text)
		return nil
	})

	_ = g.Wait()
}

func nonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ = engerr.ErrBlockedSecret // sentinel kept visible for callers matching on blocked_secret via errors.Is if they upsert it themselves
