// Package retrieve implements the retrieval orchestrator: the
// read-path pipeline from a query string to a ranked, diversified result set.
package retrieve

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"engram/internal/activation"
	"engram/internal/cache"
	"engram/internal/classify"
	"engram/internal/decay"
	"engram/internal/embedding"
	"engram/internal/graphstore"
	"engram/internal/intent"
	"engram/internal/keyword"
	"engram/internal/memory"
	"engram/internal/observability"
	"engram/internal/prefs"
	"engram/internal/rank"
	"engram/internal/vectorstore"
)

// oversampleFactor is how much wider than the caller's limit the hybrid
// search casts before reranking.
const oversampleFactor = 3

// diversifyFactor is how many extras beyond the caller's limit survive the
// diversity rerank before the graph-pseudo-result append.
const diversifyFactor = 2

// graphPseudoScoreFactor discounts a graph-only hit relative to its raw
// activation, since it never passed semantic or keyword matching.
const graphPseudoScoreFactor = 0.7

// Result is one ranked memory returned to the caller.
type Result struct {
	Cell        *memory.Cell
	Score       float64
	FromGraph   bool
	Explanation map[string]float64
}

// Query is one retrieval request.
type Query struct {
	Text         string
	AgentID      string
	UserID       string
	Limit        int
	RecentTopics []string
	TrustByAgent map[string]float64
}

// Orchestrator wires together every component the retrieval pipeline touches.
type Orchestrator struct {
	VS      *vectorstore.Client
	Embed   *embedding.Client
	Keyword *keyword.Index
	Graph   *graphstore.Client // nil disables graph activation
	Cache   *cache.Cache       // nil disables caching
	Prefs   *prefs.Store       // nil disables frustration-aware boost adjustment

	Collections struct {
		Shared  string
		Private string
	}

	EnableGraph bool
}

const defaultLimit = 10

// Retrieve runs the full read pipeline for one query.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	cacheKey := cache.Key(q.Text, limit, 0)
	if o.Cache != nil {
		var cached []Result
		if o.Cache.Get(ctx, cacheKey, &cached) {
			return cached, nil
		}
	}

	vec, err := o.Embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	strat := intent.Route(q.Text)
	if strat.Limit > 0 {
		limit = minInt(limit, strat.Limit)
	}

	// Best-effort, additive: a session in active frustration gets a wider
	// cap and a nudge toward procedural/core types, layered on top of the
	// base strategy without replacing it.
	if o.Prefs != nil {
		adj := o.Prefs.AdjustmentFor(q.UserID, q.AgentID)
		if adj.WidenLimitBy > 0 {
			limit += adj.WidenLimitBy
		}
		for _, t := range adj.FavorTypes {
			strat.Boost = append(strat.Boost, memory.MemoryType(t))
		}
	}

	oversample := limit * oversampleFactor

	partitions := []string{o.Collections.Shared}
	if q.AgentID != "" {
		partitions = append(partitions, o.Collections.Private)
	}

	points, bm25Hits, err := o.hybridSearch(ctx, vec, q.Text, oversample, partitions)
	if err != nil {
		return nil, err
	}

	var graphResult activation.Result
	if o.EnableGraph && o.Graph != nil {
		graphResult = activation.Spread(ctx, o.Graph, classify.Entities(q.Text))
	}

	now := time.Now().UTC()
	cands := make([]rank.Candidate, 0, len(points))
	for _, p := range points {
		cell := memory.CellFromPayload(p.id, nil, p.point.Payload)
		status := decay.StatusOf(decay.Activation(cell, now))
		if status == memory.StatusArchive && !cell.NeverArchived() {
			continue
		}
		cands = append(cands, rank.Candidate{
			Cell:        cell,
			Semantic:    p.point.Score,
			BM25:        bm25Hits[cell.ID],
			GraphActive: graphResult[cell.ID],
		})
	}

	rctx := rank.Context{RecentTopics: q.RecentTopics, QueryTerms: keyword.Tokenize(q.Text), TrustByAgent: q.TrustByAgent}
	scored := rank.RankAndDiversify(cands, strat, rctx, now, limit*diversifyFactor)

	out := make([]Result, 0, len(scored))
	present := make(map[string]bool, len(scored))
	for _, s := range scored {
		out = append(out, Result{Cell: s.Cell, Score: s.Score, Explanation: s.Explanation})
		present[s.Cell.ID] = true
	}

	if o.EnableGraph && len(graphResult) > 0 {
		out = appendGraphPseudoResults(out, present, graphResult, o.fetchCell, ctx, partitions)
	}

	if limit < len(out) {
		out = out[:limit]
	}

	go o.patchAccessTimesBestEffort(partitions, out)

	if o.Cache != nil {
		o.Cache.Set(ctx, cacheKey, out)
	}

	return out, nil
}

type scoredPoint struct {
	id    string
	point vectorstore.Point
}

// hybridSearch fans out the vector search per partition and the keyword
// search in parallel, then fuses via Reciprocal Rank Fusion. Returns the
// fused points (vector-backed only, per FuseRRF's own restriction) plus a
// lookup of each id's raw BM25 score for the ranker.
func (o *Orchestrator) hybridSearch(ctx context.Context, vec []float32, queryText string, oversample int, partitions []string) ([]scoredPoint, map[string]float64, error) {
	var vecPoints []vectorstore.Point
	var bm25Hits []keyword.Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, partition := range partitions {
			pts, err := o.VS.Search(gctx, partition, vec, oversample, 0, vectorstore.Filters{})
			if err != nil {
				observability.LoggerWithTrace(gctx).Debug().Err(err).Str("component", "retrieve").Str("partition", partition).Msg("vector_search_failed")
				continue
			}
			vecPoints = append(vecPoints, pts...)
		}
		return nil
	})
	g.Go(func() error {
		bm25Hits = o.Keyword.Search(queryText, oversample)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	vecOrder := make([]keyword.VectorRank, len(vecPoints))
	byID := make(map[string]vectorstore.Point, len(vecPoints))
	for i, p := range vecPoints {
		vecOrder[i] = keyword.VectorRank{ID: p.ID}
		byID[p.ID] = p
	}
	fusedIDs := keyword.FuseRRF(bm25Hits, vecOrder)

	bm25ByID := make(map[string]float64, len(bm25Hits))
	for _, h := range bm25Hits {
		bm25ByID[h.ID] = h.Score
	}

	out := make([]scoredPoint, 0, len(fusedIDs))
	for _, id := range fusedIDs {
		out = append(out, scoredPoint{id: id, point: byID[id]})
	}
	return out, bm25ByID, nil
}

func (o *Orchestrator) fetchCell(ctx context.Context, partitions []string, id string) *memory.Cell {
	for _, partition := range partitions {
		p, err := o.VS.Get(ctx, partition, id)
		if err == nil && p.Payload != nil {
			return memory.CellFromPayload(id, nil, p.Payload)
		}
	}
	return nil
}

// appendGraphPseudoResults adds memories reached only through graph
// activation, never surfaced by vector or keyword search, as pseudo-results
// scored at their activation discounted by graphPseudoScoreFactor.
func appendGraphPseudoResults(out []Result, present map[string]bool, graphResult activation.Result, fetch func(context.Context, []string, string) *memory.Cell, ctx context.Context, partitions []string) []Result {
	for id, act := range graphResult {
		if present[id] {
			continue
		}
		cell := fetch(ctx, partitions, id)
		if cell == nil {
			continue
		}
		out = append(out, Result{Cell: cell, Score: act * graphPseudoScoreFactor, FromGraph: true})
		present[id] = true
	}
	return out
}

// patchAccessTimesBestEffort records an access for every returned cell. It
// runs off the request's context in its own goroutine so Retrieve never
// waits on it; failures are logged and never surface to any caller.
func (o *Orchestrator) patchAccessTimesBestEffort(partitions []string, results []Result) {
	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(context.Background())
	for _, r := range results {
		r := r
		g.Go(func() error {
			times := append(append([]time.Time{}, r.Cell.AccessTimes...), now)
			patch := map[string]any{
				"access_times": times,
				"access_count": r.Cell.AccessCount + 1,
			}
			for _, partition := range partitions {
				if err := o.VS.Patch(gctx, partition, r.Cell.ID, patch); err == nil {
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Str("component", "retrieve").Msg("access_time_patch_failed")
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
