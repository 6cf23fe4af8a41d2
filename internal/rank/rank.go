// Package rank implements multi-signal scoring and diversity rerank.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"engram/internal/intent"
	"engram/internal/memory"
	"engram/internal/vecmath"
)

// Candidate is one retrieval candidate entering the ranker, carrying the
// per-signal raw scores gathered upstream.
type Candidate struct {
	Cell        *memory.Cell
	Semantic    float64 // vector similarity, caller-provided
	BM25        float64 // normalized keyword score, 0 if not a keyword hit
	GraphActive float64 // 0 when the candidate was not reached via activation
}

// Context carries query-time signals the additive boosts consult: recent
// session topics and the query's own focus terms.
type Context struct {
	RecentTopics []string
	QueryTerms   []string
	// TrustByAgent resolves an agent id to a [0,1] source-trust score; nil
	// or a miss falls back to 0.7.
	TrustByAgent map[string]float64
}

// Scored is a candidate with its final blended score and explanation.
type Scored struct {
	Cell        *memory.Cell
	Score       float64
	Explanation map[string]float64
}

// sparseThreshold is how many of the five metadata fields must be at their
// zero value for a cell to fall back to the sparse-metadata formula.
const sparseThreshold = 4

// Score blends the ranking signals for one candidate per strategy's weight
// vector, intent-specific type adjustments, and the additive boosts shared
// by every mode.
func Score(c Candidate, strat intent.Strategy, rctx Context, now time.Time) Scored {
	cell := c.Cell
	trust := sourceTrust(cell, rctx.TrustByAgent)
	recentBoost := recentTopicBoost(cell.Text, rctx.RecentTopics)
	focusBoost := queryFocusBoost(cell.Text, rctx.QueryTerms)

	if isSparse(cell) {
		base := (0.90*c.Semantic + 0.10*cell.Importance) * trust * 0.85
		base += recentBoost + focusBoost
		base = typeAdjust(base, cell.Type, strat)
		return clampedScored(cell, base, map[string]float64{
			"mode": 0, "semantic": c.Semantic, "trust": trust,
		})
	}

	recency := recencyScore(cell, now)
	importance := 0.6*cell.Importance + 0.4*cell.Confidence
	frequency := frequencyScore(cell)
	// The importance weight slot carries both the importance/confidence
	// blend and the frequency signal, since the strategy's weight vector
	// has no separate frequency channel.
	importanceChannel := 0.7*importance + 0.3*frequency
	typeRel := typeRelevance(cell.Type, strat)

	w := strat.Weights
	graphWeight := w.Graph
	typeWeight := w.TypeRelevance
	if c.GraphActive > 0 {
		shift := math.Min(0.10, typeWeight)
		typeWeight -= shift
		graphWeight += shift
	}

	score := w.Vector*c.Semantic + w.BM25*c.BM25 + graphWeight*c.GraphActive +
		w.Importance*importanceChannel + typeWeight*typeRel

	score *= trust
	score += recentBoost + focusBoost
	score = typeAdjust(score, cell.Type, strat)

	if strat.Sort == intent.SortRecency {
		score = 0.5*score + 0.5*recency
	}
	if strat.Sort == intent.SortImportance {
		score = 0.5*score + 0.5*importance
	}

	return clampedScored(cell, score, map[string]float64{
		"semantic": c.Semantic, "graph": c.GraphActive, "recency": recency,
		"importance": importance, "frequency": frequency, "type_relevance": typeRel,
		"trust": trust,
	})
}

func clampedScored(cell *memory.Cell, score float64, explain map[string]float64) Scored {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return Scored{Cell: cell, Score: score, Explanation: explain}
}

func isSparse(c *memory.Cell) bool {
	defaults := 0
	if c.Importance == 0 {
		defaults++
	}
	if c.Urgency == "" {
		defaults++
	}
	if c.Domain == "" {
		defaults++
	}
	if len(c.AccessTimes) == 0 {
		defaults++
	}
	if c.Confidence == 0 {
		defaults++
	}
	return defaults >= sparseThreshold
}

func recencyScore(c *memory.Cell, now time.Time) float64 {
	hAccess := 0.0
	if len(c.AccessTimes) > 0 {
		last := c.AccessTimes[len(c.AccessTimes)-1]
		hAccess = now.Sub(last).Hours()
	} else if !c.CreatedAt.IsZero() {
		hAccess = now.Sub(c.CreatedAt).Hours()
	}
	hCreation := 0.0
	if !c.CreatedAt.IsZero() {
		hCreation = now.Sub(c.CreatedAt).Hours()
	}
	if hAccess < 0 {
		hAccess = 0
	}
	if hCreation < 0 {
		hCreation = 0
	}
	return 0.6*math.Exp(-0.03*hAccess) + 0.4*math.Exp(-0.005*hCreation)
}

func frequencyScore(c *memory.Cell) float64 {
	f := math.Log(float64(c.AccessCount)+1) / math.Log(25)
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f
}

func typeRelevance(t memory.MemoryType, strat intent.Strategy) float64 {
	base := 0.5
	for _, b := range strat.Boost {
		if b == t {
			base += 0.10
		}
	}
	for _, p := range strat.Penalize {
		if p == t {
			base -= 0.08
		}
	}
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base
}

func typeAdjust(score float64, t memory.MemoryType, strat intent.Strategy) float64 {
	for _, b := range strat.Boost {
		if b == t {
			score += 0.10
		}
	}
	for _, p := range strat.Penalize {
		if p == t {
			score -= 0.08
		}
	}
	return score
}

// sourceTrust resolves an agent's trust score, defaulting to 0.7.
func sourceTrust(c *memory.Cell, byAgent map[string]float64) float64 {
	if byAgent != nil {
		if v, ok := byAgent[c.AgentID]; ok {
			return v
		}
	}
	switch c.Type {
	case memory.TypeCore:
		return 0.9
	case memory.TypeProfile:
		return 0.85
	default:
		return 0.7
	}
}

func recentTopicBoost(text string, topics []string) float64 {
	if len(topics) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(topic)) {
			return 0.15
		}
	}
	return 0
}

func queryFocusBoost(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			hits++
		}
	}
	frac := float64(hits) / float64(len(terms))
	boost := frac * 0.15
	if boost > 0.15 {
		boost = 0.15
	}
	return boost
}

const (
	sameTypePenalty  = 0.05
	highJaccardPenalty = 0.15
	highJaccardThreshold = 0.8
	clusterPenalty3 = 0.40
	clusterPenalty2 = 0.25
	clusterJaccardThreshold = 0.9
)

// RankAndDiversify scores candidates, sorts by score, then greedily
// reranks the top `limit` for diversity.
func RankAndDiversify(cands []Candidate, strat intent.Strategy, rctx Context, now time.Time, limit int) []Scored {
	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		s := Score(c, strat, rctx, now)
		if s.Score < strat.MinScore {
			continue
		}
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if limit <= 0 {
		limit = strat.Limit
	}
	if limit <= 0 || limit > len(scored) {
		limit = len(scored)
	}
	return diversify(scored, limit)
}

func diversify(scored []Scored, k int) []Scored {
	if k <= 0 {
		return nil
	}
	if k > len(scored) {
		k = len(scored)
	}
	used := make([]bool, len(scored))
	selected := make([]Scored, 0, k)
	typeCount := make(map[memory.MemoryType]int)

	for len(selected) < k {
		bestIdx := -1
		bestAdj := math.Inf(-1)
		for i, s := range scored {
			if used[i] {
				continue
			}
			adj := s.Score - sameTypePenalty*float64(typeCount[s.Cell.Type])

			anyHigh := false
			highCount := 0
			for _, picked := range selected {
				j := vecmath.JaccardWords(s.Cell.Text, picked.Cell.Text)
				if j > highJaccardThreshold {
					anyHigh = true
				}
				if j > clusterJaccardThreshold {
					highCount++
				}
			}
			if anyHigh {
				adj -= highJaccardPenalty
			}
			switch {
			case highCount >= 3:
				adj -= clusterPenalty3
			case highCount >= 2:
				adj -= clusterPenalty2
			}

			if adj > bestAdj {
				bestAdj = adj
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, scored[bestIdx])
		typeCount[scored[bestIdx].Cell.Type]++
	}
	return selected
}
