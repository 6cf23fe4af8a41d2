// Package intent implements the query intent router: pure
// regex-and-keyword classification into a closed set of intents, each
// mapping to a plain Strategy value consumed by the ranker.
package intent

import (
	"regexp"
	"strings"

	"engram/internal/memory"
)

// Kind is the closed-set intent taxonomy.
type Kind string

const (
	Factual     Kind = "factual"
	Temporal    Kind = "temporal"
	Procedural  Kind = "procedural"
	Preference  Kind = "preference"
	Exploratory Kind = "exploratory"
	Relational  Kind = "relational"
	Diagnostic  Kind = "diagnostic"
	Comparative Kind = "comparative"
)

// Weights sum to 1.0 across the five ranking signals the ranker consumes.
type Weights struct {
	Vector         float64
	BM25           float64
	Graph          float64
	Importance     float64
	TypeRelevance  float64
}

// SortMode selects the ordering applied before diversity rerank.
type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortRecency   SortMode = "recency"
	SortImportance SortMode = "importance"
)

// Strategy is the plain value the router returns; the ranker is a pure
// function over (cell, strategy, context) — no dynamic dispatch.
type Strategy struct {
	Intent        Kind
	Confidence    float64
	Weights       Weights
	Sort          SortMode
	Boost         []memory.MemoryType
	Penalize      []memory.MemoryType
	MinScore      float64
	Limit         int
	ExpandQuery   bool
	QueryRewrite  string
}

var patternSets = []struct {
	kind Kind
	rexs []*regexp.Regexp
}{
	{Temporal, compile([]string{`(?i)\bwhen\b`, `(?i)\byesterday\b`, `(?i)\blast (?:week|month|year)\b`, `(?i)\bsince\b`, `(?i)\bhistory\b`})},
	{Procedural, compile([]string{`(?i)\bhow (?:do|to|can)\b`, `(?i)\bsteps?\b`, `(?i)\bguide\b`, `(?i)\bprocedure\b`})},
	{Preference, compile([]string{`(?i)\bprefer\b`, `(?i)\bfavorite\b`, `(?i)\bdo i like\b`, `(?i)\bsettings?\b`})},
	{Relational, compile([]string{`(?i)\bwho is\b`, `(?i)\brelationship\b`, `(?i)\breports to\b`, `(?i)\bconnected to\b`})},
	{Diagnostic, compile([]string{`(?i)\bwhy (?:is|does|did)\b`, `(?i)\berror\b`, `(?i)\bfail(?:ed|ing|ure)?\b`, `(?i)\bbroken\b`, `(?i)\bdebug\b`})},
	{Comparative, compile([]string{`(?i)\bversus\b`, `(?i)\bvs\.?\b`, `(?i)\bcompared? to\b`, `(?i)\bdifference between\b`, `(?i)\bbetter than\b`})},
	{Factual, compile([]string{`(?i)\bwhat is\b`, `(?i)\bwhere is\b`, `(?i)\bwhich\b`, `(?i)\bdefine\b`})},
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func strategyFor(kind Kind) Strategy {
	switch kind {
	case Temporal:
		return Strategy{Intent: kind, Weights: Weights{0.35, 0.20, 0.15, 0.10, 0.20}, Sort: SortRecency,
			Boost: []memory.MemoryType{memory.TypeEpisodic}, MinScore: 0.15, Limit: 10}
	case Procedural:
		return Strategy{Intent: kind, Weights: Weights{0.30, 0.25, 0.10, 0.10, 0.25}, Sort: SortRelevance,
			Boost: []memory.MemoryType{memory.TypeProcedural}, Penalize: []memory.MemoryType{memory.TypeEpisodic},
			MinScore: 0.2, Limit: 10}
	case Preference:
		return Strategy{Intent: kind, Weights: Weights{0.35, 0.20, 0.05, 0.15, 0.25}, Sort: SortRelevance,
			Boost: []memory.MemoryType{memory.TypePreference, memory.TypeProfile}, MinScore: 0.15, Limit: 10}
	case Relational:
		return Strategy{Intent: kind, Weights: Weights{0.25, 0.15, 0.35, 0.10, 0.15}, Sort: SortRelevance,
			Boost: []memory.MemoryType{memory.TypeRelationship, memory.TypeProfile}, MinScore: 0.15, Limit: 10}
	case Diagnostic:
		return Strategy{Intent: kind, Weights: Weights{0.30, 0.30, 0.15, 0.10, 0.15}, Sort: SortRelevance,
			Boost: []memory.MemoryType{memory.TypeEpisodic, memory.TypeSemantic}, MinScore: 0.2, Limit: 10}
	case Comparative:
		return Strategy{Intent: kind, Weights: Weights{0.35, 0.25, 0.10, 0.10, 0.20}, Sort: SortRelevance,
			MinScore: 0.15, Limit: 10, ExpandQuery: true}
	case Factual:
		return Strategy{Intent: kind, Weights: Weights{0.40, 0.25, 0.10, 0.10, 0.15}, Sort: SortRelevance,
			Boost: []memory.MemoryType{memory.TypeSemantic, memory.TypeCore}, MinScore: 0.15, Limit: 10}
	default: // Exploratory
		return Strategy{Intent: Exploratory, Weights: Weights{0.30, 0.20, 0.15, 0.15, 0.20}, Sort: SortRelevance,
			MinScore: 0.1, Limit: 15, ExpandQuery: true}
	}
}

// Route classifies query and returns its Strategy.
func Route(query string) Strategy {
	bestKind := Exploratory
	bestCount := 0
	for _, ps := range patternSets {
		count := 0
		for _, r := range ps.rexs {
			if r.MatchString(query) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestKind = ps.kind
		}
	}
	strat := strategyFor(bestKind)
	conf := float64(bestCount) / float64(len(patternSets[0].rexs))
	if bestCount == 0 {
		conf = 0
	}
	if conf < 0.3 {
		conf = 0.3
	}
	if conf > 1.0 {
		conf = 1.0
	}
	strat.Confidence = conf

	if strat.QueryRewrite == "" {
		strat.QueryRewrite = rewrite(query, bestKind)
	}
	return strat
}

func rewrite(query string, kind Kind) string {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)
	for _, aux := range []string{"what is ", "what are ", "where is ", "who is ", "why is ", "why does "} {
		if strings.HasPrefix(lower, aux) {
			q = q[len(aux):]
			break
		}
	}
	if kind == Procedural {
		q = q + " steps guide"
	}
	return q
}
