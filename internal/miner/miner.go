// Package miner implements the pattern miner: agglomerative
// clustering, corpus-wide TF-IDF, recurring-error detection, and graph
// co-occurrence, synthesized into persisted Pattern cells.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"engram/internal/audit"
	"engram/internal/graphstore"
	"engram/internal/keyword"
	"engram/internal/memory"
	"engram/internal/vecmath"
	"engram/internal/vectorstore"
)

const (
	scrollCap            = 20000
	clusterBatch         = 500
	clusterThreshold     = 0.75
	minClusterMembers    = 3
	docFreqMaxFraction   = 0.8
	docFreqMinCount      = 2
	errorGroupThreshold  = 0.7
	minErrorGroupMembers = 2
	minCoOccurrence      = 3
)

var errorKeywordPattern = regexp.MustCompile(`(?i)\berror\b|\bfail(?:ed|ure|ing)?\b|\bexception\b|\bcrash(?:ed)?\b|\btimeout\b`)

// Result is everything one mining run produced.
type Result struct {
	Patterns []*memory.Pattern
	Terms    TermStats
}

// Orchestrator mines patterns over a partition's live cells.
type Orchestrator struct {
	VS             *vectorstore.Client
	Graph          *graphstore.Client // nil disables the co-occurrence signal
	Audit          *audit.Ledger
	AgentID        string
	PrivatePartition string
}

// Run scrolls up to scrollCap live cells, mines clusters/terms/recurring
// errors/co-occurrences, and persists each synthesized Pattern as a cell.
func (o *Orchestrator) Run(ctx context.Context, partition string) (Result, error) {
	start := time.Now()
	cells, err := o.scroll(ctx, partition)
	if err != nil {
		return Result{}, err
	}

	terms := TFIDF(cells)

	var patterns []*memory.Pattern
	patterns = append(patterns, clusterPatterns(cells)...)
	patterns = append(patterns, recurringErrorPatterns(cells)...)
	if o.Graph != nil {
		pairs, err := o.Graph.CoOccurringPairs(ctx, minCoOccurrence)
		if err == nil {
			patterns = append(patterns, coOccurrencePatterns(pairs)...)
		}
	}

	for _, p := range patterns {
		o.persist(ctx, p)
	}

	if o.Audit != nil {
		_ = o.Audit.RecordMining(ctx, o.AgentID, len(patterns), time.Since(start))
	}
	return Result{Patterns: patterns, Terms: terms}, nil
}

func (o *Orchestrator) scroll(ctx context.Context, partition string) ([]*memory.Cell, error) {
	var out []*memory.Cell
	var offset any
	for len(out) < scrollCap {
		points, next, err := o.VS.Scroll(ctx, partition, clusterBatch, offset, vectorstore.Filters{})
		if err != nil {
			return out, err
		}
		for _, p := range points {
			out = append(out, memory.CellFromPayload(p.ID, p.Vector, p.Payload))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}
	if len(out) > scrollCap {
		out = out[:scrollCap]
	}
	return out, nil
}

// clusterPatterns runs agglomerative single-linkage clustering per batch of
// clusterBatch cells to bound the O(n^2) comparison cost.
func clusterPatterns(cells []*memory.Cell) []*memory.Pattern {
	var patterns []*memory.Pattern
	for start := 0; start < len(cells); start += clusterBatch {
		end := start + clusterBatch
		if end > len(cells) {
			end = len(cells)
		}
		patterns = append(patterns, clusterBatchCells(cells[start:end])...)
	}
	return patterns
}

func clusterBatchCells(cells []*memory.Cell) []*memory.Pattern {
	n := len(cells)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if vecmath.Cosine(cells[i].Vector, cells[j].Vector) >= clusterThreshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	var patterns []*memory.Pattern
	for _, members := range groups {
		if len(members) < minClusterMembers {
			continue
		}
		patterns = append(patterns, buildClusterPattern(cells, members))
	}
	return patterns
}

func buildClusterPattern(cells []*memory.Cell, members []int) *memory.Pattern {
	centroid := make([]float64, 0)
	dim := 0
	for _, i := range members {
		if len(cells[i].Vector) > dim {
			dim = len(cells[i].Vector)
		}
	}
	centroid = make([]float64, dim)
	for _, i := range members {
		for k, v := range cells[i].Vector {
			centroid[k] += float64(v)
		}
	}
	for k := range centroid {
		centroid[k] /= float64(len(members))
	}
	centroidF32 := make([]float32, len(centroid))
	for k, v := range centroid {
		centroidF32[k] = float32(v)
	}

	bestIdx := members[0]
	bestSim := -1.0
	typeVotes := map[memory.MemoryType]int{}
	domainVotes := map[memory.Domain]int{}
	evidence := make([]string, 0, len(members))
	sumSim, pairs := 0.0, 0
	for _, i := range members {
		sim := vecmath.Cosine(cells[i].Vector, centroidF32)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
		typeVotes[cells[i].Type]++
		domainVotes[cells[i].Domain]++
		evidence = append(evidence, cells[i].ID)
	}
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sumSim += vecmath.Cosine(cells[members[a]].Vector, cells[members[b]].Vector)
			pairs++
		}
	}
	avgSim := 0.0
	if pairs > 0 {
		avgSim = sumSim / float64(pairs)
	}

	key := cells[bestIdx].ID + ":" + strings.Join(evidence, ",")
	now := time.Now().UTC()
	return &memory.Pattern{
		ID:          patternID(string(memory.PatternCluster), key),
		Kind:        memory.PatternCluster,
		Description: cells[bestIdx].Text,
		Confidence:  avgSim,
		Occurrences: len(members),
		EvidenceIDs: evidence,
		FirstSeen:   now,
		LastSeen:    now,
		Tags:        []string{string(modeType(typeVotes)), string(modeDomain(domainVotes))},
	}
}

func modeType(votes map[memory.MemoryType]int) memory.MemoryType {
	var best memory.MemoryType
	bestN := -1
	for t, n := range votes {
		if n > bestN {
			bestN, best = n, t
		}
	}
	return best
}

func modeDomain(votes map[memory.Domain]int) memory.Domain {
	var best memory.Domain
	bestN := -1
	for d, n := range votes {
		if n > bestN {
			bestN, best = n, d
		}
	}
	return best
}

// TermStats is the corpus-wide TF-IDF summary for one mining run.
type TermStats struct {
	TopTerms  []string
	PerDocTop map[string][]string
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "it": true, "to": true, "of": true,
	"and": true, "in": true, "on": true, "for": true, "with": true, "that": true, "this": true,
	"was": true, "were": true, "be": true, "are": true, "i": true, "my": true, "you": true,
}

// TFIDF computes document-frequency-filtered top terms per document and
// corpus-wide, dropping terms appearing in over docFreqMaxFraction of docs
// or fewer than docFreqMinCount docs.
func TFIDF(cells []*memory.Cell) TermStats {
	docTerms := make(map[string]map[string]int, len(cells))
	df := make(map[string]int)
	for _, c := range cells {
		counts := map[string]int{}
		for _, tok := range keyword.Tokenize(c.Text) {
			if stopwords[tok] || len(tok) < 3 {
				continue
			}
			counts[tok]++
		}
		docTerms[c.ID] = counts
		for term := range counts {
			df[term]++
		}
	}

	n := len(cells)
	keep := map[string]bool{}
	for term, count := range df {
		frac := float64(count) / float64(maxInt(n, 1))
		if frac > docFreqMaxFraction || count < docFreqMinCount {
			continue
		}
		keep[term] = true
	}

	perDocTop := make(map[string][]string, len(cells))
	corpusScore := map[string]float64{}
	for _, c := range cells {
		counts := docTerms[c.ID]
		type scored struct {
			term string
			tfidf float64
		}
		var scoredTerms []scored
		for term, tf := range counts {
			if !keep[term] {
				continue
			}
			idf := math.Log(float64(n+1) / float64(df[term]+1))
			s := float64(tf) * idf
			scoredTerms = append(scoredTerms, scored{term, s})
			corpusScore[term] += s
		}
		sort.Slice(scoredTerms, func(i, j int) bool { return scoredTerms[i].tfidf > scoredTerms[j].tfidf })
		top := make([]string, 0, 5)
		for i := 0; i < len(scoredTerms) && i < 5; i++ {
			top = append(top, scoredTerms[i].term)
		}
		perDocTop[c.ID] = top
	}

	type scored struct {
		term  string
		score float64
	}
	var corpusTerms []scored
	for term, s := range corpusScore {
		corpusTerms = append(corpusTerms, scored{term, s})
	}
	sort.Slice(corpusTerms, func(i, j int) bool { return corpusTerms[i].score > corpusTerms[j].score })
	top := make([]string, 0, 20)
	for i := 0; i < len(corpusTerms) && i < 20; i++ {
		top = append(top, corpusTerms[i].term)
	}

	return TermStats{TopTerms: top, PerDocTop: perDocTop}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// recurringErrorPatterns groups technical/general cells whose text matches
// an error keyword into similarity-0.7 clusters; clusters of 2+ become
// recurring_error patterns.
func recurringErrorPatterns(cells []*memory.Cell) []*memory.Pattern {
	var candidates []*memory.Cell
	for _, c := range cells {
		if c.Domain != memory.DomainTechnical && c.Domain != memory.DomainGeneral {
			continue
		}
		if errorKeywordPattern.MatchString(c.Text) {
			candidates = append(candidates, c)
		}
	}

	used := make(map[string]bool, len(candidates))
	var patterns []*memory.Pattern
	for i := 0; i < len(candidates); i++ {
		if used[candidates[i].ID] {
			continue
		}
		group := []*memory.Cell{candidates[i]}
		for j := i + 1; j < len(candidates); j++ {
			if used[candidates[j].ID] {
				continue
			}
			if vecmath.Cosine(candidates[i].Vector, candidates[j].Vector) >= errorGroupThreshold {
				group = append(group, candidates[j])
				used[candidates[j].ID] = true
			}
		}
		if len(group) < minErrorGroupMembers {
			continue
		}
		used[candidates[i].ID] = true
		evidence := make([]string, len(group))
		for k, c := range group {
			evidence[k] = c.ID
		}
		now := time.Now().UTC()
		patterns = append(patterns, &memory.Pattern{
			ID:          patternID(string(memory.PatternRecurringError), strings.Join(evidence, ",")),
			Kind:        memory.PatternRecurringError,
			Description: group[0].Text,
			Confidence:  float64(len(group)) / float64(len(candidates)),
			Occurrences: len(group),
			EvidenceIDs: evidence,
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return patterns
}

func coOccurrencePatterns(pairs [][2]string) []*memory.Pattern {
	patterns := make([]*memory.Pattern, 0, len(pairs))
	now := time.Now().UTC()
	for _, pair := range pairs {
		key := pair[0] + "+" + pair[1]
		patterns = append(patterns, &memory.Pattern{
			ID:          patternID(string(memory.PatternCoOccurrence), key),
			Kind:        memory.PatternCoOccurrence,
			Description: pair[0] + " co-occurs with " + pair[1],
			Confidence:  0.6,
			Occurrences: minCoOccurrence,
			Tags:        []string{pair[0], pair[1]},
			FirstSeen:   now,
			LastSeen:    now,
		})
	}
	return patterns
}

func patternID(kind, key string) string {
	sum := sha256.Sum256([]byte(kind + ":" + key))
	return hex.EncodeToString(sum[:])[:32]
}

// persist writes a Pattern as a private, scope=pattern cell with a zero
// vector (patterns are not themselves semantically searched by embedding).
func (o *Orchestrator) persist(ctx context.Context, p *memory.Pattern) {
	partition := o.PrivatePartition
	cell := &memory.Cell{
		ID:             p.ID,
		Text:           p.Description,
		Type:           memory.TypeSemantic,
		Classification: memory.ClassPrivate,
		Confidence:     p.Confidence,
		AgentID:        o.AgentID,
		Scope:          memory.ScopePrivate,
		CreatedAt:      p.FirstSeen,
		UpdatedAt:      p.LastSeen,
		Metadata: map[string]any{
			"source":       "pattern_mining",
			"pattern_kind": string(p.Kind),
			"occurrences":  p.Occurrences,
			"evidence_ids": p.EvidenceIDs,
			"tags":         p.Tags,
			"scope":        "pattern",
		},
	}
	_ = o.VS.Upsert(ctx, partition, cell.ID, []float32{}, cell.ToPayload())
}
