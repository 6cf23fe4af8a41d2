// Package keyword implements the in-process inverted index with BM25 scoring
// and Reciprocal Rank Fusion against vector results.
package keyword

import (
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
	// RRFK is the Reciprocal Rank Fusion denominator constant.
	RRFK = 60
)

type posting struct {
	tf     int
	docLen int
}

// Index is a thread-safe in-process inverted index. Reads take a read-lock
// and may run concurrently; all mutations are serialized by the same
// per-Index mutex (one lock is sufficient at this scale).
type Index struct {
	mu          sync.RWMutex
	postings    map[string]map[string]posting // term -> cellID -> posting
	docLen      map[string]int                // cellID -> token count
	totalDocLen int
}

// New builds an empty index.
func New() *Index {
	return &Index{
		postings: make(map[string]map[string]posting),
		docLen:   make(map[string]int),
	}
}

// Tokenize lowercases text, replaces any rune outside [a-z0-9._:/-] with a
// space, splits on whitespace, and trims leading/trailing ".", "-", ":" so
// that IPs, versions, and host:port pairs survive intact.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		lr := r
		if lr >= 'A' && lr <= 'Z' {
			lr = lr + ('a' - 'A')
		}
		if isAllowed(lr) {
			b.WriteRune(lr)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-:")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-' || r == ':' || r == '/' || r == '_':
		return true
	}
	return false
}

// Add indexes (or re-indexes, idempotently) the text under id.
func (idx *Index) Add(id, text string) {
	tokens := Tokenize(text)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	if len(tokens) == 0 {
		return
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	for term, tf := range counts {
		m, ok := idx.postings[term]
		if !ok {
			m = make(map[string]posting)
			idx.postings[term] = m
		}
		m[id] = posting{tf: tf, docLen: len(tokens)}
	}
	idx.docLen[id] = len(tokens)
	idx.totalDocLen += len(tokens)
}

// Remove deletes all postings for id.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) {
	if dl, ok := idx.docLen[id]; ok {
		idx.totalDocLen -= dl
		delete(idx.docLen, id)
	}
	for term, m := range idx.postings {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// Hit is one scored BM25 result.
type Hit struct {
	ID    string
	Score float64
}

// Search scores query terms with BM25 and returns the top `limit` hits,
// descending by score.
func (idx *Index) Search(query string, limit int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLen)
	if n == 0 {
		return nil
	}
	avgDocLen := float64(idx.totalDocLen) / float64(n)
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	scores := make(map[string]float64)
	seen := map[string]bool{}
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		postingsForTerm, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := len(postingsForTerm)
		idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for id, p := range postingsForTerm {
			tfNorm := float64(p.tf) * (bm25K1 + 1) /
				(float64(p.tf) + bm25K1*(1-bm25B+bm25B*float64(p.docLen)/avgDocLen))
			scores[id] += idf * tfNorm
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// TermDocCount returns the number of indexed documents containing term, used by tests to verify
// add/remove leaves the index exactly as it was before add (P10).
func (idx *Index) TermDocCount(term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings[term])
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLen)
}

// VectorRank is a minimal rank-list entry for fusion: an id only. Its rank
// is its position in the slice handed to FuseRRF, which follows the vector
// search's result order.
type VectorRank struct {
	ID string
}

// FuseRRF performs Reciprocal Rank Fusion over a BM25 hit list and a vector
// rank list, restricted to ids the vector list actually carries full cell
// data for.
func FuseRRF(bm25 []Hit, vectorOrder []VectorRank) []string {
	vecPos := make(map[string]int, len(vectorOrder))
	for i, v := range vectorOrder {
		vecPos[v.ID] = i + 1
	}
	bmPos := make(map[string]int, len(bm25))
	for i, h := range bm25 {
		bmPos[h.ID] = i + 1
	}

	fused := make(map[string]float64, len(vectorOrder))
	for id := range vecPos {
		fused[id] = 0
	}
	for id, r := range vecPos {
		fused[id] += 1.0 / float64(RRFK+r)
	}
	for id, r := range bmPos {
		if _, ok := fused[id]; !ok {
			continue // restricted to ids with full vector cell data
		}
		fused[id] += 1.0 / float64(RRFK+r)
	}

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if fused[ids[i]] != fused[ids[j]] {
			return fused[ids[i]] > fused[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
