// Package vecmath holds the small set of vector-similarity primitives shared
// by dedup, ranking, clustering, and consolidation.
package vecmath

import "math"

// Cosine computes cosine similarity between two equal-length vectors.
// Mismatched lengths or zero-magnitude vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// JaccardWords computes Jaccard similarity over the sets of words longer than
// 3 characters in two strings, lowercased. Used by the diversity rerank.
func JaccardWords(a, b string) float64 {
	wa := longWordSet(a)
	wb := longWordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func longWordSet(s string) map[string]bool {
	out := map[string]bool{}
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 3 {
			out[string(word)] = true
		}
		word = word[:0]
	}
	for _, r := range s {
		lr := toLower(r)
		if isWordRune(lr) {
			word = append(word, lr)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
