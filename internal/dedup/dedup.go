// Package dedup implements content-hash and similarity-gated deduplication,
// conflict detection, and semantic merge.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"engram/internal/classify"
	"engram/internal/memory"
	"engram/internal/vecmath"
)

const (
	// DuplicateThreshold is the cosine-similarity floor at which two cells
	// are considered the same content.
	DuplicateThreshold = 0.92
	// ConflictLow/ConflictHigh bound the similarity range in which a
	// negation mismatch is treated as a contradiction rather than a duplicate.
	ConflictLow  = 0.70
	ConflictHigh = 0.92
)

// Action is the outcome of evaluating a new cell against an existing peer.
type Action string

const (
	ActionNone     Action = "none"
	ActionDuplicate Action = "duplicate"
	ActionMerge    Action = "merge"
	ActionConflict Action = "conflict"
)

// ContentHash returns the exact-dedup key: SHA-256 of trimmed, lowercased text.
func ContentHash(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Decision is the result of evaluating one candidate pair.
type Decision struct {
	Action Action
	Reason string
}

// Evaluate decides what should happen when storing `newText`/`newVec`/`newType`
// against an existing cell, given their cosine similarity.
func Evaluate(existing *memory.Cell, newText string, newVec []float32, newType memory.MemoryType) Decision {
	sim := vecmath.Cosine(existing.Vector, newVec)
	switch {
	case sim >= DuplicateThreshold:
		if existing.Type == newType {
			return Decision{Action: ActionMerge, Reason: "similarity >= 0.92 and same type"}
		}
		return Decision{Action: ActionDuplicate, Reason: "similarity >= 0.92, different type"}
	case sim >= ConflictLow && sim < ConflictHigh:
		if classify.HasNegation(existing.Text) != classify.HasNegation(newText) {
			return Decision{Action: ActionConflict, Reason: "negation mismatch in similarity band"}
		}
		return Decision{Action: ActionNone}
	default:
		return Decision{Action: ActionNone}
	}
}

// Merge applies the semantic-merge rule: the new cell keeps its own
// id, inherits max importance, union'd links, carried access-count, and
// records provenance of the loser. The caller is responsible for persisting
// the result and soft-deleting `existing`.
func Merge(existing *memory.Cell, incoming *memory.Cell) *memory.Cell {
	merged := *incoming
	if existing.Importance > merged.Importance {
		merged.Importance = existing.Importance
	}
	merged.AccessCount += existing.AccessCount

	linked := make(map[string]bool, len(existing.LinkedMemories)+len(incoming.LinkedMemories)+1)
	for _, id := range incoming.LinkedMemories {
		linked[id] = true
	}
	for _, id := range existing.LinkedMemories {
		linked[id] = true
	}
	linked[existing.ID] = true
	merged.LinkedMemories = make([]string, 0, len(linked))
	for id := range linked {
		merged.LinkedMemories = append(merged.LinkedMemories, id)
	}

	preview := existing.Text
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	if merged.Metadata == nil {
		merged.Metadata = make(map[string]any)
	}
	merged.Metadata["merged_from"] = existing.ID
	merged.Metadata["merged_from_preview"] = preview
	return &merged
}
