// Package lesson implements lesson detection and abstraction: regex
// families over user replies, deduplicated and persisted as compact advice
// cells, plus summarization of mined clusters/recurring-errors/co-occurrence
// into abstracted lessons.
package lesson

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"engram/internal/memory"
	"engram/internal/vectorstore"
)

var detectionPatterns = []struct {
	t    memory.LessonType
	rexs []*regexp.Regexp
}{
	{memory.LessonCorrection, compile([]string{`(?i)\bactually,?\s`, `(?i)\bthat's (?:not|wrong|incorrect)\b`, `(?i)\bi meant\b`})},
	{memory.LessonFix, compile([]string{`(?i)\bthe fix (?:is|was)\b`, `(?i)\bturns out\b.*\bfixed\b`, `(?i)\bresolved by\b`})},
	{memory.LessonGotcha, compile([]string{`(?i)\bwatch out\b`, `(?i)\bgotcha\b`, `(?i)\bbe careful\b`})},
	{memory.LessonLearned, compile([]string{`(?i)\blesson learned\b`, `(?i)\bnow i know\b`, `(?i)\bi learned\b`})},
	{memory.LessonAntiPattern, compile([]string{`(?i)\bnever do\b`, `(?i)\bdon't (?:ever )?do\b`, `(?i)\banti-pattern\b`})},
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Detect classifies text into a lesson type, returning ok=false when no
// family matches.
func Detect(text string) (memory.LessonType, bool) {
	for _, p := range detectionPatterns {
		for _, r := range p.rexs {
			if r.MatchString(text) {
				return p.t, true
			}
		}
	}
	return "", false
}

// dedupKey is the lowercased first-100-characters key used to collapse
// repeat lessons.
func dedupKey(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if len(lower) > 100 {
		lower = lower[:100]
	}
	return lower
}

// Orchestrator persists detected and abstracted lessons.
type Orchestrator struct {
	VS               *vectorstore.Client
	PrivatePartition string
	AgentID          string

	seen map[string]bool // dedup-key -> already persisted this process
}

// FromReply detects and persists a lesson from a single user reply, or
// returns ok=false if the text doesn't match a lesson family or was already
// seen under the same dedup key.
func (o *Orchestrator) FromReply(ctx context.Context, text, correction, sourceContext, sourceMemoryID string) (*memory.Lesson, bool) {
	t, ok := Detect(text)
	if !ok {
		return nil, false
	}
	if o.alreadySeen(text) {
		return nil, false
	}
	les := &memory.Lesson{
		ID:              hashID("lesson", dedupKey(text)),
		Type:            t,
		Correction:      correction,
		SourceContext:   sourceContext,
		Confidence:      0.75,
		SourceMemoryID:  sourceMemoryID,
	}
	o.persist(ctx, les)
	return les, true
}

func (o *Orchestrator) alreadySeen(text string) bool {
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}
	key := dedupKey(text)
	if o.seen[key] {
		return true
	}
	o.seen[key] = true
	return false
}

func (o *Orchestrator) persist(ctx context.Context, les *memory.Lesson) {
	now := time.Now().UTC()
	cellText := "[LESSON:" + string(les.Type) + "] " + les.Correction
	if les.SourceContext != "" {
		cellText += " (context: " + les.SourceContext + ")"
	}
	cell := &memory.Cell{
		ID:             les.ID,
		Text:           cellText,
		Type:           memory.TypeSemantic,
		Classification: memory.ClassPublic,
		Urgency:        memory.UrgencyImportant,
		Confidence:     les.Confidence,
		Importance:     0.8,
		AgentID:        o.AgentID,
		Scope:          memory.ScopePublic,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata: map[string]any{
			"source":           "lesson_extraction",
			"lesson_type":      string(les.Type),
			"source_memory_id": les.SourceMemoryID,
		},
	}
	_ = o.VS.Upsert(ctx, o.PrivatePartition, cell.ID, []float32{}, cell.ToPayload())
}

// AbstractCluster summarizes a qualifying (>=3 member) pattern cluster into
// a single lesson. The id is derived from the method and clusterKey, so a
// repeat run overwrites the same cell; the cell carries metadata.abstracted,
// which is not read back to skip a repeat run.
func (o *Orchestrator) AbstractCluster(ctx context.Context, clusterKey string, memberTexts []string) (*memory.Lesson, bool) {
	if len(memberTexts) < 3 {
		return nil, false
	}
	return o.abstraction(ctx, "cluster", clusterKey, summarize(memberTexts))
}

// AbstractRecurringError summarizes a recurring-error pattern (>=2
// occurrences) into a lesson.
func (o *Orchestrator) AbstractRecurringError(ctx context.Context, key string, occurrences int, sampleText string) (*memory.Lesson, bool) {
	if occurrences < 2 {
		return nil, false
	}
	return o.abstraction(ctx, "recurring-error", key, "Recurring issue: "+sampleText)
}

// AbstractCoOccurrence summarizes a >=3-count entity co-occurrence into a
// lesson about the relationship between the two entities.
func (o *Orchestrator) AbstractCoOccurrence(ctx context.Context, entityA, entityB string, count int) (*memory.Lesson, bool) {
	if count < 3 {
		return nil, false
	}
	key := entityA + "+" + entityB
	text := entityA + " and " + entityB + " consistently appear together"
	return o.abstraction(ctx, "co-occurrence", key, text)
}

func (o *Orchestrator) abstraction(ctx context.Context, method, key, summary string) (*memory.Lesson, bool) {
	id := hashID("abstraction:"+method, key)
	les := &memory.Lesson{
		ID:         id,
		Type:       memory.LessonLearned,
		Correction: summary,
		Confidence: 0.6,
	}
	now := time.Now().UTC()
	cell := &memory.Cell{
		ID:             id,
		Text:           "[LESSON:learned] " + summary,
		Type:           memory.TypeSemantic,
		Classification: memory.ClassPublic,
		Urgency:        memory.UrgencyImportant,
		Confidence:     les.Confidence,
		Importance:     0.7,
		AgentID:        o.AgentID,
		Scope:          memory.ScopePublic,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata: map[string]any{
			"source":     "lesson_extraction",
			"abstracted": true,
			"method":     method,
			"key":        key,
		},
	}
	_ = o.VS.Upsert(ctx, o.PrivatePartition, cell.ID, []float32{}, cell.ToPayload())
	return les, true
}

func summarize(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	shortest := texts[0]
	for _, t := range texts[1:] {
		if len(t) < len(shortest) {
			shortest = t
		}
	}
	return "Recurring theme: " + shortest
}

func hashID(kind, key string) string {
	sum := sha256.Sum256([]byte(kind + ":" + key))
	return hex.EncodeToString(sum[:])[:32]
}
