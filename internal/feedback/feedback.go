// Package feedback implements the feedback loop: sentiment detection
// over a user response to a prior result set, reference detection back to
// the recalled memories, and importance/confidence/promotion adjustments
// persisted via patch.
package feedback

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"engram/internal/keyword"
	"engram/internal/memory"
	"engram/internal/prefs"
	"engram/internal/vectorstore"
)

// Sentiment is the detected tone of a user response.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

var (
	positivePatterns = compile([]string{
		`(?i)\bthanks?\b`, `(?i)\bgreat\b`, `(?i)\bperfect\b`, `(?i)\bexactly\b`,
		`(?i)\bthat (?:worked|works|helped)\b`, `(?i)\byes,? that'?s it\b`,
	})
	negativePatterns = compile([]string{
		`(?i)\bwrong\b`, `(?i)\bnot (?:right|correct|helpful)\b`, `(?i)\bthat'?s not it\b`,
		`(?i)\buseless\b`, `(?i)\bdidn'?t (?:work|help)\b`, `(?i)\bno,? that'?s\b`,
	})
)

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DetectSentiment classifies a user response into positive/negative/neutral.
func DetectSentiment(response string) Sentiment {
	for _, r := range negativePatterns {
		if r.MatchString(response) {
			return SentimentNegative
		}
	}
	for _, r := range positivePatterns {
		if r.MatchString(response) {
			return SentimentPositive
		}
	}
	return SentimentNeutral
}

const (
	referencedImportanceBump = 0.05
	staleReferenceDrop       = 0.02
	stalePenaltyMinHits      = 5
	stalePenaltyMaxRatio     = 0.2

	positiveImportanceBump = 0.1
	negativeConfidenceDrop = 0.1

	promoteUsefulnessFloor = 0.7
	promoteMinHits         = 3
)

// IsReferenced reports whether text was referenced in response, via a
// shared 3-word shingle or >=2 overlapping proper-noun/long-token terms.
func IsReferenced(text, response string) bool {
	textTokens := keyword.Tokenize(text)
	respTokens := keyword.Tokenize(response)
	if hasSharedShingle(textTokens, respTokens, 3) {
		return true
	}
	return properNounOverlap(text, response) >= 2
}

func hasSharedShingle(a, b []string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	shingles := make(map[string]bool, len(a))
	for i := 0; i+n <= len(a); i++ {
		shingles[strings.Join(a[i:i+n], " ")] = true
	}
	for i := 0; i+n <= len(b); i++ {
		if shingles[strings.Join(b[i:i+n], " ")] {
			return true
		}
	}
	return false
}

// properNounOverlap counts capitalized/long-token words shared between the
// original-cased strings.
func properNounOverlap(a, b string) int {
	wordsA := longOrCapitalizedWords(a)
	wordsB := longOrCapitalizedWords(b)
	count := 0
	for w := range wordsA {
		if wordsB[w] {
			count++
		}
	}
	return count
}

func longOrCapitalizedWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		trimmed := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if trimmed == "" {
			continue
		}
		isCap := unicode.IsUpper(rune(trimmed[0]))
		if isCap || len(trimmed) >= 7 {
			out[strings.ToLower(trimmed)] = true
		}
	}
	return out
}

// Outcome describes the patch applied to a single recalled memory.
type Outcome struct {
	CellID     string
	Referenced bool
	Sentiment  Sentiment
	Promoted   bool
}

// Orchestrator applies feedback effects to the memories in a prior result
// set.
type Orchestrator struct {
	VS         *vectorstore.Client
	Partitions []string
	Prefs      *prefs.Store // nil disables frustration tracking
}

// Apply processes a user response against the previously returned cells,
// persisting adjustments via patch. It never re-embeds. When userID/agentID
// are non-empty and Prefs is configured, the detected sentiment also feeds
// the session's frustration state.
func (o *Orchestrator) Apply(ctx context.Context, partition string, results []*memory.Cell, response, userID, agentID string) ([]Outcome, error) {
	sentiment := DetectSentiment(response)
	if o.Prefs != nil && userID != "" && agentID != "" {
		o.Prefs.Frustration(userID, agentID).RecordSignal(string(sentiment))
	}
	outcomes := make([]Outcome, 0, len(results))

	for _, cell := range results {
		referenced := IsReferenced(cell.Text, response)
		patch := map[string]any{"updated_at": time.Now().UTC()}

		importance := cell.Importance
		confidence := cell.Confidence

		hitCount, _ := cell.Metadata["hit_count"].(float64)
		usefulCount, _ := cell.Metadata["useful_count"].(float64)
		referenceCount, _ := cell.Metadata["reference_count"].(float64)

		if referenced {
			importance += referencedImportanceBump
			referenceCount++
		} else if hitCount >= stalePenaltyMinHits && referenceCount/maxFloat(hitCount, 1) < stalePenaltyMaxRatio {
			importance -= staleReferenceDrop
		}

		switch sentiment {
		case SentimentPositive:
			importance += positiveImportanceBump
			usefulCount++
			patch["needs_review"] = false
		case SentimentNegative:
			confidence -= negativeConfidenceDrop
			patch["needs_review"] = true
		}

		hitCount++
		usefulnessRatio := usefulCount / hitCount

		promoted := false
		if usefulnessRatio > promoteUsefulnessFloor && hitCount >= promoteMinHits && cell.Type != memory.TypeCore {
			patch["memory_type"] = string(memory.TypeCore)
			promoted = true
		}

		patch["importance"] = clamp01(importance)
		// Confidence never drops below 0.1 (I7).
		patch["confidence"] = maxFloat(clamp01(confidence), 0.1)
		// Counters are top-level payload keys, where CellFromPayload reads
		// them back into cell.Metadata on the next call.
		patch["hit_count"] = hitCount
		patch["useful_count"] = usefulCount
		patch["reference_count"] = referenceCount
		patch["usefulness_ratio"] = usefulnessRatio

		if err := o.VS.Patch(ctx, partition, cell.ID, patch); err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, Outcome{CellID: cell.ID, Referenced: referenced, Sentiment: sentiment, Promoted: promoted})
	}

	return outcomes, nil
}

func mergeMetadata(base map[string]any, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
