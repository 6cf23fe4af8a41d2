package memory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCell_ToPayloadThenFromPayloadRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	c := &Cell{
		ID:             "abc",
		Text:           "deploy the service on fridays",
		Category:       "ops",
		Type:           TypeProcedural,
		Classification: ClassPrivate,
		Urgency:        UrgencyImportant,
		Domain:         DomainTechnical,
		ConfidenceTag:  "",
		Confidence:     0.8,
		Importance:     0.6,
		Priority:       0.5,
		AgentID:        "agent-1",
		UserID:         "user-1",
		Scope:          ScopePrivate,
		LinkedMemories: []string{"x", "y"},
		IngestedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
		AccessTimes:    []time.Time{now},
		AccessCount:    3,
		Deleted:        false,
		Metadata:       map[string]any{"custom": "value"},
	}

	payload := c.ToPayload()

	// Simulate the wire round trip through JSON, as the vector store would.
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got := CellFromPayload(c.ID, nil, decoded)

	require.Equal(t, c.Text, got.Text)
	require.Equal(t, c.Type, got.Type)
	require.Equal(t, c.Classification, got.Classification)
	require.Equal(t, c.Urgency, got.Urgency)
	require.Equal(t, c.Domain, got.Domain)
	require.Equal(t, c.Confidence, got.Confidence)
	require.Equal(t, c.Importance, got.Importance)
	require.Equal(t, c.AgentID, got.AgentID)
	require.Equal(t, c.UserID, got.UserID)
	require.Equal(t, c.Scope, got.Scope)
	require.ElementsMatch(t, c.LinkedMemories, got.LinkedMemories)
	require.Equal(t, c.AccessCount, got.AccessCount)
	require.Equal(t, "value", got.Metadata["custom"])
}

func TestCell_ToPayloadOmitsZeroEventTime(t *testing.T) {
	c := &Cell{Text: "x"}
	payload := c.ToPayload()
	_, ok := payload["event_time"]
	require.False(t, ok)
}

func TestCell_ToPayloadMetadataDoesNotOverrideKnownFields(t *testing.T) {
	c := &Cell{
		Text:     "x",
		Priority: 0.9,
		Metadata: map[string]any{"priority": 0.1},
	}
	payload := c.ToPayload()
	require.Equal(t, 0.9, payload["priority"])
}
