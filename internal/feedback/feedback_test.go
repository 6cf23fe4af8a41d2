package feedback

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/memory"
	"engram/internal/prefs"
	"engram/internal/vectorstore"
)

func TestDetectSentiment(t *testing.T) {
	require.Equal(t, SentimentPositive, DetectSentiment("Thanks, that worked perfectly"))
	require.Equal(t, SentimentNegative, DetectSentiment("No, that's wrong, didn't help at all"))
	require.Equal(t, SentimentNeutral, DetectSentiment("Let's move to the next topic"))
}

func TestIsReferenced_SharedShingleMatches(t *testing.T) {
	text := "restart the payments service after a deploy"
	response := "ok, I will restart the payments service now"
	require.True(t, IsReferenced(text, response))
}

func TestIsReferenced_ProperNounOverlapMatches(t *testing.T) {
	text := "Kubernetes cluster Prometheus alert fired"
	response := "Kubernetes and Prometheus are both fine now"
	require.True(t, IsReferenced(text, response))
}

func TestIsReferenced_UnrelatedTextDoesNotMatch(t *testing.T) {
	text := "deploy the payments service"
	response := "what's for lunch today"
	require.False(t, IsReferenced(text, response))
}

func TestApply_PositiveSentimentIncreasesImportanceAndPromotes(t *testing.T) {
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL)}
	cell := &memory.Cell{
		ID:         "mem-1",
		Text:       "restart the payments service after a deploy",
		Type:       memory.TypeEpisodic,
		Importance: 0.5,
		Confidence: 0.8,
		Metadata: map[string]any{
			"hit_count":    2.0,
			"useful_count": 2.0,
		},
	}

	outcomes, err := o.Apply(t.Context(), "shared", []*memory.Cell{cell}, "thanks, restarting the payments service now", "", "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Referenced)
	require.Equal(t, SentimentPositive, outcomes[0].Sentiment)
	require.True(t, outcomes[0].Promoted)
	payload, _ := captured["payload"].(map[string]any)
	require.Equal(t, "core", payload["memory_type"])
}

func TestApply_NegativeSentimentFlagsNeedsReview(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL)}
	cell := &memory.Cell{ID: "mem-2", Text: "unrelated text", Importance: 0.5, Confidence: 0.8}

	outcomes, err := o.Apply(t.Context(), "shared", []*memory.Cell{cell}, "no, that's wrong", "", "")
	require.NoError(t, err)
	require.Equal(t, SentimentNegative, outcomes[0].Sentiment)
}

func TestApply_NegativeSignalsFeedFrustrationState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	store := prefs.NewStore()
	o := &Orchestrator{VS: vectorstore.New(ts.URL), Prefs: store}
	cell := &memory.Cell{ID: "mem-3", Text: "unrelated text"}

	for i := 0; i < 3; i++ {
		_, err := o.Apply(t.Context(), "shared", []*memory.Cell{cell}, "no, that's wrong", "user-1", "agent-1")
		require.NoError(t, err)
	}
	require.True(t, store.Frustration("user-1", "agent-1").IsFrustrated())
}
