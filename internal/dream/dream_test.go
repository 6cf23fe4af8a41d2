package dream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram/internal/vectorstore"
)

func TestShouldRun_TrueWhenNoMarkerExists(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL), AgentID: "agent-1"}
	require.True(t, o.ShouldRun(t.Context(), "shared"))
}

func TestShouldRun_FalseWhenRecentMarkerExists(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
			"id": "dream-meta-agent-1",
			"payload": map[string]any{
				"last_run": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
			},
		}})
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL), AgentID: "agent-1"}
	require.False(t, o.ShouldRun(t.Context(), "shared"))
}

func TestRun_AbortsCleanlyWhenBudgetAlreadyExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/shared/points/scroll":
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": []any{}, "next_page_offset": nil}})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL), AgentID: "agent-1", Budget: time.Nanosecond}
	summary, err := o.Run(t.Context(), "shared", 4)
	require.NoError(t, err)
	require.True(t, summary.Aborted)
}
