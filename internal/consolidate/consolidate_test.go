package consolidate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/vectorstore"
)

func TestRun_PromotesPopularCell(t *testing.T) {
	var patched map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/shared/points/scroll":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["offset"] != nil {
				json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": []any{}}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"points": []map[string]any{
					{"id": "p1", "vector": []float32{0.1, 0.2}, "payload": map[string]any{
						"text": "popular fact", "memory_type": "semantic", "access_count": 20.0,
					}},
				},
				"next_page_offset": nil,
			}})
		case r.URL.Path == "/collections/shared/points/payload":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			patched, _ = body["payload"].(map[string]any)
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	o := &Orchestrator{VS: vectorstore.New(ts.URL), AgentID: "agent-1"}
	summary, err := o.Run(t.Context(), "shared")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Promoted)
	require.Equal(t, "core", patched["memory_type"])
}
