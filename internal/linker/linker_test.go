package linker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/vectorstore"
)

func newTestServer(t *testing.T, searchResult []map[string]any, peerPayload map[string]any) (*vectorstore.Client, *[]string) {
	t.Helper()
	var patchedPeers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/points/search"):
			json.NewEncoder(w).Encode(map[string]any{"result": searchResult})
		case strings.Contains(r.URL.Path, "/points/") && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"id": "peer-1", "payload": peerPayload}})
		case strings.HasSuffix(r.URL.Path, "/points/payload"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			for _, id := range body["points"].([]any) {
				patchedPeers = append(patchedPeers, id.(string))
			}
			json.NewEncoder(w).Encode(map[string]any{})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)
	return vectorstore.New(srv.URL), &patchedPeers
}

func TestLink_LinksPeersAboveThreshold(t *testing.T) {
	vs, patched := newTestServer(t,
		[]map[string]any{
			{"id": "peer-1", "score": 0.95, "payload": map[string]any{}},
			{"id": "new-id", "score": 1.0, "payload": map[string]any{}},
		},
		map[string]any{"linked_memories": []any{}},
	)

	linked := Link(t.Context(), vs, "shared", "new-id", []float32{1, 0}, nil, 0, 0)

	require.Contains(t, linked, "peer-1")
	require.NotContains(t, linked, "new-id")
	require.Contains(t, *patched, vectorstore.PointID("peer-1"))
}

func TestLink_SkipsPeersBelowThreshold(t *testing.T) {
	vs, patched := newTestServer(t,
		[]map[string]any{
			{"id": "peer-1", "score": 0.2, "payload": map[string]any{}},
		},
		map[string]any{},
	)

	linked := Link(t.Context(), vs, "shared", "new-id", []float32{1, 0}, []string{"existing-1"}, DefaultThreshold, DefaultK)

	require.Equal(t, []string{"existing-1"}, linked)
	require.Empty(t, *patched)
}

func TestLink_SearchFailureReturnsExistingLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	vs := vectorstore.New(srv.URL)

	linked := Link(t.Context(), vs, "shared", "new-id", []float32{1, 0}, []string{"existing-1"}, 0, 0)

	require.Equal(t, []string{"existing-1"}, linked)
}
