package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/cache"
	"engram/internal/config"
	"engram/internal/embedding"
	"engram/internal/keyword"
	"engram/internal/vectorstore"
)

func newTestOrchestrator(t *testing.T, vsHandler http.HandlerFunc) (*Orchestrator, *httptest.Server) {
	t.Helper()
	vsServer := httptest.NewServer(vsHandler)
	t.Cleanup(vsServer.Close)

	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"embedding": []float32{0.1, 0.2, 0.3}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	t.Cleanup(embedServer.Close)

	return &Orchestrator{
		VS:          vectorstore.New(vsServer.URL),
		Embed:       embedding.New(config.EmbeddingConfig{BaseURL: embedServer.URL, Path: "/", Model: "m"}),
		Cache:       cache.New(nil),
		Keyword:     keyword.New(),
		Collections: Collections{Shared: "shared", Private: "private"},
	}, vsServer
}

func emptySearchHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && matchSuffix(r.URL.Path, "/points/search"):
			json.NewEncoder(w).Encode(map[string]any{"result": []any{}})
		case r.Method == http.MethodPut && matchSuffix(r.URL.Path, "/points"):
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
}

func matchSuffix(path, suffix string) bool {
	if len(path) < len(suffix) {
		return false
	}
	return path[len(path)-len(suffix):] == suffix
}

func TestStore_SecretTextIsBlocked(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("vector store should never be called for blocked content")
	})
	res, err := o.Store(t.Context(), Input{Text: "my password: hunter2", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, ActionBlockedSecret, res.Action)
	require.Nil(t, res.Cell)
}

func TestStore_CreatesNewCellWhenNoPeerFound(t *testing.T) {
	o, _ := newTestOrchestrator(t, emptySearchHandler(t))
	res, err := o.Store(t.Context(), Input{Text: "the deploy happened yesterday", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, ActionCreated, res.Action)
	require.NotNil(t, res.Cell)
	require.NotEmpty(t, res.Cell.ID)
	require.Equal(t, 1, o.Keyword.Size())
}

func TestStore_DuplicateTextReturnsDuplicateAction(t *testing.T) {
	existingPayload := map[string]any{
		"text": "the deploy happened yesterday", "memory_type": "procedural",
	}
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && matchSuffix(r.URL.Path, "/points/search"):
			json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{
				{"id": "peer-1", "score": 0.97, "payload": existingPayload},
			}})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}
	o, _ := newTestOrchestrator(t, handler)
	res, err := o.Store(t.Context(), Input{Text: "the deploy happened yesterday", AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, ActionDuplicate, res.Action)
	require.Equal(t, "peer-1", res.Cell.ID)
}
