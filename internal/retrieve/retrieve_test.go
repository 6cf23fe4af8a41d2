package retrieve

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
	"engram/internal/memory"
	"engram/internal/prefs"
	"engram/internal/vectorstore"
)

func newTestOrchestrator(t *testing.T, points []map[string]any) *Orchestrator {
	t.Helper()
	vsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": points})
	}))
	t.Cleanup(vsServer.Close)

	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2}})
	}))
	t.Cleanup(embedServer.Close)

	o := &Orchestrator{
		VS:      vectorstore.New(vsServer.URL),
		Embed:   embedding.New(config.EmbeddingConfig{BaseURL: embedServer.URL, Path: "/", Model: "m"}),
		Keyword: keyword.New(),
		Cache:   cache.New(nil),
	}
	o.Collections.Shared = "shared"
	o.Collections.Private = "private"
	return o
}

func TestRetrieve_ReturnsRankedResults(t *testing.T) {
	points := []map[string]any{
		{"id": "a", "score": 0.9, "payload": map[string]any{
			"text": "how to deploy the service", "memory_type": "procedural",
			"importance": 0.8, "confidence": 0.8, "urgency": "important", "domain": "technical",
		}},
		{"id": "b", "score": 0.2, "payload": map[string]any{
			"text": "unrelated content about lunch", "memory_type": "episodic",
			"importance": 0.1, "confidence": 0.3, "urgency": "background", "domain": "personal",
		}},
	}
	o := newTestOrchestrator(t, points)
	out, err := o.Retrieve(t.Context(), Query{Text: "how do I deploy the service", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "a", out[0].Cell.ID)
}

func TestRetrieve_CachesRepeatedQuery(t *testing.T) {
	calls := 0
	vsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{}})
	}))
	defer vsServer.Close()
	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1}})
	}))
	defer embedServer.Close()

	o := &Orchestrator{
		VS:      vectorstore.New(vsServer.URL),
		Embed:   embedding.New(config.EmbeddingConfig{BaseURL: embedServer.URL, Path: "/", Model: "m"}),
		Keyword: keyword.New(),
		Cache:   cache.New(nil),
	}
	o.Collections.Shared = "shared"

	_, err := o.Retrieve(t.Context(), Query{Text: "same query", Limit: 5})
	require.NoError(t, err)
	_, err = o.Retrieve(t.Context(), Query{Text: "same query", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call should be served from cache without hitting the vector store")
}

func TestRetrieve_FrustratedSessionBoostsProceduralAndCore(t *testing.T) {
	points := []map[string]any{
		{"id": "a", "score": 0.5, "payload": map[string]any{
			"text": "how to deploy the service", "memory_type": "procedural",
			"importance": 0.5, "confidence": 0.8, "urgency": "important", "domain": "technical",
		}},
		{"id": "b", "score": 0.5, "payload": map[string]any{
			"text": "a note about the service", "memory_type": "episodic",
			"importance": 0.5, "confidence": 0.8, "urgency": "important", "domain": "technical",
		}},
	}
	o := newTestOrchestrator(t, points)
	store := prefs.NewStore()
	f := store.Frustration("user-1", "agent-1")
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	o.Prefs = store

	out, err := o.Retrieve(t.Context(), Query{Text: "service status", Limit: 1, UserID: "user-1", AgentID: "agent-1"})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, memory.TypeProcedural, out[0].Cell.Type)
}
