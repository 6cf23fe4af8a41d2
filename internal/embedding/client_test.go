package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"engram/internal/config"
)

func TestEmbed_HeadersMapTakesAuthorization(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Token abc", r.Header.Get("Authorization"))
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Headers: map[string]string{"Authorization": "Token abc"}}
	c := New(cfg)
	_, err := c.Embed(t.Context(), "x")
	require.NoError(t, err)
}

func TestEmbed_LegacyAuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "Authorization", APIKey: "secret"}
	c := New(cfg)
	_, err := c.Embed(t.Context(), "x")
	require.NoError(t, err)
}

func TestEmbed_SingleVectorShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"embedding": []float32{0.4, 0.5}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"}
	c := New(cfg)
	v, err := c.Embed(t.Context(), "x")
	require.NoError(t, err)
	require.Equal(t, []float32{0.4, 0.5}, v)
}

func TestEmbed_BatchVectorsShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"embeddings": [][]float32{{0.1}, {0.2}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"}
	c := New(cfg)
	vs, err := c.EmbedBatch(t.Context(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vs, 2)
}

func TestEmbed_CachesRepeatedCalls(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		resp := map[string]any{"embedding": []float32{0.9}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"}
	c := New(cfg)
	_, err := c.Embed(t.Context(), "same text")
	require.NoError(t, err)
	_, err = c.Embed(t.Context(), "same text")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestEmbed_CacheExpiresAfterTTL(t *testing.T) {
	cfg := config.EmbeddingConfig{BaseURL: "http://unused", Path: "/", Model: "m"}
	c := New(cfg)
	c.store("text", []float32{1})
	c.cache["text"] = cacheEntry{vec: []float32{1}, insertedAt: time.Now().Add(-cacheTTL - time.Second)}
	_, ok := c.lookup("text")
	require.False(t, ok)
}
