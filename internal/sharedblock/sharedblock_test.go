package sharedblock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/vectorstore"
)

func TestID_IsDeterministicAndUUIDShaped(t *testing.T) {
	a := ID("agent-notes")
	b := ID("agent-notes")
	require.Equal(t, a, b)
	require.Len(t, a, 36)
	require.NotEqual(t, ID("agent-notes"), ID("other-notes"))
}

func newFakeStore(t *testing.T) (*vectorstore.Client, func() map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var stored map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/points") && r.Method == http.MethodPut:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			points := body["points"].([]any)
			stored = points[0].(map[string]any)["payload"].(map[string]any)
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{})
		case strings.HasSuffix(r.URL.Path, "/points/scroll"):
			mu.Lock()
			defer mu.Unlock()
			if stored == nil {
				json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points": []any{}}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{
				"points": []map[string]any{{"id": "blk", "payload": stored}},
			}})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)
	return vectorstore.New(srv.URL), func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return stored
	}
}

func TestManager_SetThenGetRoundTrips(t *testing.T) {
	vs, _ := newFakeStore(t)
	m := New(vs, "shared")

	blk, err := m.Set(t.Context(), "agent-notes", "remember this", []float32{0.1}, "agent-1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, blk.Version)

	got, ok, err := m.Get(t.Context(), "agent-notes")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remember this", got.Content)
	require.Equal(t, 1, got.Version)
}

func TestManager_SetIncrementsVersionOnExisting(t *testing.T) {
	vs, _ := newFakeStore(t)
	m := New(vs, "shared")

	_, err := m.Set(t.Context(), "agent-notes", "v1", []float32{0.1}, "agent-1", nil)
	require.NoError(t, err)
	blk, err := m.Set(t.Context(), "agent-notes", "v2", []float32{0.1}, "agent-1", nil)
	require.NoError(t, err)

	require.Equal(t, 2, blk.Version)
}

func TestManager_GetMissingBlockReturnsNotOK(t *testing.T) {
	vs, _ := newFakeStore(t)
	m := New(vs, "shared")

	_, ok, err := m.Get(t.Context(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
