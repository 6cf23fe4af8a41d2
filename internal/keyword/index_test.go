package keyword

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize_PreservesIPsAndPorts(t *testing.T) {
	toks := Tokenize("The server IP is 192.168.1.1 on port 5432, v1.2.3!")
	require.Contains(t, toks, "192.168.1.1")
	require.Contains(t, toks, "5432")
	require.Contains(t, toks, "v1.2.3")
}

func TestAddThenRemove_LeavesIndexAtPreAddState(t *testing.T) {
	idx := New()
	require.Equal(t, 0, idx.TermDocCount("server"))
	idx.Add("a", "the server is up")
	require.Equal(t, 1, idx.TermDocCount("server"))
	idx.Remove("a")
	require.Equal(t, 0, idx.TermDocCount("server"))
	require.Equal(t, 0, idx.Size())
}

func TestAdd_IsIdempotentOnReAdd(t *testing.T) {
	idx := New()
	idx.Add("a", "server database server")
	idx.Add("a", "server database server")
	require.Equal(t, 1, idx.Size())
	require.Equal(t, 1, idx.TermDocCount("database"))
}

func TestSearch_RanksByBM25Score(t *testing.T) {
	idx := New()
	idx.Add("a", "the server ip address is known")
	idx.Add("b", "database runs on a port")
	hits := idx.Search("server ip", 10)
	require.NotEmpty(t, hits)
	require.Equal(t, "a", hits[0].ID)
}

func TestSearch_EmptyQueryReturnsNil(t *testing.T) {
	idx := New()
	idx.Add("a", "hello world")
	require.Nil(t, idx.Search("", 10))
}

func TestFuseRRF_RestrictsToVectorSuppliedIDs(t *testing.T) {
	bm25 := []Hit{{ID: "a", Score: 2}, {ID: "b", Score: 1}}
	vec := []VectorRank{{ID: "a"}}
	fused := FuseRRF(bm25, vec)
	require.Equal(t, []string{"a"}, fused)
}
