package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKey_NormalizesQueryCaseAndWhitespace(t *testing.T) {
	require.Equal(t, Key("  Deploy  ", 5, 0.5), Key("deploy", 5, 0.5))
}

func TestCache_SetThenGetRoundTrips(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)

	c.Set(t.Context(), "k1", map[string]string{"a": "b"})

	var out map[string]string
	ok := c.Get(t.Context(), "k1", &out)
	require.True(t, ok)
	require.Equal(t, "b", out["a"])
}

func TestCache_GetMissingKeyReturnsFalse(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)

	var out map[string]string
	require.False(t, c.Get(t.Context(), "missing", &out))
}

func TestCache_InvalidateAllFlushesL1(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)

	c.Set(t.Context(), "k1", "v1")
	c.InvalidateAll()

	require.Eventually(t, func() bool {
		var out string
		return !c.Get(t.Context(), "k1", &out)
	}, time.Second, 5*time.Millisecond)
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(nil)
	t.Cleanup(c.Close)

	for i := 0; i < l1Capacity+5; i++ {
		c.Set(t.Context(), Key("q", i, 0), i)
	}

	var out int
	require.False(t, c.Get(t.Context(), Key("q", 0, 0), &out), "earliest entry should have been evicted")
	require.True(t, c.Get(t.Context(), Key("q", l1Capacity+4, 0), &out))
}
