package dedupe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenAfterRemember(t *testing.T) {
	c := New(16)
	require.False(t, c.Seen("k"))
	c.Remember("k")
	require.True(t, c.Seen("k"))
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(3)
	c.Remember("a")
	c.Remember("b")
	c.Remember("c")
	c.Remember("d")

	require.Equal(t, 3, c.Len())
	require.False(t, c.Seen("a"))
	require.True(t, c.Seen("b"))
	require.True(t, c.Seen("d"))
}

func TestSeenDoesNotRefreshPosition(t *testing.T) {
	c := New(3)
	c.Remember("a")
	c.Remember("b")
	c.Remember("c")

	// Querying "a" must not save it from eviction.
	require.True(t, c.Seen("a"))
	c.Remember("d")
	require.False(t, c.Seen("a"))
}

func TestBoundHoldsUnderChurn(t *testing.T) {
	c := New(100)
	for i := 0; i < 10000; i++ {
		c.Remember(fmt.Sprintf("fp-%d", i))
		require.LessOrEqual(t, c.Len(), 100)
	}
	// only keys within the most recent 100 insertions survive
	require.True(t, c.Seen("fp-9999"))
	require.True(t, c.Seen("fp-9900"))
	require.False(t, c.Seen("fp-9899"))
}

func TestDefaultCapacity(t *testing.T) {
	c := New(0)
	for i := 0; i < DefaultCapacity+5; i++ {
		c.Remember(fmt.Sprintf("fp-%d", i))
	}
	require.Equal(t, DefaultCapacity, c.Len())
}
