package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkSlice(t *testing.T) {
	chunks := ChunkSlice([]int{1, 2, 3, 4, 5}, 2)
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
}

func TestChunkSliceExactMultiple(t *testing.T) {
	chunks := ChunkSlice([]string{"a", "b", "c", "d"}, 2)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, chunks)
}

func TestChunkSliceEmpty(t *testing.T) {
	require.Empty(t, ChunkSlice([]int{}, 3))
}

func TestChunkSliceNonPositiveBatch(t *testing.T) {
	chunks := ChunkSlice([]int{1, 2, 3}, 0)
	require.Equal(t, [][]int{{1, 2, 3}}, chunks)
}
