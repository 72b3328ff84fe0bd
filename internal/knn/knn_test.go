package knn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchExactEntry(t *testing.T) {
	ix, err := FromVectors([][]float64{
		{0, 0},
		{1, 0},
		{0, 3},
	})
	require.NoError(t, err)

	hits, err := ix.Search([][]float64{{1, 0}}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0][0].Index)
	assert.InDelta(t, 0, hits[0][0].Dist, 1e-12)
}

func TestSearchSquaredDistances(t *testing.T) {
	ix, err := FromVectors([][]float64{
		{0, 0},
		{3, 4},
	})
	require.NoError(t, err)

	hits, err := ix.Search([][]float64{{0, 0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0][0].Index)
	assert.InDelta(t, 25, hits[0][1].Dist, 1e-12)
}

func TestSearchTieBreaksAscendingIndex(t *testing.T) {
	// Vectors 0 and 2 are equidistant from the query; index 0 must win.
	ix, err := FromVectors([][]float64{
		{1, 0},
		{5, 5},
		{-1, 0},
	})
	require.NoError(t, err)

	hits, err := ix.Search([][]float64{{0, 0}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0][0].Index)
	assert.Equal(t, 2, hits[0][1].Index)
	assert.Equal(t, 1, hits[0][2].Index)

	single, err := ix.Search([][]float64{{0, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, single[0][0].Index)
}

func TestSearchBatchMatchesSingle(t *testing.T) {
	vecs := [][]float64{
		{0.1, 0.9, -0.4},
		{1.2, -0.3, 0.5},
		{-0.7, 0.2, 2.0},
		{0.0, 0.0, 1.0},
	}
	ix, err := FromVectors(vecs)
	require.NoError(t, err)

	queries := [][]float64{
		{0.1, 0.8, -0.3},
		{1.0, 0.0, 0.6},
		{-1.0, 0.0, 2.0},
	}

	batch, err := ix.Search(queries, 2)
	require.NoError(t, err)
	for i, q := range queries {
		one, err := ix.Search([][]float64{q}, 2)
		require.NoError(t, err)
		assert.Equal(t, one[0], batch[i], "query %d", i)
	}
}

func TestSearchKClamp(t *testing.T) {
	ix, err := FromVectors([][]float64{{0}, {1}})
	require.NoError(t, err)

	hits, err := ix.Search([][]float64{{0.4}}, 10)
	require.NoError(t, err)
	assert.Len(t, hits[0], 2)
}

func TestSearchErrors(t *testing.T) {
	ix, err := New(3)
	require.NoError(t, err)

	_, err = ix.Search([][]float64{{1, 2, 3}}, 1)
	assert.Error(t, err, "empty index")

	require.NoError(t, ix.Add([][]float64{{1, 2, 3}}))

	_, err = ix.Search([][]float64{{1, 2}}, 1)
	assert.Error(t, err, "query dim mismatch")

	_, err = ix.Search([][]float64{{1, 2, 3}}, 0)
	assert.Error(t, err, "non-positive k")

	err = ix.Add([][]float64{{1, 2}})
	assert.Error(t, err, "vector dim mismatch")
}

func TestSearchNaNLosesTies(t *testing.T) {
	ix, err := FromVectors([][]float64{
		{math.NaN(), 0},
		{5, 0},
	})
	require.NoError(t, err)

	hits, err := ix.Search([][]float64{{0, 0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, hits[0][0].Index)
	assert.Equal(t, 0, hits[0][1].Index)
	assert.True(t, math.IsNaN(hits[0][1].Dist))
}
