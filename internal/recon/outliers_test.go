package recon

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterOutliers(t *testing.T) {
	points := map[int64]r3.Vector{}
	// A tight cluster of 8 points inside a unit cube corner.
	for i := int64(0); i < 8; i++ {
		points[i] = r3.Vector{
			X: float64(i&1) * 0.1,
			Y: float64(i>>1&1) * 0.1,
			Z: float64(i>>2&1) * 0.1,
		}
	}
	// One stray triangulation far away.
	points[99] = r3.Vector{X: 50, Y: 50, Z: 50}

	kept, removed := FilterOutliers(points, 1.0, 3)
	assert.Equal(t, 1, removed)
	require.Len(t, kept, 8)
	_, ok := kept[99]
	assert.False(t, ok)
	assert.Equal(t, points[3], kept[3])
}

func TestFilterOutliersDisabled(t *testing.T) {
	points := map[int64]r3.Vector{1: {X: 1}, 2: {X: 100}}

	kept, removed := FilterOutliers(points, 0, 3)
	assert.Equal(t, 0, removed)
	assert.Len(t, kept, 2)

	kept, removed = FilterOutliers(points, 1.0, 1)
	assert.Equal(t, 0, removed)
	assert.Len(t, kept, 2)
}

func TestFilterOutliersCountsSelf(t *testing.T) {
	// Two points within radius of each other: each sees 2 neighbors
	// including itself, so minNeighbors=2 keeps both.
	points := map[int64]r3.Vector{1: {X: 0}, 2: {X: 0.5}}
	kept, removed := FilterOutliers(points, 1.0, 2)
	assert.Equal(t, 0, removed)
	assert.Len(t, kept, 2)

	kept, removed = FilterOutliers(points, 1.0, 3)
	assert.Equal(t, 2, removed)
	assert.Empty(t, kept)
}

func TestDropMissingObservations(t *testing.T) {
	records := []Record{
		{Name: "a.png", Points: []Observation{{PointID: 1}, {PointID: 2}, {PointID: 3}}},
		{Name: "b.png", Points: []Observation{{PointID: 2}}},
	}
	points := map[int64]r3.Vector{1: {}, 3: {}}

	dropped := DropMissingObservations(records, points)
	assert.Equal(t, 2, dropped)
	require.Len(t, records[0].Points, 2)
	assert.Equal(t, int64(1), records[0].Points[0].PointID)
	assert.Equal(t, int64(3), records[0].Points[1].PointID)
	assert.Empty(t, records[1].Points)
}
