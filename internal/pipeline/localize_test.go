package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/feature"
	"github.com/descloc/descloc/internal/fusion"
	"github.com/descloc/descloc/internal/geom"
	"github.com/descloc/descloc/internal/localize"
	"github.com/descloc/descloc/internal/pose"
	"github.com/descloc/descloc/internal/recon"
)

// batchScene sets up a three-point map whose camera-frame points lie on
// mutually orthogonal bearings, giving the solver a single exact
// solution, plus a localizer over the resulting codebook.
type batchScene struct {
	gt     *geom.Pose
	cam    geom.Camera
	pixels []r2.Point
	descs  [][]float64
	loc    *localize.Localizer
}

func newBatchScene(t *testing.T) *batchScene {
	t.Helper()
	s := &batchScene{
		gt: &geom.Pose{
			R: geom.RotationFromAxisAngle(r3.Vector{X: 0.2, Y: -0.1, Z: 0.15}),
			T: r3.Vector{X: 0.3, Y: -0.2, Z: 0.5},
		},
		cam: geom.Camera{
			Model:  geom.ModelSimplePinhole,
			Width:  640,
			Height: 480,
			Params: []float64{500, 320, 240},
		},
		descs: [][]float64{{1, 0}, {0, 1}, {1, 1}},
	}
	bearings := []r3.Vector{
		{X: 1 / math.Sqrt(2), Y: 1 / math.Sqrt(6), Z: 1 / math.Sqrt(3)},
		{X: -1 / math.Sqrt(2), Y: 1 / math.Sqrt(6), Z: 1 / math.Sqrt(3)},
		{X: 0, Y: -2 / math.Sqrt(6), Z: 1 / math.Sqrt(3)},
	}
	depths := []float64{5, 6, 4}

	inv := s.gt.Inverse()
	points := map[int64]r3.Vector{}
	builder := codebook.NewBuilder(2, codebook.Float64)
	for i, b := range bearings {
		cp := b.Mul(depths[i])
		id := int64(10 * (i + 1))
		points[id] = inv.Apply(cp)
		px, ok := s.cam.Project(cp)
		require.True(t, ok)
		s.pixels = append(s.pixels, px)
		require.NoError(t, builder.Add(id, s.descs[i]))
	}

	solver := pose.DefaultOptions()
	solver.MinCorrespondences = 3
	solver.Iterations = 64
	solver.Seed = 1
	loc, err := localize.New(builder.Finalize(nil), points, nil, localize.Options{
		Dedupe: true,
		Solver: solver,
	})
	require.NoError(t, err)
	s.loc = loc
	return s
}

func (s *batchScene) queryRecord(name string) recon.Record {
	return recon.Record{Name: name, Camera: s.cam}
}

func TestLocalizeBatchOrdersResults(t *testing.T) {
	s := newBatchScene(t)
	st := openStore(t)
	require.NoError(t, st.PutLocal([]feature.LocalRecord{{
		Image:       "query/ok.png",
		Keypoints:   s.pixels,
		Descriptors: s.descs,
	}}))

	prior := &geom.Pose{
		R: geom.RotationFromAxisAngle(r3.Vector{Z: 0.5}),
		T: r3.Vector{X: 1, Y: 2, Z: 3},
	}
	queries := []recon.Record{
		s.queryRecord("query/ok.png"),
		s.queryRecord("query/missing.png"),
		s.queryRecord("query/prior.png"),
	}

	results, err := LocalizeBatch(context.Background(), s.loc, queries, st, LocalizeOptions{
		Workers: 3,
		Resume:  map[string]*geom.Pose{"query/prior.png": prior},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "query/ok.png", results[0].Name)
	require.Equal(t, localize.StatusPose, results[0].Status)
	require.NotNil(t, results[0].Pose)
	assert.Less(t, geom.GeodesicAngleDeg(results[0].Pose.R, s.gt.R), 1e-5)
	assert.Less(t, results[0].Pose.T.Sub(s.gt.T).Norm(), 1e-7)

	assert.Equal(t, "query/missing.png", results[1].Name)
	assert.Equal(t, localize.StatusSkipped, results[1].Status)
	assert.ErrorIs(t, results[1].Err, feature.ErrNotFound)

	assert.Equal(t, "query/prior.png", results[2].Name)
	require.Equal(t, localize.StatusPose, results[2].Status)
	assert.Same(t, prior, results[2].Pose)

	assert.Equal(t, map[localize.Status]int{
		localize.StatusPose:    2,
		localize.StatusSkipped: 1,
	}, Tally(results))
}

func TestLocalizeBatchSkipsMissingGlobal(t *testing.T) {
	s := newBatchScene(t)
	st := openStore(t)
	require.NoError(t, st.PutLocal([]feature.LocalRecord{{
		Image:       "query/ok.png",
		Keypoints:   s.pixels,
		Descriptors: s.descs,
	}}))

	// Same map, but with global fusion on; the store has no global
	// descriptor for the query.
	builder := codebook.NewBuilder(2, codebook.Float64)
	points := map[int64]r3.Vector{}
	for i := range s.descs {
		id := int64(10 * (i + 1))
		points[id] = r3.Vector{X: float64(i), Y: 0, Z: 5}
		require.NoError(t, builder.Add(id, s.descs[i]))
	}
	loc, err := localize.New(builder.Finalize(nil), points, nil, localize.Options{
		Fusion: fusion.Options{Lambda: 0.5, UseGlobal: true},
		Solver: pose.DefaultOptions(),
	})
	require.NoError(t, err)

	results, err := LocalizeBatch(context.Background(), loc, []recon.Record{s.queryRecord("query/ok.png")}, st, LocalizeOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, localize.StatusSkipped, results[0].Status)
	assert.ErrorIs(t, results[0].Err, feature.ErrNotFound)
}

func TestLocalizeBatchCancelled(t *testing.T) {
	s := newBatchScene(t)
	st := openStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LocalizeBatch(ctx, s.loc, []recon.Record{s.queryRecord("q")}, st, LocalizeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalizeBatchEmpty(t *testing.T) {
	s := newBatchScene(t)
	st := openStore(t)

	results, err := LocalizeBatch(context.Background(), s.loc, nil, st, LocalizeOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
