package feature

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocalRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := LocalRecord{
		Image:     "seq1/frame0.png",
		Keypoints: []r2.Point{{X: 10.5, Y: 20.25}, {X: 1, Y: 2}},
		Descriptors: [][]float64{
			{0.5, -0.25, 1},
			{1.5, 0, -2},
		},
	}
	require.NoError(t, s.PutLocal([]LocalRecord{rec}))

	kps, descs, err := s.Local("seq1/frame0.png")
	require.NoError(t, err)
	require.Len(t, kps, 2)
	require.Len(t, descs, 2)
	// All fixture values are exactly representable in float32.
	assert.Equal(t, rec.Keypoints, kps)
	assert.Equal(t, rec.Descriptors, descs)
}

func TestGlobalRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutGlobal([]GlobalRecord{
		{Image: "q.png", Descriptor: []float64{0.125, -0.5, 3, 4}},
	}))

	vec, err := s.Global("q.png")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.125, -0.5, 3, 4}, vec)
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.Local("missing.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "missing.png")

	_, err = s.Global("missing.png")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutLocalReplaces(t *testing.T) {
	s := openTestStore(t)

	first := LocalRecord{
		Image:       "a.png",
		Keypoints:   []r2.Point{{X: 1, Y: 1}},
		Descriptors: [][]float64{{1, 2}},
	}
	require.NoError(t, s.PutLocal([]LocalRecord{first}))

	second := LocalRecord{
		Image:       "a.png",
		Keypoints:   []r2.Point{{X: 3, Y: 3}, {X: 4, Y: 4}},
		Descriptors: [][]float64{{5, 6}, {7, 8}},
	}
	require.NoError(t, s.PutLocal([]LocalRecord{second}))

	kps, descs, err := s.Local("a.png")
	require.NoError(t, err)
	assert.Len(t, kps, 2)
	assert.Equal(t, [][]float64{{5, 6}, {7, 8}}, descs)
}

func TestPutLocalMismatch(t *testing.T) {
	s := openTestStore(t)

	err := s.PutLocal([]LocalRecord{{
		Image:       "a.png",
		Keypoints:   []r2.Point{{X: 1, Y: 1}},
		Descriptors: [][]float64{{1}, {2}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 keypoints but 2 descriptors")

	err = s.PutLocal([]LocalRecord{{
		Image:       "b.png",
		Keypoints:   []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Descriptors: [][]float64{{1, 2}, {3}},
	}})
	require.Error(t, err)
}

func TestImages(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutLocal([]LocalRecord{
		{Image: "b.png", Keypoints: []r2.Point{}, Descriptors: [][]float64{}},
	}))
	require.NoError(t, s.PutGlobal([]GlobalRecord{
		{Image: "a.png", Descriptor: []float64{1}},
		{Image: "b.png", Descriptor: []float64{2}},
	}))

	images, err := s.Images()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, images)
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetMeta(map[string]string{
		MetaLocalModel: "d2net",
		MetaLocalDim:   "512",
	}))
	require.NoError(t, s.SetMeta(map[string]string{MetaLocalDim: "256"}))

	kv, err := s.Meta()
	require.NoError(t, err)
	assert.Equal(t, "d2net", kv[MetaLocalModel])
	assert.Equal(t, "256", kv[MetaLocalDim])
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutGlobal([]GlobalRecord{{Image: "q.png", Descriptor: []float64{9}}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	vec, err := s.Global("q.png")
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, vec)
}
