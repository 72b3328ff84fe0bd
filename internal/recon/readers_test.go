package recon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/descloc/descloc/internal/geom"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadIntrinsics(t *testing.T) {
	path := writeFile(t, "intrinsics.txt", `# name model w h params
seq1/frame001.png SIMPLE_RADIAL 1024 768 868.99 512 384 -0.0314

seq1/frame002.png PINHOLE 640 480 525 525 320 240
`)

	cams, order, err := ReadIntrinsics(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"seq1/frame001.png", "seq1/frame002.png"}, order)

	cam := cams["seq1/frame001.png"]
	assert.Equal(t, geom.ModelSimpleRadial, cam.Model)
	assert.Equal(t, 1024, cam.Width)
	assert.Equal(t, []float64{868.99, 512, 384, -0.0314}, cam.Params)
}

func TestReadIntrinsicsRejectsUnknownModel(t *testing.T) {
	path := writeFile(t, "intrinsics.txt", "a.png THIN_PRISM_FISHEYE 640 480 1 2 3\n")
	_, _, err := ReadIntrinsics(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown camera model")
}

func TestReadIntrinsicsRejectsDuplicates(t *testing.T) {
	path := writeFile(t, "intrinsics.txt", `a.png SIMPLE_PINHOLE 640 480 500 320 240
a.png SIMPLE_PINHOLE 640 480 500 320 240
`)
	_, _, err := ReadIntrinsics(path)
	assert.Error(t, err)
}

func TestReadPosesQuaternionForm(t *testing.T) {
	path := writeFile(t, "poses.txt", "img.png 1 0 0 0 0.5 -1.5 2\n")

	poses, err := ReadPoses(path, ConventionWorldToCamera)
	require.NoError(t, err)
	p := poses["img.png"]
	require.NotNil(t, p)
	assert.InDelta(t, 0.5, p.T.X, 1e-12)
	assert.InDelta(t, -1.5, p.T.Y, 1e-12)
	assert.InDelta(t, 1, p.R.At(0, 0), 1e-12)
	assert.InDelta(t, 0, p.R.At(0, 1), 1e-12)
}

func TestReadPosesMatrixForm(t *testing.T) {
	path := writeFile(t, "poses.txt",
		"img.png 1 0 0 7 0 1 0 8 0 0 1 9 0 0 0 1\n")

	poses, err := ReadPoses(path, ConventionWorldToCamera)
	require.NoError(t, err)
	p := poses["img.png"]
	require.NotNil(t, p)
	assert.InDelta(t, 7, p.T.X, 1e-12)
	assert.InDelta(t, 8, p.T.Y, 1e-12)
	assert.InDelta(t, 9, p.T.Z, 1e-12)
}

func TestReadPosesCameraToWorldInverts(t *testing.T) {
	path := writeFile(t, "poses.txt", "img.png 1 0 0 0 1 2 3\n")

	poses, err := ReadPoses(path, ConventionCameraToWorld)
	require.NoError(t, err)
	p := poses["img.png"]
	assert.InDelta(t, -1, p.T.X, 1e-12)
	assert.InDelta(t, -2, p.T.Y, 1e-12)
	assert.InDelta(t, -3, p.T.Z, 1e-12)
}

func TestReadPosesErrors(t *testing.T) {
	short := writeFile(t, "short.txt", "img.png 1 0 0 0\n")
	_, err := ReadPoses(short, ConventionWorldToCamera)
	assert.Error(t, err)

	ok := writeFile(t, "ok.txt", "img.png 1 0 0 0 0 0 0\n")
	_, err = ReadPoses(ok, "left_handed")
	assert.Error(t, err)
}

func TestReadPoints(t *testing.T) {
	path := writeFile(t, "points.txt", `10 1.5 2.5 3.5
42 -1 0 4
`)
	points, err := ReadPoints(path)
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.InDelta(t, 2.5, points[10].Y, 1e-12)
	assert.InDelta(t, 4.0, points[42].Z, 1e-12)
}

func TestReadMatches(t *testing.T) {
	path := writeFile(t, "matches.txt", `a.png 10 100.5 200.5
a.png 11 110 210
b.png 10 50 60
`)
	matches, err := ReadMatches(path)
	require.NoError(t, err)
	require.Len(t, matches["a.png"], 2)
	assert.Equal(t, int64(11), matches["a.png"][1].PointID)
	assert.InDelta(t, 100.5, matches["a.png"][0].Pixel.X, 1e-12)
	require.Len(t, matches["b.png"], 1)
}
