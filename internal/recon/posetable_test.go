package recon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePoseTables(t *testing.T) *PoseTableSource {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}
	return &PoseTableSource{
		PointsPath: write("points.txt", "1 0 0 5\n2 1 0 5\n"),
		TrainIntrinsics: write("train_intrinsics.txt",
			"b.png SIMPLE_PINHOLE 640 480 500 320 240\na.png SIMPLE_PINHOLE 640 480 500 320 240\n"),
		TrainPoses: write("train_poses.txt",
			"a.png 1 0 0 0 0 0 0\nb.png 1 0 0 0 0 0 1\n"),
		TrainMatches: write("matches.txt",
			"a.png 1 320 240\na.png 2 420 240\nb.png 1 320 240\n"),
		TrainConvention: ConventionWorldToCamera,
		QueryIntrinsics: write("query_intrinsics.txt",
			"q.png SIMPLE_PINHOLE 640 480 500 320 240\n"),
		QueryPoses:      write("query_poses.txt", "q.png 1 0 0 0 0 0 2\n"),
		QueryConvention: ConventionWorldToCamera,
	}
}

func TestPoseTableSource(t *testing.T) {
	src := writePoseTables(t)
	ctx := context.Background()

	points, err := src.Points(ctx)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	train, err := src.TrainingRecords(ctx)
	require.NoError(t, err)
	require.Len(t, train, 2)
	assert.Equal(t, "a.png", train[0].Name)
	assert.Len(t, train[0].Points, 2)
	assert.Len(t, train[1].Points, 1)
	require.NotNil(t, train[1].Pose)
	assert.InDelta(t, 1, train[1].Pose.T.Z, 1e-12)

	queries, err := src.QueryRecords(ctx)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	require.NotNil(t, queries[0].Pose)
	assert.InDelta(t, 2, queries[0].Pose.T.Z, 1e-12)
}

func TestPoseTableMissingPose(t *testing.T) {
	src := writePoseTables(t)
	require.NoError(t, os.WriteFile(src.TrainPoses, []byte("a.png 1 0 0 0 0 0 0\n"), 0644))

	_, err := src.TrainingRecords(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pose")
}

func TestPoseTableImageWithoutMatches(t *testing.T) {
	src := writePoseTables(t)
	require.NoError(t, os.WriteFile(src.TrainMatches, []byte("a.png 1 320 240\n"), 0644))

	train, err := src.TrainingRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, train, 2)
	assert.Empty(t, train[1].Points, "image without observations still loads")
}
