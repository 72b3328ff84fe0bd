package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/recon"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "descloc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalConfig = `
dataset:
  source: colmap
  colmap_dir: /data/chess/sparse
  query_intrinsics_file: /data/chess/query_intrinsics.txt
features:
  path: /data/chess/features.db
  local_dim: 128
`

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, SourceColmap, cfg.Dataset.Source)
	assert.Equal(t, "sparse", cfg.Dataset.ID)
	assert.Equal(t, recon.ConventionWorldToCamera, cfg.Dataset.PoseConvention)
	assert.Equal(t, 0.5, cfg.Fusion.Lambda)
	assert.False(t, cfg.Fusion.UseGlobal)
	assert.Equal(t, string(codebook.Float32), cfg.Codebook.Precision)
	assert.Equal(t, 5.0, cfg.Codebook.MaxPixelDist)
	assert.Equal(t, 4, cfg.Solver.MinCorrespondences)
	assert.Equal(t, 12.0, cfg.Solver.MaxReprojError)
	assert.Equal(t, 1024, cfg.Solver.Iterations)
	assert.True(t, cfg.Solver.Refine)
	assert.Equal(t, 0.05, cfg.Eval.MaxTranslationError)
	assert.Equal(t, 5.0, cfg.Eval.MaxRotationError)
	assert.Equal(t, runtime.NumCPU(), cfg.Runtime.Workers)
	assert.True(t, cfg.Runtime.Progress)
}

func TestLoadExplicitValuesBeatDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
fusion:
  lambda: 0
  use_global: true
solver:
  refine: false
  seed: 7
runtime:
  progress: false
`))
	require.NoError(t, err)

	// Explicit zeros and falses must survive the defaulting pass.
	assert.Equal(t, 0.0, cfg.Fusion.Lambda)
	assert.True(t, cfg.Fusion.UseGlobal)
	assert.False(t, cfg.Solver.Refine)
	assert.Equal(t, int64(7), cfg.Solver.Seed)
	assert.False(t, cfg.Runtime.Progress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, IsConfigNotFound(err))

	var notFound *ConfigNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Error(), "absent.yaml")
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadFromFile(writeConfig(t, `
dataset:
  source: colmap
  colmap_dir: ~/data/sparse
features:
  path: $HOME/data/features.db
  local_dim: 64
`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "sparse"), cfg.Dataset.ColmapDir)
	assert.Equal(t, filepath.Join(home, "data", "features.db"), cfg.Features.Path)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown source",
			body: "dataset:\n  source: nvm\nfeatures:\n  path: /f.db\n  local_dim: 8\n",
			want: "unsupported dataset source",
		},
		{
			name: "colmap without dir",
			body: "dataset:\n  source: colmap\nfeatures:\n  path: /f.db\n  local_dim: 8\n",
			want: "colmap_dir is required",
		},
		{
			name: "posetable without matches",
			body: "dataset:\n  source: posetable\n  points_file: /p.txt\n  train_intrinsics_file: /i.txt\n  train_poses_file: /t.txt\nfeatures:\n  path: /f.db\n  local_dim: 8\n",
			want: "train_matches_file is required",
		},
		{
			name: "bad convention",
			body: "dataset:\n  source: colmap\n  colmap_dir: /d\n  pose_convention: column_major\nfeatures:\n  path: /f.db\n  local_dim: 8\n",
			want: "pose convention",
		},
		{
			name: "bad glob",
			body: "dataset:\n  source: colmap\n  colmap_dir: /d\n  train_include: [\"seq[/x\"]\nfeatures:\n  path: /f.db\n  local_dim: 8\n",
			want: "train image filter",
		},
		{
			name: "lambda out of range",
			body: minimalConfig + "fusion:\n  lambda: 1.5\n",
			want: "lambda",
		},
		{
			name: "snap without global",
			body: minimalConfig + "fusion:\n  snap_to_train: true\n",
			want: "snap_to_train requires",
		},
		{
			name: "global fusion without global dim",
			body: minimalConfig + "fusion:\n  use_global: true\n  lambda: 0.5\n",
			want: "",
		},
		{
			name: "missing local dim",
			body: "dataset:\n  source: colmap\n  colmap_dir: /d\nfeatures:\n  path: /f.db\n",
			want: "local_dim must be positive",
		},
		{
			name: "bad precision",
			body: minimalConfig + "codebook:\n  precision: float16\n",
			want: "precision",
		},
		{
			name: "min correspondences below p3p",
			body: minimalConfig + "solver:\n  min_correspondences: 2\n",
			want: "at least 3",
		},
		{
			name: "confidence at one",
			body: minimalConfig + "solver:\n  confidence: 1\n",
			want: "confidence",
		},
		{
			name: "zero eval threshold",
			body: minimalConfig + "eval:\n  max_rotation_error: 0\n",
			want: "max_rotation_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tc.body))
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateGlobalDimShorterThanLocal(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
dataset:
  source: colmap
  colmap_dir: /d
features:
  path: /f.db
  local_dim: 128
  global_dim: 64
fusion:
  use_global: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than local_dim")
}

func TestSourceConstruction(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
dataset:
  source: posetable
  points_file: /d/points.txt
  train_intrinsics_file: /d/train_i.txt
  train_poses_file: /d/train_p.txt
  train_matches_file: /d/train_m.txt
  query_intrinsics_file: /d/query_i.txt
  pose_convention: c2w
  train_include: ["seq1/**"]
features:
  path: /d/features.db
  local_dim: 32
`))
	require.NoError(t, err)

	src, err := cfg.Source()
	require.NoError(t, err)
	table, ok := src.(*recon.PoseTableSource)
	require.True(t, ok)
	assert.Equal(t, "/d/points.txt", table.PointsPath)
	assert.Equal(t, recon.ConventionCameraToWorld, table.TrainConvention)
	assert.Equal(t, []string{"seq1/**"}, table.TrainFilter.Include)

	cfg2, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	src2, err := cfg2.Source()
	require.NoError(t, err)
	colmap, ok := src2.(*recon.ColmapSource)
	require.True(t, ok)
	assert.Equal(t, "/data/chess/sparse", colmap.ModelDir)
	assert.Equal(t, "/data/chess/query_intrinsics.txt", colmap.QueryIntrinsics)
}

func TestFingerprintCanonicalization(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
dataset:
  source: colmap
  colmap_dir: /data/chess/sparse
features:
  path: /data/chess/features.db
  local_model: r2d2
  global_model: netvlad
  local_dim: 128
  global_dim: 4096
`))
	require.NoError(t, err)

	// Fusion off: global settings cannot reach the artifact.
	fp := cfg.Fingerprint()
	assert.Equal(t, "sparse", fp.DatasetID)
	assert.Equal(t, "r2d2", fp.LocalModel)
	assert.Empty(t, fp.GlobalModel)
	assert.Zero(t, fp.GlobalDim)
	assert.Equal(t, 1.0, fp.Lambda)
	assert.False(t, fp.SnapToTrain)
	assert.Equal(t, 5.0, fp.MaxPixelDist)
	assert.Equal(t, codebook.Float32, fp.Precision)

	cfg.Fusion.UseGlobal = true
	cfg.Fusion.SnapToTrain = true
	fp = cfg.Fingerprint()
	assert.Equal(t, "netvlad", fp.GlobalModel)
	assert.Equal(t, 4096, fp.GlobalDim)
	assert.Equal(t, 0.5, fp.Lambda)
	assert.True(t, fp.SnapToTrain)
}

func TestCodebookPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".descloc", "data", "sparse.codebook.db"), cfg.CodebookPath())

	cfg.Codebook.Path = "/tmp/cb.db"
	assert.Equal(t, "/tmp/cb.db", cfg.CodebookPath())
}

func TestWriteDefaultTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "descloc.yaml")

	created, err := WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.False(t, created)

	// The template must load and validate as-is.
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "r2d2", cfg.Features.LocalModel)
	assert.True(t, cfg.Fusion.UseGlobal)
}
