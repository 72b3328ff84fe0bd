// Package config loads the YAML run configuration: where the
// reconstruction and features live, how descriptors are fused, and the
// solver and evaluation settings. Defaults are filled in first, so a
// config file only needs the keys it changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/recon"
)

// Dataset source kinds.
const (
	SourceColmap    = "colmap"
	SourcePoseTable = "posetable"
)

// Config holds one run's configuration.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Features FeaturesConfig `yaml:"features"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Codebook CodebookConfig `yaml:"codebook"`
	Solver   SolverConfig   `yaml:"solver"`
	Eval     EvalConfig     `yaml:"eval"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// DatasetConfig points at the reconstruction and selects which images
// participate.
type DatasetConfig struct {
	// Source is "colmap" (text model directory) or "posetable" (plain
	// text tables).
	Source string `yaml:"source"`
	// ID names the dataset inside artifacts; derived from the input
	// path when empty.
	ID string `yaml:"id,omitempty"`

	// COLMAP source.
	ColmapDir string `yaml:"colmap_dir,omitempty"`

	// Pose-table source.
	PointsFile          string `yaml:"points_file,omitempty"`
	TrainIntrinsicsFile string `yaml:"train_intrinsics_file,omitempty"`
	TrainPosesFile      string `yaml:"train_poses_file,omitempty"`
	TrainMatchesFile    string `yaml:"train_matches_file,omitempty"`
	// PoseConvention states what the pose files store: "w2c" or "c2w".
	PoseConvention string `yaml:"pose_convention,omitempty"`

	// Query side, shared by both sources. Query poses are optional and
	// only needed for evaluation.
	QueryIntrinsicsFile string `yaml:"query_intrinsics_file,omitempty"`
	QueryPosesFile      string `yaml:"query_poses_file,omitempty"`

	// Doublestar globs over image names, applied after loading.
	TrainInclude []string `yaml:"train_include,omitempty"`
	TrainExclude []string `yaml:"train_exclude,omitempty"`
	QueryInclude []string `yaml:"query_include,omitempty"`
	QueryExclude []string `yaml:"query_exclude,omitempty"`

	// Radius outlier removal over the 3D point table; radius 0 disables.
	OutlierRadius       float64 `yaml:"outlier_radius,omitempty"`
	OutlierMinNeighbors int     `yaml:"outlier_min_neighbors,omitempty"`
}

// FeaturesConfig locates the extracted descriptors.
type FeaturesConfig struct {
	// Path to the SQLite feature store.
	Path string `yaml:"path"`
	// Model names, recorded in the codebook fingerprint.
	LocalModel  string `yaml:"local_model,omitempty"`
	GlobalModel string `yaml:"global_model,omitempty"`
	// Descriptor dimensions. LocalDim is required; GlobalDim 0 skips
	// the cross-check against the store.
	LocalDim  int `yaml:"local_dim"`
	GlobalDim int `yaml:"global_dim,omitempty"`
}

// FusionConfig controls the local/global descriptor blend.
type FusionConfig struct {
	Lambda       float64 `yaml:"lambda"`
	UseGlobal    bool    `yaml:"use_global"`
	SnapToTrain  bool    `yaml:"snap_to_train"`
	DedupePoints bool    `yaml:"dedupe_points"`
}

// CodebookConfig controls the built artifact.
type CodebookConfig struct {
	// Path of the codebook file; derived from the dataset id when empty.
	Path string `yaml:"path,omitempty"`
	// Precision of the stored mean descriptors: "float32" or "float64".
	Precision string `yaml:"precision"`
	// MaxPixelDist is the assignment radius between an observation and
	// a detected keypoint, in pixels.
	MaxPixelDist float64 `yaml:"max_pixel_dist"`
}

// SolverConfig parametrizes robust pose estimation.
type SolverConfig struct {
	MinCorrespondences int     `yaml:"min_correspondences"`
	MaxReprojError     float64 `yaml:"max_reproj_error"`
	Iterations         int     `yaml:"iterations"`
	Confidence         float64 `yaml:"confidence"`
	Refine             bool    `yaml:"refine"`
	Seed               int64   `yaml:"seed"`
}

// EvalConfig sets the success thresholds and report outputs.
type EvalConfig struct {
	MaxTranslationError float64 `yaml:"max_translation_error"`
	MaxRotationError    float64 `yaml:"max_rotation_error"`
	Output              string  `yaml:"output,omitempty"`
	ErrorsOutput        string  `yaml:"errors_output,omitempty"`
}

// RuntimeConfig holds execution knobs.
type RuntimeConfig struct {
	Workers  int  `yaml:"workers"`
	Progress bool `yaml:"progress"`
}

// Default returns the built-in configuration. Loading unmarshals the
// file over it, so absent keys keep these values.
func Default() Config {
	return Config{
		Dataset: DatasetConfig{
			Source:         SourceColmap,
			PoseConvention: recon.ConventionWorldToCamera,
		},
		Fusion: FusionConfig{
			Lambda: 0.5,
		},
		Codebook: CodebookConfig{
			Precision:    string(codebook.Float32),
			MaxPixelDist: 5,
		},
		Solver: SolverConfig{
			MinCorrespondences: 4,
			MaxReprojError:     12,
			Iterations:         1024,
			Confidence:         0.9999,
			Refine:             true,
		},
		Eval: EvalConfig{
			MaxTranslationError: 0.05,
			MaxRotationError:    5,
		},
		Runtime: RuntimeConfig{
			Workers:  runtime.NumCPU(),
			Progress: true,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "descloc.yaml"
	}
	return filepath.Join(homeDir, ".descloc", "config", "descloc.yaml")
}

// Load reads the config file from the default location.
func Load() (*Config, error) {
	return LoadFromFile(DefaultPath())
}

// LoadFromFile reads, defaults, and validates one config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   DefaultPath(),
			}
		}
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// ConfigNotFoundError is returned when the config file does not exist.
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Run 'descloc init' to create a template config\n"+
		"  2. Specify a custom path with -config flag",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks whether err is a missing-config error.
func IsConfigNotFound(err error) bool {
	var notFound *ConfigNotFoundError
	return errors.As(err, &notFound)
}

// expandPath expands a leading ~ or $HOME to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// applyDefaults normalizes paths and derives values that depend on other
// fields.
func (c *Config) applyDefaults() {
	for _, p := range []*string{
		&c.Dataset.ColmapDir,
		&c.Dataset.PointsFile,
		&c.Dataset.TrainIntrinsicsFile,
		&c.Dataset.TrainPosesFile,
		&c.Dataset.TrainMatchesFile,
		&c.Dataset.QueryIntrinsicsFile,
		&c.Dataset.QueryPosesFile,
		&c.Features.Path,
		&c.Codebook.Path,
		&c.Eval.Output,
		&c.Eval.ErrorsOutput,
	} {
		if *p != "" {
			*p = expandPath(*p)
		}
	}

	if c.Dataset.ID == "" {
		switch c.Dataset.Source {
		case SourcePoseTable:
			if c.Dataset.PointsFile != "" {
				c.Dataset.ID = filepath.Base(filepath.Dir(c.Dataset.PointsFile))
			}
		default:
			if c.Dataset.ColmapDir != "" {
				c.Dataset.ID = filepath.Base(filepath.Clean(c.Dataset.ColmapDir))
			}
		}
	}

	if c.Runtime.Workers <= 0 {
		c.Runtime.Workers = runtime.NumCPU()
	}
}

// Validate rejects configurations that would fail mid-run. Setup
// mismatches are fatal before any work starts.
func (c *Config) Validate() error {
	switch c.Dataset.Source {
	case SourceColmap:
		if c.Dataset.ColmapDir == "" {
			return errors.New("dataset.colmap_dir is required for a colmap source")
		}
	case SourcePoseTable:
		required := []struct{ name, value string }{
			{"dataset.points_file", c.Dataset.PointsFile},
			{"dataset.train_intrinsics_file", c.Dataset.TrainIntrinsicsFile},
			{"dataset.train_poses_file", c.Dataset.TrainPosesFile},
			{"dataset.train_matches_file", c.Dataset.TrainMatchesFile},
		}
		for _, req := range required {
			if req.value == "" {
				return errors.Errorf("%s is required for a posetable source", req.name)
			}
		}
	default:
		return errors.Errorf("unsupported dataset source: %q", c.Dataset.Source)
	}

	if c.Dataset.PoseConvention != recon.ConventionWorldToCamera &&
		c.Dataset.PoseConvention != recon.ConventionCameraToWorld {
		return errors.Errorf("unknown pose convention %q", c.Dataset.PoseConvention)
	}

	trainFilter := recon.Filter{Include: c.Dataset.TrainInclude, Exclude: c.Dataset.TrainExclude}
	if err := trainFilter.Validate(); err != nil {
		return errors.Wrap(err, "train image filter")
	}
	queryFilter := recon.Filter{Include: c.Dataset.QueryInclude, Exclude: c.Dataset.QueryExclude}
	if err := queryFilter.Validate(); err != nil {
		return errors.Wrap(err, "query image filter")
	}

	if c.Dataset.OutlierRadius < 0 {
		return errors.Errorf("dataset.outlier_radius must not be negative, got %g", c.Dataset.OutlierRadius)
	}
	if c.Dataset.OutlierMinNeighbors < 0 {
		return errors.Errorf("dataset.outlier_min_neighbors must not be negative, got %d", c.Dataset.OutlierMinNeighbors)
	}

	if c.Features.Path == "" {
		return errors.New("features.path is required")
	}
	if c.Features.LocalDim <= 0 {
		return errors.Errorf("features.local_dim must be positive, got %d", c.Features.LocalDim)
	}
	if c.Features.GlobalDim < 0 {
		return errors.Errorf("features.global_dim must not be negative, got %d", c.Features.GlobalDim)
	}
	if c.Fusion.UseGlobal && c.Features.GlobalDim > 0 && c.Features.GlobalDim < c.Features.LocalDim {
		return errors.Errorf("features.global_dim %d is shorter than local_dim %d; fusion truncates the global descriptor, it cannot pad it",
			c.Features.GlobalDim, c.Features.LocalDim)
	}

	if c.Fusion.Lambda < 0 || c.Fusion.Lambda > 1 {
		return errors.Errorf("fusion.lambda must lie in [0,1], got %g", c.Fusion.Lambda)
	}
	if c.Fusion.SnapToTrain && !c.Fusion.UseGlobal {
		return errors.New("fusion.snap_to_train requires fusion.use_global")
	}

	if _, err := codebook.ParsePrecision(c.Codebook.Precision); err != nil {
		return err
	}
	if c.Codebook.MaxPixelDist <= 0 {
		return errors.Errorf("codebook.max_pixel_dist must be positive, got %g", c.Codebook.MaxPixelDist)
	}

	if c.Solver.MinCorrespondences < 3 {
		return errors.Errorf("solver.min_correspondences must be at least 3, got %d", c.Solver.MinCorrespondences)
	}
	if c.Solver.MaxReprojError <= 0 {
		return errors.Errorf("solver.max_reproj_error must be positive, got %g", c.Solver.MaxReprojError)
	}
	if c.Solver.Iterations < 1 {
		return errors.Errorf("solver.iterations must be at least 1, got %d", c.Solver.Iterations)
	}
	if c.Solver.Confidence <= 0 || c.Solver.Confidence >= 1 {
		return errors.Errorf("solver.confidence must lie in (0,1), got %g", c.Solver.Confidence)
	}

	if c.Eval.MaxTranslationError <= 0 {
		return errors.Errorf("eval.max_translation_error must be positive, got %g", c.Eval.MaxTranslationError)
	}
	if c.Eval.MaxRotationError <= 0 {
		return errors.Errorf("eval.max_rotation_error must be positive, got %g", c.Eval.MaxRotationError)
	}

	return nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

const defaultConfigTemplate = `# descloc configuration
#
# Copy and edit this file for your dataset.
# Default location: $HOME/.descloc/config/descloc.yaml

dataset:
  # Source: "colmap" (text model directory) or "posetable" (text tables)
  source: colmap
  colmap_dir: ~/datasets/scene/sparse-txt
  query_intrinsics_file: ~/datasets/scene/query_intrinsics.txt
  # Ground-truth query poses enable the eval command
  # query_poses_file: ~/datasets/scene/query_gt.txt
  # pose_convention: w2c

  # posetable source instead:
  # source: posetable
  # points_file: ~/datasets/scene/points3D.txt
  # train_intrinsics_file: ~/datasets/scene/train_intrinsics.txt
  # train_poses_file: ~/datasets/scene/train_poses.txt
  # train_matches_file: ~/datasets/scene/train_matches.txt

  # Image selection (doublestar globs on image names)
  # train_include: ["seq1/**"]
  # query_exclude: ["**/overcast/**"]

  # Radius outlier removal over the 3D points (0 disables)
  # outlier_radius: 0.3
  # outlier_min_neighbors: 10

features:
  path: ~/datasets/scene/features.db
  local_model: r2d2
  global_model: netvlad
  local_dim: 128
  global_dim: 4096

fusion:
  lambda: 0.5
  use_global: true
  snap_to_train: false
  dedupe_points: false

codebook:
  # path: ~/.descloc/data/scene.codebook.db
  precision: float32
  max_pixel_dist: 5

solver:
  min_correspondences: 4
  max_reproj_error: 12
  iterations: 1024
  confidence: 0.9999
  refine: true
  seed: 0

eval:
  max_translation_error: 0.05
  max_rotation_error: 5
  # output: ~/results/scene_poses.txt
  # errors_output: ~/results/scene_errors.txt

runtime:
  # workers: 8
  progress: true
`

// WriteDefaultTemplate creates a commented template config if none
// exists. It returns true when a file was created.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, errors.New("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrap(err, "stat config file")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, errors.Wrap(err, "create config directory")
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, errors.Wrap(err, "write config template")
	}
	return true, nil
}
