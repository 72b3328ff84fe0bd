package internal

import (
	"fmt"
	"os"

	"github.com/descloc/descloc/internal/config"
)

// LoadConfig reads the config from the given path, or from the default
// location when the path is empty.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// PrintConfigExample writes a minimal config sketch to stderr, for the
// error path when no config file exists yet.
func PrintConfigExample() {
	fmt.Fprintf(os.Stderr, `Create a configuration file at %s:

# Reconstruction to build the codebook from
dataset:
  source: colmap
  colmap_dir: ~/datasets/chess/sparse
  query_intrinsics_file: ~/datasets/chess/query_intrinsics.txt
  query_poses_file: ~/datasets/chess/query_poses.txt

# Extracted image features (written by the extraction tooling)
features:
  path: ~/datasets/chess/features.db
  local_model: r2d2
  local_dim: 128

Usage:
  1. Run 'descloc init' to write a full commented template
  2. Edit the dataset and feature paths
  3. Build the codebook:  descloc build
  4. Localize queries:    descloc localize
  5. Evaluate accuracy:   descloc eval
`, config.DefaultPath())
}
