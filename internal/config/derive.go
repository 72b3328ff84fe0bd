package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/fusion"
	"github.com/descloc/descloc/internal/pose"
	"github.com/descloc/descloc/internal/recon"
)

// Source builds the reconstruction reader the dataset section describes.
func (c *Config) Source() (recon.Source, error) {
	trainFilter := recon.Filter{Include: c.Dataset.TrainInclude, Exclude: c.Dataset.TrainExclude}
	queryFilter := recon.Filter{Include: c.Dataset.QueryInclude, Exclude: c.Dataset.QueryExclude}

	switch c.Dataset.Source {
	case SourceColmap:
		return &recon.ColmapSource{
			ModelDir:        c.Dataset.ColmapDir,
			QueryIntrinsics: c.Dataset.QueryIntrinsicsFile,
			QueryPoses:      c.Dataset.QueryPosesFile,
			QueryConvention: c.Dataset.PoseConvention,
			TrainFilter:     trainFilter,
			QueryFilter:     queryFilter,
		}, nil
	case SourcePoseTable:
		return &recon.PoseTableSource{
			PointsPath:      c.Dataset.PointsFile,
			TrainIntrinsics: c.Dataset.TrainIntrinsicsFile,
			TrainPoses:      c.Dataset.TrainPosesFile,
			TrainMatches:    c.Dataset.TrainMatchesFile,
			TrainConvention: c.Dataset.PoseConvention,
			QueryIntrinsics: c.Dataset.QueryIntrinsicsFile,
			QueryPoses:      c.Dataset.QueryPosesFile,
			QueryConvention: c.Dataset.PoseConvention,
			TrainFilter:     trainFilter,
			QueryFilter:     queryFilter,
		}, nil
	}
	// Validate rejects unknown sources before this is reachable.
	panic("unknown dataset source " + c.Dataset.Source)
}

// FusionOptions converts the fusion section.
func (c *Config) FusionOptions() fusion.Options {
	return fusion.Options{
		Lambda:      c.Fusion.Lambda,
		UseGlobal:   c.Fusion.UseGlobal,
		SnapToTrain: c.Fusion.SnapToTrain,
	}
}

// SolverOptions converts the solver section.
func (c *Config) SolverOptions() pose.Options {
	return pose.Options{
		MinCorrespondences: c.Solver.MinCorrespondences,
		MaxReprojError:     c.Solver.MaxReprojError,
		Iterations:         c.Solver.Iterations,
		Confidence:         c.Solver.Confidence,
		Refine:             c.Solver.Refine,
		Seed:               c.Solver.Seed,
	}
}

// Precision returns the parsed codebook precision. Validate has already
// accepted it.
func (c *Config) Precision() codebook.Precision {
	p, err := codebook.ParsePrecision(c.Codebook.Precision)
	if err != nil {
		panic(err)
	}
	return p
}

// Fingerprint derives the invalidation key of the codebook this
// configuration would build. With global fusion off, the global model,
// lambda, and snapping cannot influence the artifact and are
// canonicalized away so equivalent configs share a fingerprint.
func (c *Config) Fingerprint() codebook.Fingerprint {
	fp := codebook.Fingerprint{
		DatasetID:    c.Dataset.ID,
		LocalModel:   c.Features.LocalModel,
		LocalDim:     c.Features.LocalDim,
		MaxPixelDist: c.Codebook.MaxPixelDist,
		Precision:    c.Precision(),
	}
	if c.Fusion.UseGlobal {
		fp.GlobalModel = c.Features.GlobalModel
		fp.GlobalDim = c.Features.GlobalDim
		fp.Lambda = c.Fusion.Lambda
		fp.SnapToTrain = c.Fusion.SnapToTrain
	} else {
		fp.Lambda = 1
	}
	return fp
}

// CodebookPath returns the configured codebook location, or the default
// per-dataset path under the user's home directory.
func (c *Config) CodebookPath() string {
	if c.Codebook.Path != "" {
		return c.Codebook.Path
	}
	name := strings.ReplaceAll(c.Dataset.ID, string(filepath.Separator), "_")
	if name == "" {
		name = "default"
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return name + ".codebook.db"
	}
	return filepath.Join(homeDir, ".descloc", "data", name+".codebook.db")
}
