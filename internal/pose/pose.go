// Package pose estimates a camera's world-to-camera pose from 2D-3D
// correspondences: a minimal P3P solver inside a seeded RANSAC loop,
// followed by non-linear reprojection refinement over the inliers.
package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/descloc/descloc/internal/geom"
)

// Per-image conditions the caller records rather than aborts on.
var (
	ErrInsufficientCorrespondences = errors.New("not enough 2D-3D correspondences")
	ErrNoPose                      = errors.New("no pose satisfied the inlier threshold")
)

// Options controls the solver. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// MinCorrespondences is both the input minimum and the inlier count a
	// candidate must reach. Values below 3 are raised to 3, the P3P
	// minimum.
	MinCorrespondences int
	// MaxReprojError is the inlier threshold in pixels (strict less-than).
	MaxReprojError float64
	// Iterations caps the RANSAC loop; the adaptive confidence criterion
	// can stop it earlier.
	Iterations int
	// Confidence is the target probability of sampling one all-inlier
	// minimal set. Outside (0, 1) the loop always runs Iterations times.
	Confidence float64
	// Refine toggles the Levenberg-Marquardt polish over the inliers.
	Refine bool
	// Seed makes the sampler deterministic.
	Seed int64
}

// DefaultOptions returns the solver configuration used when the config
// file does not override it.
func DefaultOptions() Options {
	return Options{
		MinCorrespondences: 4,
		MaxReprojError:     12,
		Iterations:         1024,
		Confidence:         0.9999,
		Refine:             true,
	}
}

// Result is an accepted pose. Inliers is aligned with the input
// correspondence order.
type Result struct {
	Pose       *geom.Pose
	Inliers    []bool
	NumInliers int
}

// Estimate computes the world-to-camera pose from matched pixel
// locations and 3D points. Returns ErrInsufficientCorrespondences when
// too few matches exist and ErrNoPose when no candidate explains enough
// of them.
func Estimate(pixels []r2.Point, worlds []r3.Vector, cam geom.Camera, opts Options) (Result, error) {
	if len(pixels) != len(worlds) {
		return Result{}, errors.Errorf("got %d pixels but %d world points", len(pixels), len(worlds))
	}
	minCorr := opts.MinCorrespondences
	if minCorr < 3 {
		minCorr = 3
	}
	if len(pixels) < minCorr {
		return Result{}, errors.Wrapf(ErrInsufficientCorrespondences, "have %d, need %d", len(pixels), minCorr)
	}

	best := ransac(pixels, worlds, cam, opts)
	if best.pose == nil || best.count < minCorr {
		return Result{}, errors.Wrapf(ErrNoPose, "best candidate explains %d of %d correspondences, need %d", best.count, len(pixels), minCorr)
	}

	if opts.Refine {
		if refined := refineInliers(best, pixels, worlds, cam, opts.MaxReprojError); refined.count >= best.count {
			best = refined
		}
	}

	return Result{Pose: best.pose, Inliers: best.inliers, NumInliers: best.count}, nil
}
