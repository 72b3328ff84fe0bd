// Package recon loads sparse reconstruction data: 3D points, camera
// intrinsics, image poses, and the observed 2D locations of points in
// training images. Sources normalize different on-disk layouts into one
// record shape consumed by the build and localization pipelines.
package recon

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/descloc/descloc/internal/geom"
)

// Observation is one 3D point seen in one image, at its observed pixel
// location.
type Observation struct {
	PointID int64
	Pixel   r2.Point
}

// Record describes one image. Training records carry the ground-truth
// pose and the observation list; query records carry a pose only when
// ground truth is available for evaluation, and never carry observations.
type Record struct {
	Name   string
	Camera geom.Camera
	Pose   *geom.Pose
	Points []Observation
}

// Source supplies the reconstruction for codebook building and the query
// set for localization.
type Source interface {
	Points(ctx context.Context) (map[int64]r3.Vector, error)
	TrainingRecords(ctx context.Context) ([]Record, error)
	QueryRecords(ctx context.Context) ([]Record, error)
}
