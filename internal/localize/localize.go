// Package localize matches a query image's descriptors against the
// codebook and solves for its camera pose. Each keypoint retrieves its
// nearest codebook entry, giving a 2D-3D correspondence; the robust
// solver turns the correspondence set into a world-to-camera pose.
package localize

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/fusion"
	"github.com/descloc/descloc/internal/geom"
	"github.com/descloc/descloc/internal/knn"
	"github.com/descloc/descloc/internal/pose"
	"github.com/descloc/descloc/internal/recon"
)

// Status classifies the outcome for a single query image. Only
// StatusPose carries a pose; the rest are recorded per image and never
// abort a batch.
type Status string

const (
	StatusPose         Status = "pose"
	StatusInsufficient Status = "insufficient"
	StatusFailed       Status = "failed"
	StatusSkipped      Status = "skipped"
)

// Result is the localization outcome for one query image.
type Result struct {
	Name            string
	Status          Status
	Pose            *geom.Pose
	Correspondences int
	Inliers         int
	Err             error
}

// Options bundles the matching and solving configuration.
type Options struct {
	Fusion fusion.Options
	// Dedupe keeps only the lowest-distance keypoint per retrieved point
	// instead of letting several keypoints claim the same 3D point.
	Dedupe bool
	Solver pose.Options
}

// Localizer matches query descriptors against a fixed codebook. Safe for
// concurrent use once constructed.
type Localizer struct {
	index     *knn.Index
	positions []r3.Vector

	globals     [][]float64
	globalIndex *knn.Index

	opts Options
}

// New builds a localizer over a codebook and the 3D positions of its
// points. trainGlobals carries the training images' global descriptors
// and is required only when snap-to-train is enabled.
func New(cb *codebook.Codebook, points map[int64]r3.Vector, trainGlobals [][]float64, opts Options) (*Localizer, error) {
	if cb.Len() == 0 {
		return nil, errors.New("codebook is empty")
	}
	index, err := knn.FromVectors(cb.Vectors)
	if err != nil {
		return nil, errors.Wrap(err, "index codebook")
	}

	positions := make([]r3.Vector, cb.Len())
	for i, id := range cb.IDs {
		p, ok := points[id]
		if !ok {
			return nil, errors.Errorf("codebook point %d has no 3D position in the reconstruction", id)
		}
		positions[i] = p
	}

	l := &Localizer{index: index, positions: positions, opts: opts}
	if opts.Fusion.UseGlobal && opts.Fusion.SnapToTrain {
		if len(trainGlobals) == 0 {
			return nil, errors.New("snap to train enabled but no training global descriptors supplied")
		}
		l.globals = trainGlobals
		l.globalIndex, err = knn.FromVectors(trainGlobals)
		if err != nil {
			return nil, errors.Wrap(err, "index training global descriptors")
		}
	}
	return l, nil
}

// NeedsGlobal reports whether Localize will consult the query's global
// descriptor, so batch drivers can skip loading it otherwise.
func (l *Localizer) NeedsGlobal() bool { return l.opts.Fusion.UseGlobal }

// Localize computes the pose of one query image from its detected
// keypoints, their local descriptors, and (when fusion uses it) the
// image's global descriptor. All failure modes come back as a Result
// status, never as a panic or batch abort.
func (l *Localizer) Localize(rec recon.Record, kps []r2.Point, descs [][]float64, global []float64) Result {
	res := Result{Name: rec.Name}

	fused := descs
	if l.opts.Fusion.UseGlobal {
		g := global
		if l.opts.Fusion.SnapToTrain {
			snapped, err := l.snapGlobal(g)
			if err != nil {
				res.Status = StatusFailed
				res.Err = err
				return res
			}
			g = snapped
		}
		var err error
		fused, err = fusion.FuseAll(descs, g, l.opts.Fusion.Lambda)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
	}

	pixels, worlds, err := l.matchCorrespondences(kps, fused)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Correspondences = len(pixels)

	est, err := pose.Estimate(pixels, worlds, rec.Camera, l.opts.Solver)
	switch {
	case errors.Is(err, pose.ErrInsufficientCorrespondences):
		res.Status = StatusInsufficient
		res.Err = err
	case err != nil:
		res.Status = StatusFailed
		res.Err = err
	default:
		res.Status = StatusPose
		res.Pose = est.Pose
		res.Inliers = est.NumInliers
	}
	return res
}

// snapGlobal replaces a query global descriptor with its nearest
// training-image global descriptor.
func (l *Localizer) snapGlobal(global []float64) ([]float64, error) {
	if len(global) == 0 {
		return nil, errors.New("snap to train requires a query global descriptor")
	}
	hits, err := l.globalIndex.Search([][]float64{global}, 1)
	if err != nil {
		return nil, errors.Wrap(err, "snap global descriptor")
	}
	return l.globals[hits[0][0].Index], nil
}

// matchCorrespondences retrieves each keypoint's nearest codebook entry
// and pairs the keypoint pixel with the entry's 3D position. With Dedupe
// enabled, a point claimed by several keypoints keeps only the closest
// one (first wins on exact ties).
func (l *Localizer) matchCorrespondences(kps []r2.Point, fused [][]float64) ([]r2.Point, []r3.Vector, error) {
	if len(kps) != len(fused) {
		return nil, nil, errors.Errorf("got %d keypoints but %d descriptors", len(kps), len(fused))
	}
	if len(kps) == 0 {
		return nil, nil, nil
	}
	hits, err := l.index.Search(fused, 1)
	if err != nil {
		return nil, nil, errors.Wrap(err, "search codebook")
	}

	keep := func(int) bool { return true }
	if l.opts.Dedupe {
		winner := map[int]int{}
		for i, h := range hits {
			entry := h[0].Index
			if w, ok := winner[entry]; !ok || h[0].Dist < hits[w][0].Dist {
				winner[entry] = i
			}
		}
		keep = func(i int) bool { return winner[hits[i][0].Index] == i }
	}

	var (
		pixels []r2.Point
		worlds []r3.Vector
	)
	for i := range kps {
		if !keep(i) {
			continue
		}
		pixels = append(pixels, kps[i])
		worlds = append(worlds, l.positions[hits[i][0].Index])
	}
	return pixels, worlds, nil
}
