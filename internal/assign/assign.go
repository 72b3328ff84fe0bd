// Package assign associates the observed 2D locations of reconstructed 3D
// points with detected keypoints in the same image. A point adopts the
// descriptor of its nearest keypoint when that keypoint lies strictly
// within the pixel threshold.
package assign

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Correspondence ties a 3D point to the detected keypoint that observes it.
type Correspondence struct {
	KeypointIndex int
	PointID       int64
	Pixel         r2.Point
}

// Assign matches every projected point location against the nearest
// detected keypoint. A match is kept only when the distance is strictly
// below maxPixelDist. Each keypoint is assigned at most once; when several
// projections hit the same keypoint the earliest projection wins.
func Assign(projections []r2.Point, pointIDs []int64, keypoints []r2.Point, maxPixelDist float64) ([]Correspondence, error) {
	if len(projections) != len(pointIDs) {
		return nil, errors.Errorf("got %d projections for %d point ids", len(projections), len(pointIDs))
	}
	if len(projections) == 0 || len(keypoints) == 0 {
		return nil, nil
	}

	pts := make(indexedPoints, len(keypoints))
	for i, kp := range keypoints {
		pts[i] = indexedPoint{x: kp.X, y: kp.Y, idx: i}
	}
	tree := kdtree.New(pts, false)

	maxSq := maxPixelDist * maxPixelDist
	seen := make(map[int]struct{}, len(projections))
	var out []Correspondence
	for i, proj := range projections {
		got, distSq := tree.Nearest(indexedPoint{x: proj.X, y: proj.Y, idx: -1})
		if got == nil || distSq >= maxSq {
			continue
		}
		kp := got.(indexedPoint)
		if _, dup := seen[kp.idx]; dup {
			continue
		}
		seen[kp.idx] = struct{}{}
		out = append(out, Correspondence{
			KeypointIndex: kp.idx,
			PointID:       pointIDs[i],
			Pixel:         keypoints[kp.idx],
		})
	}
	return out, nil
}
