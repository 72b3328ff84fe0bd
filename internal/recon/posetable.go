package recon

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PoseTableSource reads plain-text tables: a 3D point list, per-image
// intrinsics and poses for the training set, an observation table tying
// training images to point ids, and the query intrinsics/pose tables.
// This covers datasets distributed without a COLMAP model.
type PoseTableSource struct {
	PointsPath      string
	TrainIntrinsics string
	TrainPoses      string
	TrainMatches    string
	TrainConvention string
	QueryIntrinsics string
	QueryPoses      string
	QueryConvention string
	TrainFilter     Filter
	QueryFilter     Filter
}

// Points reads the point table.
func (s *PoseTableSource) Points(ctx context.Context) (map[int64]r3.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadPoints(s.PointsPath)
}

// TrainingRecords joins the intrinsics, pose, and observation tables by
// image name, sorted by name. A training image without a pose is a
// malformed dataset and fails the whole load; an image absent from the
// observation table simply contributes nothing.
func (s *PoseTableSource) TrainingRecords(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cams, order, err := ReadIntrinsics(s.TrainIntrinsics)
	if err != nil {
		return nil, err
	}
	poses, err := ReadPoses(s.TrainPoses, s.TrainConvention)
	if err != nil {
		return nil, err
	}
	matches, err := ReadMatches(s.TrainMatches)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(order))
	for _, name := range order {
		pose, ok := poses[name]
		if !ok {
			return nil, errors.Errorf("training image %s has intrinsics but no pose", name)
		}
		records = append(records, Record{
			Name:   name,
			Camera: cams[name],
			Pose:   pose,
			Points: matches[name],
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return filterRecords(records, s.TrainFilter), nil
}

// QueryRecords reads the query intrinsics table and, when configured, the
// ground-truth pose table.
func (s *PoseTableSource) QueryRecords(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return queryRecords(s.QueryIntrinsics, s.QueryPoses, s.QueryConvention, s.QueryFilter)
}
