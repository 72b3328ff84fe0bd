package recon

import (
	"github.com/pkg/errors"

	"github.com/descloc/descloc/internal/geom"
)

// queryRecords assembles query-side records from an intrinsics table and
// an optional ground-truth pose table, keeping the intrinsics file order.
func queryRecords(intrinsicsPath, posesPath, convention string, f Filter) ([]Record, error) {
	if intrinsicsPath == "" {
		return nil, errors.New("query intrinsics path is not configured")
	}
	cams, order, err := ReadIntrinsics(intrinsicsPath)
	if err != nil {
		return nil, err
	}

	var poses map[string]*geom.Pose
	if posesPath != "" {
		poses, err = ReadPoses(posesPath, convention)
		if err != nil {
			return nil, err
		}
	}

	records := make([]Record, 0, len(order))
	for _, name := range order {
		rec := Record{Name: name, Camera: cams[name]}
		if poses != nil {
			rec.Pose = poses[name]
		}
		records = append(records, rec)
	}
	return filterRecords(records, f), nil
}
