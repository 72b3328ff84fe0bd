package recon

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/sirupsen/logrus"
)

// filteredSource wraps a Source and applies the outlier filter to its
// point cloud, dropping the affected observations from the training
// records. Build and localize must agree on the surviving points, so
// both wrap their source the same way.
type filteredSource struct {
	Source
	radius       float64
	minNeighbors int
	log          logrus.FieldLogger

	once   sync.Once
	points map[int64]r3.Vector
	err    error
}

// WithOutlierFilter returns a Source whose point cloud has isolated
// points removed. A radius of zero or a neighbor count under two
// disables the filter and returns src unchanged.
func WithOutlierFilter(src Source, radius float64, minNeighbors int, log logrus.FieldLogger) Source {
	if radius <= 0 || minNeighbors <= 1 {
		return src
	}
	return &filteredSource{Source: src, radius: radius, minNeighbors: minNeighbors, log: log}
}

// Points loads the underlying cloud once and memoizes the filtered
// result, so training records and the localizer see the same set.
func (s *filteredSource) Points(ctx context.Context) (map[int64]r3.Vector, error) {
	s.once.Do(func() {
		raw, err := s.Source.Points(ctx)
		if err != nil {
			s.err = err
			return
		}
		kept, removed := FilterOutliers(raw, s.radius, s.minNeighbors)
		s.points = kept
		if s.log != nil && removed > 0 {
			s.log.WithFields(logrus.Fields{
				"removed": removed,
				"kept":    len(kept),
			}).Info("filtered outlier points")
		}
	})
	return s.points, s.err
}

func (s *filteredSource) TrainingRecords(ctx context.Context) ([]Record, error) {
	records, err := s.Source.TrainingRecords(ctx)
	if err != nil {
		return nil, err
	}
	points, err := s.Points(ctx)
	if err != nil {
		return nil, err
	}
	dropped := DropMissingObservations(records, points)
	if s.log != nil && dropped > 0 {
		s.log.WithField("dropped", dropped).Info("dropped observations of filtered points")
	}
	return records, nil
}
