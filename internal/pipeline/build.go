// Package pipeline drives the two batch phases: building the codebook
// from the training images and localizing a query set. Both run the
// per-image work in parallel and keep their outputs in deterministic
// input order.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/descloc/descloc/internal/assign"
	"github.com/descloc/descloc/internal/codebook"
	"github.com/descloc/descloc/internal/feature"
	"github.com/descloc/descloc/internal/fusion"
	"github.com/descloc/descloc/internal/recon"
)

// DefaultMaxPixelDist is the assignment radius between a point's
// observed location and a detected keypoint, in pixels.
const DefaultMaxPixelDist = 5.0

// BuildWarning reports training images that were skipped but did not
// abort the build.
type BuildWarning struct {
	Count   int
	Samples []string
}

func (w *BuildWarning) Error() string {
	return fmt.Sprintf("build skipped %d images: %s", w.Count, strings.Join(w.Samples, "; "))
}

// skipCollector accumulates per-image skips from concurrent workers. It
// keeps the total count and the first few samples for the warning.
type skipCollector struct {
	mu      sync.Mutex
	count   int
	samples []string
}

func (c *skipCollector) Add(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if len(c.samples) < 5 {
		c.samples = append(c.samples, fmt.Sprintf("%s: %v", name, err))
	}
}

func (c *skipCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *skipCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return nil
	}
	return &BuildWarning{Count: c.count, Samples: c.samples}
}

// BuildOptions configures a codebook build.
type BuildOptions struct {
	// Dim is the local descriptor dimension; every stored descriptor
	// must match it.
	Dim int
	// Fusion blends local and global descriptors. SnapToTrain is
	// ignored on the training side.
	Fusion fusion.Options
	// MaxPixelDist is the assignment radius; <= 0 selects the default.
	MaxPixelDist float64
	// Precision quantizes the stored mean descriptors.
	Precision codebook.Precision
	// Workers bounds per-image parallelism; <= 0 means one worker.
	Workers int

	Progress ProgressReporter
	Log      logrus.FieldLogger
}

// BuildStats summarizes a finished build.
type BuildStats struct {
	Images       int
	Skipped      int
	Points       int
	Observations int64
	Elapsed      time.Duration
}

// BuildCodebook assigns every training observation to a detected
// keypoint, fuses descriptors, and accumulates per-point means. Images
// whose features are missing or inconsistent are skipped and reported in
// a *BuildWarning; the codebook itself is still returned. The point
// index order depends only on the record order, never on worker timing.
func BuildCodebook(ctx context.Context, src recon.Source, feats *feature.Store, opts BuildOptions) (*codebook.Codebook, BuildStats, error) {
	start := time.Now()
	var stats BuildStats
	if opts.Dim <= 0 {
		return nil, stats, errors.Errorf("descriptor dim %d must be positive", opts.Dim)
	}
	maxDist := opts.MaxPixelDist
	if maxDist <= 0 {
		maxDist = DefaultMaxPixelDist
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	records, err := src.TrainingRecords(ctx)
	if err != nil {
		return nil, stats, errors.Wrap(err, "load training records")
	}
	if len(records) == 0 {
		return nil, stats, errors.New("no training images")
	}

	if opts.Progress != nil {
		opts.Progress.Start(len(records))
		defer opts.Progress.Finish()
	}

	var collector skipCollector
	contribs := make([]*codebook.Builder, len(records))
	eg := &errgroup.Group{}
	eg.SetLimit(workers)
	for i := range records {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := imageContribution(feats, records[i], opts, maxDist)
			if err != nil {
				collector.Add(records[i].Name, err)
			} else {
				contribs[i] = b
			}
			if opts.Progress != nil {
				opts.Progress.Increment()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, stats, err
	}

	master := codebook.NewBuilder(opts.Dim, opts.Precision)
	for _, c := range contribs {
		if c == nil {
			continue
		}
		if err := master.Merge(c); err != nil {
			return nil, stats, errors.Wrap(err, "merge image contributions")
		}
	}
	if master.Len() == 0 {
		return nil, stats, errors.New("no observations survived assignment; codebook would be empty")
	}

	cb := master.Finalize(opts.Log)
	stats = BuildStats{
		Images:       len(records) - collector.Count(),
		Skipped:      collector.Count(),
		Points:       cb.Len(),
		Observations: master.Observations(),
		Elapsed:      time.Since(start),
	}
	return cb, stats, collector.Err()
}

// imageContribution builds one image's partial sums. A nil builder with
// a nil error means the image contributed nothing, which is not a skip.
func imageContribution(feats *feature.Store, rec recon.Record, opts BuildOptions, maxDist float64) (*codebook.Builder, error) {
	if len(rec.Points) == 0 {
		return nil, nil
	}
	kps, descs, err := feats.Local(rec.Name)
	if err != nil {
		return nil, err
	}

	projections := make([]r2.Point, len(rec.Points))
	ids := make([]int64, len(rec.Points))
	for i, obs := range rec.Points {
		projections[i] = obs.Pixel
		ids[i] = obs.PointID
	}
	matches, err := assign.Assign(projections, ids, kps, maxDist)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	chosen := make([][]float64, len(matches))
	for i, m := range matches {
		chosen[i] = descs[m.KeypointIndex]
	}
	if opts.Fusion.UseGlobal {
		global, err := feats.Global(rec.Name)
		if err != nil {
			return nil, err
		}
		chosen, err = fusion.FuseAll(chosen, global, opts.Fusion.Lambda)
		if err != nil {
			return nil, err
		}
	}

	b := codebook.NewBuilder(opts.Dim, opts.Precision)
	for i, m := range matches {
		if err := b.Add(m.PointID, chosen[i]); err != nil {
			return nil, err
		}
	}
	return b, nil
}
