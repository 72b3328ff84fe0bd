package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/descloc/descloc/internal/feature"
	"github.com/descloc/descloc/internal/geom"
	"github.com/descloc/descloc/internal/localize"
	"github.com/descloc/descloc/internal/recon"
)

// LocalizeOptions configures a query batch.
type LocalizeOptions struct {
	// Workers bounds per-query parallelism; <= 0 means one worker.
	Workers int
	// Resume holds poses from a previous run, keyed by image name.
	// Images found here are re-emitted without recomputation; earlier
	// failures are retried.
	Resume map[string]*geom.Pose

	Progress ProgressReporter
}

// LocalizeBatch localizes every query record. The result slice matches
// the query order, and every query yields exactly one result: per-image
// failures become failure statuses, never a batch abort.
func LocalizeBatch(ctx context.Context, loc *localize.Localizer, queries []recon.Record, feats *feature.Store, opts LocalizeOptions) ([]localize.Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if opts.Progress != nil {
		opts.Progress.Start(len(queries))
		defer opts.Progress.Finish()
	}

	results := make([]localize.Result, len(queries))
	eg := &errgroup.Group{}
	eg.SetLimit(workers)
	for i := range queries {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if pose, ok := opts.Resume[queries[i].Name]; ok {
				results[i] = localize.Result{Name: queries[i].Name, Status: localize.StatusPose, Pose: pose}
			} else {
				results[i] = localizeQuery(loc, feats, queries[i])
			}
			if opts.Progress != nil {
				opts.Progress.Increment()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// localizeQuery loads one query's features and solves its pose. A query
// absent from the feature store is skipped; store corruption fails the
// image but not the batch.
func localizeQuery(loc *localize.Localizer, feats *feature.Store, rec recon.Record) localize.Result {
	kps, descs, err := feats.Local(rec.Name)
	if errors.Is(err, feature.ErrNotFound) {
		return localize.Result{Name: rec.Name, Status: localize.StatusSkipped, Err: err}
	}
	if err != nil {
		return localize.Result{Name: rec.Name, Status: localize.StatusFailed, Err: err}
	}

	var global []float64
	if loc.NeedsGlobal() {
		global, err = feats.Global(rec.Name)
		if errors.Is(err, feature.ErrNotFound) {
			return localize.Result{Name: rec.Name, Status: localize.StatusSkipped, Err: err}
		}
		if err != nil {
			return localize.Result{Name: rec.Name, Status: localize.StatusFailed, Err: err}
		}
	}
	return loc.Localize(rec, kps, descs, global)
}

// Tally counts batch results per status.
func Tally(results []localize.Result) map[localize.Status]int {
	out := map[localize.Status]int{}
	for _, res := range results {
		out[res.Status]++
	}
	return out
}
