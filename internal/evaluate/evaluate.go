// Package evaluate scores localization results against ground-truth
// poses: per-image translation and rotation errors plus the aggregate
// medians and success fraction reported for a query set.
package evaluate

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/descloc/descloc/internal/geom"
	"github.com/descloc/descloc/internal/localize"
)

// PoseError is the per-image deviation from ground truth.
type PoseError struct {
	// Translation is the Euclidean distance between the two translation
	// vectors, in map units (meters for the supported datasets).
	Translation float64
	// RotationDeg is the geodesic angle between the two rotations.
	RotationDeg float64
}

// Compare measures one estimated pose against its ground truth. Both
// poses are world-to-camera.
func Compare(est, gt *geom.Pose) PoseError {
	return PoseError{
		Translation: est.T.Sub(gt.T).Norm(),
		RotationDeg: geom.GeodesicAngleDeg(est.R, gt.R),
	}
}

// Thresholds define a successful localization: both errors strictly
// under their bound.
type Thresholds struct {
	MaxTranslation float64
	MaxRotationDeg float64
}

// DefaultThresholds is the 5 cm / 5 degree convention.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxTranslation: 0.05, MaxRotationDeg: 5}
}

// Success reports whether an error passes both bounds.
func (t Thresholds) Success(e PoseError) bool {
	return e.Translation < t.MaxTranslation && e.RotationDeg < t.MaxRotationDeg
}

// Aggregator accumulates per-image outcomes into a Summary.
type Aggregator struct {
	thresholds Thresholds

	errors       []PoseError
	insufficient int
	failed       int
	skipped      int
	withoutTruth int
}

func NewAggregator(th Thresholds) *Aggregator {
	return &Aggregator{thresholds: th}
}

// AddError records a localized image's deviation from ground truth.
func (a *Aggregator) AddError(e PoseError) {
	a.errors = append(a.errors, e)
}

// AddOutcome records a non-localized image by its result status.
func (a *Aggregator) AddOutcome(st localize.Status) {
	switch st {
	case localize.StatusInsufficient:
		a.insufficient++
	case localize.StatusSkipped:
		a.skipped++
	default:
		a.failed++
	}
}

// AddWithoutTruth records a localized image that has no ground-truth
// pose to compare against.
func (a *Aggregator) AddWithoutTruth() {
	a.withoutTruth++
}

// Summary is the aggregate evaluation over a query set. Medians are NaN
// when nothing localized; SuccessFraction divides by the localized count
// only, so unlocalized images do not dilute it.
type Summary struct {
	MedianTranslation float64
	MedianRotationDeg float64
	SuccessFraction   float64

	Localized    int
	Insufficient int
	Failed       int
	Skipped      int
	WithoutTruth int
	Total        int
}

// Summary computes the aggregate. Both medians sort their error list
// independently, ascending, and take index floor(n/2); even-length lists
// use the upper of the two middle elements, never an average.
func (a *Aggregator) Summary() Summary {
	s := Summary{
		Localized:    len(a.errors),
		Insufficient: a.insufficient,
		Failed:       a.failed,
		Skipped:      a.skipped,
		WithoutTruth: a.withoutTruth,
	}
	s.Total = s.Localized + s.Insufficient + s.Failed + s.Skipped + s.WithoutTruth

	trans := make([]float64, len(a.errors))
	rots := make([]float64, len(a.errors))
	success := 0
	for i, e := range a.errors {
		trans[i] = e.Translation
		rots[i] = e.RotationDeg
		if a.thresholds.Success(e) {
			success++
		}
	}
	s.MedianTranslation = median(trans)
	s.MedianRotationDeg = median(rots)
	if len(a.errors) > 0 {
		s.SuccessFraction = float64(success) / float64(len(a.errors))
	}
	return s
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	return vals[len(vals)/2]
}

// ImageError pairs an image name with its pose error for per-image
// dumps.
type ImageError struct {
	Name string
	PoseError
}

// EvaluateResults scores a localization batch against ground truth,
// returning the summary plus the per-image errors in result order.
// Localized images missing from the truth map count separately.
func EvaluateResults(results []localize.Result, truth map[string]*geom.Pose, th Thresholds) (Summary, []ImageError) {
	agg := NewAggregator(th)
	var perImage []ImageError
	for _, res := range results {
		if res.Status != localize.StatusPose {
			agg.AddOutcome(res.Status)
			continue
		}
		gt, ok := truth[res.Name]
		if !ok {
			agg.AddWithoutTruth()
			continue
		}
		pe := Compare(res.Pose, gt)
		agg.AddError(pe)
		perImage = append(perImage, ImageError{Name: res.Name, PoseError: pe})
	}
	return agg.Summary(), perImage
}

// WriteErrors dumps per-image errors as "name translation rotation_deg"
// lines.
func WriteErrors(w io.Writer, rows []ImageError) error {
	for _, r := range rows {
		_, err := fmt.Fprintf(w, "%s %s %s\n", r.Name,
			strconv.FormatFloat(r.Translation, 'g', -1, 64),
			strconv.FormatFloat(r.RotationDeg, 'g', -1, 64))
		if err != nil {
			return errors.Wrap(err, "write error line")
		}
	}
	return nil
}

// Format renders the summary as the human report printed after an eval
// run.
func (s Summary) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Queries:            %d\n", s.Total)
	fmt.Fprintf(&b, "Localized:          %d\n", s.Localized)
	if s.WithoutTruth > 0 {
		fmt.Fprintf(&b, "No ground truth:    %d\n", s.WithoutTruth)
	}
	fmt.Fprintf(&b, "Insufficient:       %d\n", s.Insufficient)
	fmt.Fprintf(&b, "Failed:             %d\n", s.Failed)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped:            %d\n", s.Skipped)
	}
	if s.Localized > 0 {
		fmt.Fprintf(&b, "Median translation: %.4f m\n", s.MedianTranslation)
		fmt.Fprintf(&b, "Median rotation:    %.4f deg\n", s.MedianRotationDeg)
		fmt.Fprintf(&b, "Success rate:       %.1f%%\n", 100*s.SuccessFraction)
	} else {
		b.WriteString("Median translation: -\n")
		b.WriteString("Median rotation:    -\n")
		b.WriteString("Success rate:       -\n")
	}
	return b.String()
}
