package localize

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/descloc/descloc/internal/geom"
)

// Failure markers written after "#" on a result line.
const (
	markerInsufficient = "insufficient correspondences"
	markerFailed       = "localization failed"
	markerSkipped      = "skipped"
)

// Entry is one parsed result line: either a pose or a failure marker.
type Entry struct {
	Name string
	Pose *geom.Pose
	Note string
}

// Localized reports whether the entry carries a pose.
func (e Entry) Localized() bool { return e.Pose != nil }

// EntryStatus maps a parsed entry back to the outcome its line encodes.
func (e Entry) EntryStatus() Status {
	switch {
	case e.Pose != nil:
		return StatusPose
	case e.Note == markerInsufficient:
		return StatusInsufficient
	case e.Note == markerSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// FormatLine renders one result as its file line. Successful images get
// "name qw qx qy qz tx ty tz" with the world-to-camera quaternion; the
// rest get a "name # marker" line so every input image appears exactly
// once in the output.
func FormatLine(res Result) string {
	switch res.Status {
	case StatusPose:
		q := res.Pose.Quaternion()
		vals := []float64{q.Real, q.Imag, q.Jmag, q.Kmag, res.Pose.T.X, res.Pose.T.Y, res.Pose.T.Z}
		parts := make([]string, 0, 8)
		parts = append(parts, res.Name)
		for _, v := range vals {
			parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
		}
		return strings.Join(parts, " ")
	case StatusInsufficient:
		return res.Name + " # " + markerInsufficient
	case StatusSkipped:
		return res.Name + " # " + markerSkipped
	default:
		return res.Name + " # " + markerFailed
	}
}

// ParseLine parses one result line. Image names may contain spaces: a
// pose line always ends in exactly seven numbers, and a failure line
// separates name from marker with " # ".
func ParseLine(line string) (Entry, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, errors.New("empty result line")
	}

	if name, note, found := strings.Cut(line, " # "); found {
		name = strings.TrimSpace(name)
		if name == "" {
			return Entry{}, errors.New("failure marker without image name")
		}
		return Entry{Name: name, Note: strings.TrimSpace(note)}, nil
	}

	fields := strings.Fields(line)
	if len(fields) < 8 {
		return Entry{}, errors.Errorf("expected name plus 7 pose values, got %d fields", len(fields))
	}
	vals := make([]float64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseFloat(fields[len(fields)-7+i], 64)
		if err != nil {
			return Entry{}, errors.Wrap(err, "parse pose value")
		}
		vals[i] = v
	}
	name := strings.Join(fields[:len(fields)-7], " ")
	q := quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]}
	return Entry{
		Name: name,
		Pose: geom.PoseFromQuat(q, r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]}),
	}, nil
}

// ReadResultFile parses a result file in line order.
func ReadResultFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open result file")
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineno)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read result file %s", path)
	}
	return entries, nil
}

// WriteResults renders one line per result, in slice order.
func WriteResults(w io.Writer, results []Result) error {
	bw := bufio.NewWriter(w)
	for _, res := range results {
		if _, err := bw.WriteString(FormatLine(res)); err != nil {
			return errors.Wrap(err, "write result line")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "write result line")
		}
	}
	return errors.Wrap(bw.Flush(), "flush results")
}

// WriteResultFile writes the result file, replacing any previous content.
func WriteResultFile(path string, results []Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create result directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create result file")
	}
	if err := WriteResults(f, results); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close result file %s", path)
}

// Poses extracts the successfully localized images, keyed by name.
func Poses(entries []Entry) map[string]*geom.Pose {
	out := map[string]*geom.Pose{}
	for _, e := range entries {
		if e.Localized() {
			out[e.Name] = e.Pose
		}
	}
	return out
}
