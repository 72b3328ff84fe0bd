package recon

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/descloc/descloc/internal/geom"
)

// Pose conventions accepted by the text readers. Poses are normalized to
// world-to-camera internally.
const (
	ConventionWorldToCamera = "w2c"
	ConventionCameraToWorld = "c2w"
)

// maxLineSize bounds a single input line. COLMAP observation lines grow
// with the keypoint count and overflow bufio.Scanner's default buffer.
const maxLineSize = 16 * 1024 * 1024

func scanLines(path string, fn func(lineno int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineno, strings.Fields(line)); err != nil {
			return errors.Wrapf(err, "line %d", lineno)
		}
	}
	return errors.Wrap(sc.Err(), "read")
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse float %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// ReadIntrinsics parses a per-image camera table: one line per image,
// "name MODEL width height params...". Returns cameras keyed by image
// name plus the file's name order.
func ReadIntrinsics(path string) (map[string]geom.Camera, []string, error) {
	cams := map[string]geom.Camera{}
	var order []string
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) < 4 {
			return errors.Errorf("expected at least 4 fields, got %d", len(fields))
		}
		name := fields[0]
		model := fields[1]
		w, err := strconv.Atoi(fields[2])
		if err != nil {
			return errors.Wrap(err, "parse width")
		}
		h, err := strconv.Atoi(fields[3])
		if err != nil {
			return errors.Wrap(err, "parse height")
		}
		params, err := parseFloats(fields[4:])
		if err != nil {
			return err
		}
		cam := geom.Camera{Model: model, Width: w, Height: h, Params: params}
		if err := cam.Validate(); err != nil {
			return errors.Wrapf(err, "image %s", name)
		}
		if _, dup := cams[name]; dup {
			return errors.Errorf("duplicate intrinsics for image %s", name)
		}
		cams[name] = cam
		order = append(order, name)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "intrinsics %s", path)
	}
	return cams, order, nil
}

// ReadPoses parses a per-image pose table. Each line is either
// "name qw qx qy qz tx ty tz" or "name" followed by a row-major 4x4
// matrix. The convention argument states what the file stores; the result
// is always world-to-camera.
func ReadPoses(path, convention string) (map[string]*geom.Pose, error) {
	if convention != ConventionWorldToCamera && convention != ConventionCameraToWorld {
		return nil, errors.Errorf("unknown pose convention %q", convention)
	}
	poses := map[string]*geom.Pose{}
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) != 8 && len(fields) != 17 {
			return errors.Errorf("expected 7 or 16 pose values, got %d", len(fields)-1)
		}
		name := fields[0]
		vals, err := parseFloats(fields[1:])
		if err != nil {
			return err
		}

		var pose *geom.Pose
		if len(vals) == 7 {
			q := quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]}
			pose = geom.PoseFromQuat(q, r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]})
		} else {
			r := mat.NewDense(3, 3, []float64{
				vals[0], vals[1], vals[2],
				vals[4], vals[5], vals[6],
				vals[8], vals[9], vals[10],
			})
			pose = geom.NewPose(r, r3.Vector{X: vals[3], Y: vals[7], Z: vals[11]})
		}
		if convention == ConventionCameraToWorld {
			pose = pose.Inverse()
		}
		if _, dup := poses[name]; dup {
			return errors.Errorf("duplicate pose for image %s", name)
		}
		poses[name] = pose
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "poses %s", path)
	}
	return poses, nil
}

// ReadPoints parses a 3D point table: "pid x y z" per line.
func ReadPoints(path string) (map[int64]r3.Vector, error) {
	points := map[int64]r3.Vector{}
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) != 4 {
			return errors.Errorf("expected 4 fields, got %d", len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse point id")
		}
		xyz, err := parseFloats(fields[1:])
		if err != nil {
			return err
		}
		points[id] = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "points %s", path)
	}
	return points, nil
}

// ReadMatches parses training observations: "image pid u v" per line,
// grouped by image in file order.
func ReadMatches(path string) (map[string][]Observation, error) {
	matches := map[string][]Observation{}
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) != 4 {
			return errors.Errorf("expected 4 fields, got %d", len(fields))
		}
		pid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse point id")
		}
		uv, err := parseFloats(fields[2:])
		if err != nil {
			return err
		}
		matches[fields[0]] = append(matches[fields[0]], Observation{
			PointID: pid,
			Pixel:   r2.Point{X: uv[0], Y: uv[1]},
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "matches %s", path)
	}
	return matches, nil
}
