package recon

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/descloc/descloc/internal/geom"
)

// ColmapSource reads a COLMAP text model (cameras.txt, images.txt,
// points3D.txt) for the training side, and a separate intrinsics table
// (plus optional ground-truth poses) for the query side. COLMAP stores
// poses world-to-camera already.
type ColmapSource struct {
	ModelDir        string
	QueryIntrinsics string
	QueryPoses      string
	QueryConvention string
	TrainFilter     Filter
	QueryFilter     Filter
}

// Points parses points3D.txt.
func (s *ColmapSource) Points(ctx context.Context) (map[int64]r3.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.ModelDir, "points3D.txt")
	points := map[int64]r3.Vector{}
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) < 4 {
			return errors.Errorf("expected at least 4 fields, got %d", len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse point id")
		}
		xyz, err := parseFloats(fields[1:4])
		if err != nil {
			return err
		}
		points[id] = r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "colmap points %s", path)
	}
	return points, nil
}

// TrainingRecords parses cameras.txt and images.txt into records sorted
// by image name.
func (s *ColmapSource) TrainingRecords(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cameras, err := s.readCameras()
	if err != nil {
		return nil, err
	}
	records, err := s.readImages(cameras)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return filterRecords(records, s.TrainFilter), nil
}

// QueryRecords reads the query intrinsics table and, when configured, the
// ground-truth pose table.
func (s *ColmapSource) QueryRecords(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return queryRecords(s.QueryIntrinsics, s.QueryPoses, s.QueryConvention, s.QueryFilter)
}

func (s *ColmapSource) readCameras() (map[int64]geom.Camera, error) {
	path := filepath.Join(s.ModelDir, "cameras.txt")
	cameras := map[int64]geom.Camera{}
	err := scanLines(path, func(_ int, fields []string) error {
		if len(fields) < 5 {
			return errors.Errorf("expected at least 5 fields, got %d", len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse camera id")
		}
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
		cam := geom.Camera{Model: fields[1], Width: w, Height: h, Params: params}
		if err := cam.Validate(); err != nil {
			return errors.Wrapf(err, "camera %d", id)
		}
		cameras[id] = cam
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "colmap cameras %s", path)
	}
	return cameras, nil
}

// readImages parses images.txt, which stores two lines per image: the
// pose header and the observation triplets. The observation line may be
// empty, so the pairing is tracked explicitly instead of skipping blanks.
func (s *ColmapSource) readImages(cameras map[int64]geom.Camera) ([]Record, error) {
	path := filepath.Join(s.ModelDir, "images.txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open colmap images %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var records []Record
	var pending *Record
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if pending == nil {
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 10 {
				return nil, errors.Errorf("%s:%d: image header needs 10 fields, got %d", path, lineno, len(fields))
			}
			vals, err := parseFloats(fields[1:8])
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, lineno)
			}
			camID, err := strconv.ParseInt(fields[8], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: parse camera id", path, lineno)
			}
			cam, ok := cameras[camID]
			if !ok {
				return nil, errors.Errorf("%s:%d: image references unknown camera %d", path, lineno, camID)
			}
			q := quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]}
			pending = &Record{
				Name:   strings.Join(fields[9:], " "),
				Camera: cam,
				Pose:   geom.PoseFromQuat(q, r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]}),
			}
			continue
		}

		// Observation line for the pending image; may be blank.
		fields := strings.Fields(line)
		if len(fields)%3 != 0 {
			return nil, errors.Errorf("%s:%d: observations come in (x, y, point id) triplets, got %d fields", path, lineno, len(fields))
		}
		for i := 0; i < len(fields); i += 3 {
			pid, err := strconv.ParseInt(fields[i+2], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: parse point id", path, lineno)
			}
			if pid < 0 {
				continue
			}
			uv, err := parseFloats(fields[i : i+2])
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, lineno)
			}
			pending.Points = append(pending.Points, Observation{
				PointID: pid,
				Pixel:   r2.Point{X: uv[0], Y: uv[1]},
			})
		}
		records = append(records, *pending)
		pending = nil
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read colmap images %s", path)
	}
	if pending != nil {
		return nil, errors.Errorf("%s: image %s is missing its observation line", path, pending.Name)
	}
	return records, nil
}
