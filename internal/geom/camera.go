package geom

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Camera model names, following the COLMAP convention. Params are ordered
// exactly as COLMAP orders them for each model.
const (
	ModelSimplePinhole = "SIMPLE_PINHOLE" // f, cx, cy
	ModelPinhole       = "PINHOLE"        // fx, fy, cx, cy
	ModelSimpleRadial  = "SIMPLE_RADIAL"  // f, cx, cy, k
	ModelRadial        = "RADIAL"         // f, cx, cy, k1, k2
	ModelOpenCV        = "OPENCV"         // fx, fy, cx, cy, k1, k2, p1, p2
)

var modelParamCounts = map[string]int{
	ModelSimplePinhole: 3,
	ModelPinhole:       4,
	ModelSimpleRadial:  4,
	ModelRadial:        5,
	ModelOpenCV:        8,
}

// Camera is an intrinsic camera description: a model name plus its ordered
// parameter list.
type Camera struct {
	Model  string
	Width  int
	Height int
	Params []float64
}

// Validate checks the model name and parameter count. Cameras with an
// unknown model must be rejected before any localization work starts.
func (c Camera) Validate() error {
	want, ok := modelParamCounts[c.Model]
	if !ok {
		return errors.Errorf("unknown camera model %q", c.Model)
	}
	if len(c.Params) != want {
		return errors.Errorf("camera model %s expects %d params, got %d", c.Model, want, len(c.Params))
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("camera has invalid size %dx%d", c.Width, c.Height)
	}
	return nil
}

func (c Camera) focal() (fx, fy float64) {
	switch c.Model {
	case ModelPinhole, ModelOpenCV:
		return c.Params[0], c.Params[1]
	default:
		return c.Params[0], c.Params[0]
	}
}

func (c Camera) principal() (cx, cy float64) {
	switch c.Model {
	case ModelPinhole, ModelOpenCV:
		return c.Params[2], c.Params[3]
	default:
		return c.Params[1], c.Params[2]
	}
}

func (c Camera) distortion() (k1, k2, p1, p2 float64) {
	switch c.Model {
	case ModelSimpleRadial:
		return c.Params[3], 0, 0, 0
	case ModelRadial:
		return c.Params[3], c.Params[4], 0, 0
	case ModelOpenCV:
		return c.Params[4], c.Params[5], c.Params[6], c.Params[7]
	default:
		return 0, 0, 0, 0
	}
}

// distort applies the model's distortion to normalized image coordinates.
func (c Camera) distort(x, y float64) (float64, float64) {
	k1, k2, p1, p2 := c.distortion()
	if k1 == 0 && k2 == 0 && p1 == 0 && p2 == 0 {
		return x, y
	}
	rr := x*x + y*y
	radial := 1 + k1*rr + k2*rr*rr
	dx := 2*p1*x*y + p2*(rr+2*x*x)
	dy := p1*(rr+2*y*y) + 2*p2*x*y
	return x*radial + dx, y*radial + dy
}

// undistort inverts distort by fixed-point iteration.
func (c Camera) undistort(xd, yd float64) (float64, float64) {
	k1, k2, p1, p2 := c.distortion()
	if k1 == 0 && k2 == 0 && p1 == 0 && p2 == 0 {
		return xd, yd
	}
	x, y := xd, yd
	for i := 0; i < 10; i++ {
		rr := x*x + y*y
		radial := 1 + k1*rr + k2*rr*rr
		dx := 2*p1*x*y + p2*(rr+2*x*x)
		dy := p1*(rr+2*y*y) + 2*p2*x*y
		x = (xd - dx) / radial
		y = (yd - dy) / radial
	}
	return x, y
}

// Project maps a camera-frame point to pixel coordinates. The second return
// is false when the point lies on or behind the image plane.
func (c Camera) Project(p r3.Vector) (r2.Point, bool) {
	if p.Z <= 1e-9 {
		return r2.Point{}, false
	}
	x, y := c.distort(p.X/p.Z, p.Y/p.Z)
	fx, fy := c.focal()
	cx, cy := c.principal()
	return r2.Point{X: fx*x + cx, Y: fy*y + cy}, true
}

// ProjectWorld maps a world point through a world-to-camera pose into pixel
// coordinates.
func (c Camera) ProjectWorld(pose *Pose, w r3.Vector) (r2.Point, bool) {
	return c.Project(pose.Apply(w))
}

// Unproject maps a pixel to the unit bearing vector of its viewing ray in
// the camera frame.
func (c Camera) Unproject(px r2.Point) r3.Vector {
	fx, fy := c.focal()
	cx, cy := c.principal()
	x, y := c.undistort((px.X-cx)/fx, (px.Y-cy)/fy)
	v := r3.Vector{X: x, Y: y, Z: 1}
	return v.Mul(1 / math.Sqrt(x*x+y*y+1))
}
