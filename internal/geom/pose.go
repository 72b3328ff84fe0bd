package geom

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid world-to-camera transform: x_cam = R*x_world + T.
type Pose struct {
	R *mat.Dense
	T r3.Vector
}

// NewPose builds a pose from a 3x3 rotation matrix and a translation.
// The rotation is copied.
func NewPose(r mat.Matrix, t r3.Vector) *Pose {
	return &Pose{R: mat.DenseCopyOf(r), T: t}
}

// PoseFromQuat builds a pose from a rotation quaternion and a translation.
func PoseFromQuat(q quat.Number, t r3.Vector) *Pose {
	return &Pose{R: RotationFromQuat(q), T: t}
}

// Quaternion returns the rotation as a unit quaternion with a non-negative
// scalar part, so equal rotations always serialize identically.
func (p *Pose) Quaternion() quat.Number {
	q := QuatFromRotation(p.R)
	if q.Real < 0 {
		q = quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
	}
	return q
}

// Apply maps a world point into the camera frame.
func (p *Pose) Apply(w r3.Vector) r3.Vector {
	r := p.R
	return r3.Vector{
		X: r.At(0, 0)*w.X + r.At(0, 1)*w.Y + r.At(0, 2)*w.Z + p.T.X,
		Y: r.At(1, 0)*w.X + r.At(1, 1)*w.Y + r.At(1, 2)*w.Z + p.T.Y,
		Z: r.At(2, 0)*w.X + r.At(2, 1)*w.Y + r.At(2, 2)*w.Z + p.T.Z,
	}
}

// Center returns the camera center in world coordinates, -R^T * T.
func (p *Pose) Center() r3.Vector {
	r := p.R
	return r3.Vector{
		X: -(r.At(0, 0)*p.T.X + r.At(1, 0)*p.T.Y + r.At(2, 0)*p.T.Z),
		Y: -(r.At(0, 1)*p.T.X + r.At(1, 1)*p.T.Y + r.At(2, 1)*p.T.Z),
		Z: -(r.At(0, 2)*p.T.X + r.At(1, 2)*p.T.Y + r.At(2, 2)*p.T.Z),
	}
}

// Inverse returns the camera-to-world transform.
func (p *Pose) Inverse() *Pose {
	var rt mat.Dense
	rt.CloneFrom(p.R.T())
	c := p.Center()
	return &Pose{R: &rt, T: c}
}
