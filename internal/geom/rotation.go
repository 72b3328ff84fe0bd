package geom

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationFromQuat converts a quaternion to a 3x3 rotation matrix.
// The quaternion is normalized first.
func RotationFromQuat(q quat.Number) *mat.Dense {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n

	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// QuatFromRotation converts a 3x3 rotation matrix to a unit quaternion.
// Branches on the largest diagonal term to stay well conditioned near
// 180-degree rotations.
func QuatFromRotation(m mat.Matrix) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	tr := m00 + m11 + m22
	var w, x, y, z float64
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = 0.25 * s
		x = (m21 - m12) / s
		y = (m02 - m20) / s
		z = (m10 - m01) / s
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// RotationFromAxisAngle converts an axis-angle vector (direction = axis,
// norm = angle in radians) to a rotation matrix via the Rodrigues formula.
func RotationFromAxisAngle(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	if theta < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	k := v.Mul(1 / theta)
	c := math.Cos(theta)
	s := math.Sin(theta)
	t := 1 - c

	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s,
		k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s,
		k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t,
	})
}

// AxisAngleFromRotation converts a rotation matrix to its axis-angle vector.
// Goes through the quaternion form, which is stable for all angles.
func AxisAngleFromRotation(m mat.Matrix) r3.Vector {
	q := QuatFromRotation(m)
	if q.Real < 0 {
		q = quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
	}
	vn := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if vn < 1e-12 {
		return r3.Vector{}
	}
	angle := 2 * math.Atan2(vn, q.Real)
	return r3.Vector{X: q.Imag / vn * angle, Y: q.Jmag / vn * angle, Z: q.Kmag / vn * angle}
}

// GeodesicAngleDeg returns the rotation angle in degrees between two
// rotation matrices, the axis-angle magnitude of a*b^T.
func GeodesicAngleDeg(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a, b.T())
	c := (rel.At(0, 0) + rel.At(1, 1) + rel.At(2, 2) - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * 180 / math.Pi
}
