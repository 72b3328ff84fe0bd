package pose

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/descloc/descloc/internal/geom"
)

// solveP3P computes the camera poses consistent with three 2D-3D
// correspondences, following Grunert's reduction: with depth ratios
// u = s2/s1 and v = s3/s1, the three law-of-cosines constraints collapse
// to a quartic in v plus a linear relation for u. When the bearings
// meet at right angles the linear relation degenerates and the system
// splits into two quadratics instead.
//
// Up to four poses come back; the caller disambiguates with additional
// correspondences.
func solveP3P(bearings [3]r3.Vector, worlds [3]r3.Vector) []*geom.Pose {
	f1, f2, f3 := bearings[0].Normalize(), bearings[1].Normalize(), bearings[2].Normalize()

	a := worlds[1].Sub(worlds[2]).Norm()
	b := worlds[0].Sub(worlds[2]).Norm()
	c := worlds[0].Sub(worlds[1]).Norm()
	if a < 1e-12 || b < 1e-12 || c < 1e-12 {
		return nil
	}

	cosAlpha := f2.Dot(f3)
	cosBeta := f1.Dot(f3)
	cosGamma := f1.Dot(f2)

	k := (c*c - a*a) / (b * b)
	bb := (c * c) / (b * b)

	var ratios [][2]float64
	if math.Abs(cosAlpha) < 1e-9 && math.Abs(cosGamma) < 1e-9 {
		ratios = orthogonalRatios(k, bb, cosBeta)
	} else {
		ratios = grunertRatios(k, bb, cosAlpha, cosBeta, cosGamma)
	}

	var poses []*geom.Pose
	for _, uv := range ratios {
		u, v := uv[0], uv[1]
		q := 1 + v*v - 2*v*cosBeta
		if q <= 1e-12 {
			continue
		}
		s1 := b / math.Sqrt(q)
		camera := [3]r3.Vector{
			f1.Mul(s1),
			f2.Mul(u * s1),
			f3.Mul(v * s1),
		}
		p := absoluteOrientation(worlds, camera)
		if p == nil {
			continue
		}
		if !duplicatePose(poses, p) {
			poses = append(poses, p)
		}
	}
	return poses
}

// grunertRatios solves the general case: u = N(v)/D(v) and the quartic
// N^2 - 2*cosGamma*N*D + D^2*M = 0.
func grunertRatios(k, bb, cosAlpha, cosBeta, cosGamma float64) [][2]float64 {
	N := []float64{1 - k, 2 * k * cosBeta, -1 - k}
	D := []float64{2 * cosGamma, -2 * cosAlpha}
	M := []float64{1 - bb, 2 * bb * cosBeta, -bb}

	quartic := polyAdd(
		polyMul(N, N),
		polyScale(polyMul(N, D), -2*cosGamma),
		polyMul(polyMul(D, D), M),
	)

	var ratios [][2]float64
	for _, v := range realRoots(quartic) {
		if v <= 0 {
			continue
		}
		denom := polyEval(D, v)
		if math.Abs(denom) < 1e-12 {
			continue
		}
		u := polyEval(N, v) / denom
		if u <= 0 {
			continue
		}
		ratios = append(ratios, [2]float64{u, v})
	}
	return ratios
}

// orthogonalRatios solves the right-angle case cosAlpha = cosGamma = 0,
// where u drops out of the combined constraint: v comes from a quadratic
// and u follows from a square root.
func orthogonalRatios(k, bb, cosBeta float64) [][2]float64 {
	var ratios [][2]float64
	for _, v := range realRoots([]float64{k - 1, -2 * k * cosBeta, 1 + k}) {
		if v <= 0 {
			continue
		}
		usq := bb*(1+v*v-2*v*cosBeta) - 1
		if usq <= 0 {
			continue
		}
		ratios = append(ratios, [2]float64{math.Sqrt(usq), v})
	}
	return ratios
}

// absoluteOrientation fits the rigid transform taking world points onto
// camera-frame points (Kabsch): SVD of the cross-covariance with a
// determinant correction to exclude reflections.
func absoluteOrientation(worlds, camera [3]r3.Vector) *geom.Pose {
	var wc, cc r3.Vector
	for i := 0; i < 3; i++ {
		wc = wc.Add(worlds[i])
		cc = cc.Add(camera[i])
	}
	wc = wc.Mul(1.0 / 3.0)
	cc = cc.Mul(1.0 / 3.0)

	cov := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		cw := camera[i].Sub(cc)
		ww := worlds[i].Sub(wc)
		cArr := [3]float64{cw.X, cw.Y, cw.Z}
		wArr := [3]float64{ww.X, ww.Y, ww.Z}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				cov.Set(r, col, cov.At(r, col)+cArr[r]*wArr[col])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return nil
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Flip the axis of the smallest singular value.
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var uv mat.Dense
		uv.Mul(&u, d)
		r.Mul(&uv, v.T())
	}

	rw := r3.Vector{
		X: r.At(0, 0)*wc.X + r.At(0, 1)*wc.Y + r.At(0, 2)*wc.Z,
		Y: r.At(1, 0)*wc.X + r.At(1, 1)*wc.Y + r.At(1, 2)*wc.Z,
		Z: r.At(2, 0)*wc.X + r.At(2, 1)*wc.Y + r.At(2, 2)*wc.Z,
	}
	return &geom.Pose{R: &r, T: cc.Sub(rw)}
}

func duplicatePose(poses []*geom.Pose, p *geom.Pose) bool {
	for _, q := range poses {
		if p.T.Sub(q.T).Norm() < 1e-6 && geom.GeodesicAngleDeg(p.R, q.R) < 1e-4 {
			return true
		}
	}
	return false
}

// Polynomials are coefficient slices in ascending power order.

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, av := range a {
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}

func polyAdd(ps ...[]float64) []float64 {
	n := 0
	for _, p := range ps {
		if len(p) > n {
			n = len(p)
		}
	}
	out := make([]float64, n)
	for _, p := range ps {
		for i, v := range p {
			out[i] += v
		}
	}
	return out
}

func polyScale(p []float64, s float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = v * s
	}
	return out
}

func polyEval(p []float64, x float64) float64 {
	sum := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		sum = sum*x + p[i]
	}
	return sum
}

// realRoots returns the real roots of a polynomial via the eigenvalues
// of its companion matrix. Leading coefficients near zero are trimmed so
// degenerate quartics degrade to the lower-degree problem instead of
// blowing up the normalization.
func realRoots(coeffs []float64) []float64 {
	n := len(coeffs)
	for n > 1 && math.Abs(coeffs[n-1]) < 1e-14 {
		n--
	}
	coeffs = coeffs[:n]
	deg := n - 1
	if deg < 1 {
		return nil
	}
	if deg == 1 {
		return []float64{-coeffs[0] / coeffs[1]}
	}

	lead := coeffs[deg]
	companion := mat.NewDense(deg, deg, nil)
	for i := 0; i < deg; i++ {
		companion.Set(i, deg-1, -coeffs[i]/lead)
		if i > 0 {
			companion.Set(i, i-1, 1)
		}
	}

	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return nil
	}
	var roots []float64
	for _, z := range eig.Values(nil) {
		if math.Abs(imag(z)) < 1e-8*(1+math.Abs(real(z))) {
			roots = append(roots, real(z))
		}
	}
	return roots
}
