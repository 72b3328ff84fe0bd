package pose

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/descloc/descloc/internal/geom"
)

// candidate is a scored pose hypothesis.
type candidate struct {
	pose     *geom.Pose
	inliers  []bool
	count    int
	totalErr float64
}

func (c candidate) betterThan(o candidate) bool {
	if c.count != o.count {
		return c.count > o.count
	}
	return c.totalErr < o.totalErr
}

// ransac samples minimal sets, solves each with P3P, and keeps the
// hypothesis explaining the most correspondences. The iteration count
// adapts downward as the observed inlier ratio improves.
func ransac(pixels []r2.Point, worlds []r3.Vector, cam geom.Camera, opts Options) candidate {
	n := len(pixels)
	rng := rand.New(rand.NewSource(opts.Seed))

	maxIter := opts.Iterations
	if maxIter <= 0 {
		maxIter = 1
	}
	needed := maxIter

	var best candidate
	for iter := 0; iter < maxIter && iter < needed; iter++ {
		i0, i1, i2 := sampleTriple(rng, n)
		ws := [3]r3.Vector{worlds[i0], worlds[i1], worlds[i2]}
		if collinear(ws) {
			continue
		}
		bearings := [3]r3.Vector{
			cam.Unproject(pixels[i0]),
			cam.Unproject(pixels[i1]),
			cam.Unproject(pixels[i2]),
		}
		for _, p := range solveP3P(bearings, ws) {
			cand := scorePose(p, pixels, worlds, cam, opts.MaxReprojError)
			if cand.betterThan(best) {
				best = cand
				needed = requiredIterations(float64(best.count)/float64(n), opts.Confidence, maxIter)
			}
		}
	}
	return best
}

// scorePose classifies every correspondence against a hypothesis.
// An inlier reprojects in front of the camera within maxErr pixels.
func scorePose(p *geom.Pose, pixels []r2.Point, worlds []r3.Vector, cam geom.Camera, maxErr float64) candidate {
	cand := candidate{pose: p, inliers: make([]bool, len(pixels))}
	for i := range pixels {
		px, ok := cam.ProjectWorld(p, worlds[i])
		if !ok {
			continue
		}
		err := math.Hypot(px.X-pixels[i].X, px.Y-pixels[i].Y)
		if err < maxErr {
			cand.inliers[i] = true
			cand.count++
			cand.totalErr += err
		}
	}
	return cand
}

func sampleTriple(rng *rand.Rand, n int) (int, int, int) {
	i0 := rng.Intn(n)
	i1 := rng.Intn(n)
	for i1 == i0 {
		i1 = rng.Intn(n)
	}
	i2 := rng.Intn(n)
	for i2 == i0 || i2 == i1 {
		i2 = rng.Intn(n)
	}
	return i0, i1, i2
}

func collinear(ws [3]r3.Vector) bool {
	d1 := ws[1].Sub(ws[0])
	d2 := ws[2].Sub(ws[0])
	return d1.Cross(d2).Norm() < 1e-12
}

// requiredIterations returns how many samples give the target confidence
// of drawing at least one all-inlier triple, given the inlier ratio seen
// so far.
func requiredIterations(ratio, confidence float64, limit int) int {
	if confidence <= 0 || confidence >= 1 {
		return limit
	}
	if ratio >= 1 {
		return 1
	}
	if ratio <= 0 {
		return limit
	}
	denom := math.Log1p(-ratio * ratio * ratio)
	if denom >= 0 {
		return limit
	}
	needed := math.Ceil(math.Log(1-confidence) / denom)
	if needed < 1 {
		return 1
	}
	if needed >= float64(limit) {
		return limit
	}
	return int(needed)
}
