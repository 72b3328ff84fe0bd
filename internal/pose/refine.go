package pose

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/maorshutman/lm"

	"github.com/descloc/descloc/internal/geom"
)

// invalidResidual stands in for points that fall behind the camera while
// the optimizer explores, pushing it back toward valid poses.
const invalidResidual = 1e6

// refineInliers polishes a RANSAC candidate by minimizing reprojection
// error over its inliers with Levenberg-Marquardt, then rescores against
// the full correspondence set. Failures fall back to the unrefined
// candidate, so the result never gets worse.
func refineInliers(best candidate, pixels []r2.Point, worlds []r3.Vector, cam geom.Camera, maxErr float64) candidate {
	var (
		inPixels []r2.Point
		inWorlds []r3.Vector
	)
	for i, in := range best.inliers {
		if in {
			inPixels = append(inPixels, pixels[i])
			inWorlds = append(inWorlds, worlds[i])
		}
	}
	if len(inPixels) < 3 {
		return best
	}

	refined, err := minimizeReprojection(best.pose, inPixels, inWorlds, cam)
	if err != nil {
		return best
	}
	return scorePose(refined, pixels, worlds, cam, maxErr)
}

// minimizeReprojection runs Levenberg-Marquardt over a 6-parameter pose
// (axis-angle rotation plus translation) with a numeric Jacobian.
func minimizeReprojection(init *geom.Pose, pixels []r2.Point, worlds []r3.Vector, cam geom.Camera) (*geom.Pose, error) {
	aa := geom.AxisAngleFromRotation(init.R)
	params := []float64{aa.X, aa.Y, aa.Z, init.T.X, init.T.Y, init.T.Z}

	residuals := func(dst, x []float64) {
		p := poseFromParams(x)
		for i := range worlds {
			px, ok := cam.ProjectWorld(p, worlds[i])
			if !ok {
				dst[2*i] = invalidResidual
				dst[2*i+1] = invalidResidual
				continue
			}
			dst[2*i] = px.X - pixels[i].X
			dst[2*i+1] = px.Y - pixels[i].Y
		}
	}

	jac := lm.NumJac{Func: residuals}
	problem := lm.LMProblem{
		Dim:        6,
		Size:       2 * len(worlds),
		Func:       residuals,
		Jac:        jac.Jac,
		InitParams: params,
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}
	results, err := lm.LM(problem, &lm.Settings{Iterations: 100, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, err
	}
	return poseFromParams(results.X), nil
}

func poseFromParams(x []float64) *geom.Pose {
	return &geom.Pose{
		R: geom.RotationFromAxisAngle(r3.Vector{X: x[0], Y: x[1], Z: x[2]}),
		T: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}
