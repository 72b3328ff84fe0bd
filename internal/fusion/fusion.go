// Package fusion blends local keypoint descriptors with a per-image global
// descriptor into the hybrid descriptors the codebook is built from.
package fusion

import (
	"github.com/pkg/errors"
)

// Options selects how descriptors are blended, for both the codebook
// build and query-time matching.
type Options struct {
	// Lambda weights the local descriptor; 1-Lambda weights the global.
	Lambda float64
	// UseGlobal enables blending at all. When false the fused descriptor
	// is the local descriptor and no global features are loaded.
	UseGlobal bool
	// SnapToTrain replaces a query's global descriptor with its nearest
	// training-image global descriptor before fusing, aligning queries to
	// the training distribution. Training-side fusion never snaps.
	SnapToTrain bool
}

// Fuse returns lambda*local + (1-lambda)*global[:len(local)]. The global
// descriptor may be longer than the local one; only its leading
// coefficients participate. With lambda == 1 the result is an exact copy
// of the local descriptor and the global descriptor is ignored entirely.
func Fuse(local, global []float64, lambda float64) ([]float64, error) {
	if lambda < 0 || lambda > 1 {
		return nil, errors.Errorf("fusion weight %g outside [0,1]", lambda)
	}
	out := make([]float64, len(local))
	if lambda == 1 {
		copy(out, local)
		return out, nil
	}
	if len(global) < len(local) {
		return nil, errors.Errorf("global descriptor dim %d shorter than local dim %d", len(global), len(local))
	}
	for i, v := range local {
		out[i] = lambda*v + (1-lambda)*global[i]
	}
	return out, nil
}

// FuseAll fuses every local descriptor of one image against the image's
// global descriptor.
func FuseAll(locals [][]float64, global []float64, lambda float64) ([][]float64, error) {
	out := make([][]float64, len(locals))
	for i, l := range locals {
		f, err := Fuse(l, global, lambda)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
