// Package codebook builds and stores the per-point mean descriptor table
// that queries are matched against. Every reconstructed 3D point that
// gathered at least one descriptor observation owns one codebook entry.
package codebook

import (
	"math"

	"github.com/pkg/errors"
)

// Precision is the float width used when a codebook is persisted.
// Accumulation is always performed in float64 regardless.
type Precision string

const (
	Float32 Precision = "float32"
	Float64 Precision = "float64"
)

// ParsePrecision validates a precision name from configuration or from a
// stored codebook file.
func ParsePrecision(s string) (Precision, error) {
	switch Precision(s) {
	case Float32, Float64:
		return Precision(s), nil
	default:
		return "", errors.Errorf("unknown codebook precision %q", s)
	}
}

// Quantize rounds v to the precision's representable value.
func (p Precision) Quantize(v float64) float64 {
	if p == Float32 {
		return float64(float32(v))
	}
	return v
}

// Codebook is the finalized, read-only mean-descriptor table. Entry order
// is the order point ids were first observed during the build, and the
// index<->pointID mapping is part of the artifact: retrieval returns dense
// indices that must translate back to the same point ids after a reload.
type Codebook struct {
	Dim       int
	Precision Precision
	IDs       []int64
	Vectors   [][]float64
	Counts    []int64

	byID map[int64]int
}

// Len returns the number of entries.
func (c *Codebook) Len() int { return len(c.IDs) }

// PointID translates a dense entry index to its point id.
func (c *Codebook) PointID(index int) int64 { return c.IDs[index] }

// Index translates a point id to its dense entry index.
func (c *Codebook) Index(pointID int64) (int, bool) {
	i, ok := c.byID[pointID]
	return i, ok
}

// NonFinite returns the point ids whose mean descriptor contains a NaN or
// Inf component. Such entries are kept but reported.
func (c *Codebook) NonFinite() []int64 {
	var bad []int64
	for i, vec := range c.Vectors {
		for _, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = append(bad, c.IDs[i])
				break
			}
		}
	}
	return bad
}

func newCodebook(dim int, prec Precision, ids []int64, vectors [][]float64, counts []int64) *Codebook {
	byID := make(map[int64]int, len(ids))
	for i, id := range ids {
		byID[id] = i
	}
	return &Codebook{
		Dim:       dim,
		Precision: prec,
		IDs:       ids,
		Vectors:   vectors,
		Counts:    counts,
		byID:      byID,
	}
}
