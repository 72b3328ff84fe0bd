// Package knn provides an exact nearest-neighbor index over dense float
// vectors using squared Euclidean distance. Results are deterministic:
// equal distances break ties toward the lower vector index.
package knn

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Neighbor is one search hit: the index of a stored vector and its squared
// Euclidean distance to the query.
type Neighbor struct {
	Index int
	Dist  float64
}

// Index is a flat (brute-force) index. Add vectors, then search.
// Searching is safe from multiple goroutines once the index is
// materialized (FromVectors, or any completed Search after the last Add).
type Index struct {
	dim   int
	flat  []float64
	n     int
	data  *mat.Dense
	norms []float64
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, errors.Errorf("index dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim}, nil
}

// FromVectors builds a ready-to-search index over the given vectors.
// The returned index is fully materialized, so concurrent searches need
// no further synchronization.
func FromVectors(vecs [][]float64) (*Index, error) {
	if len(vecs) == 0 {
		return nil, errors.New("cannot build index from zero vectors")
	}
	ix, err := New(len(vecs[0]))
	if err != nil {
		return nil, err
	}
	if err := ix.Add(vecs); err != nil {
		return nil, err
	}
	ix.ensure()
	return ix, nil
}

// Add appends vectors to the index. Vectors are copied.
func (ix *Index) Add(vecs [][]float64) error {
	for i, v := range vecs {
		if len(v) != ix.dim {
			return errors.Errorf("vector %d has dim %d, index expects %d", i, len(v), ix.dim)
		}
		ix.flat = append(ix.flat, v...)
		ix.n++
	}
	ix.data = nil
	ix.norms = nil
	return nil
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return ix.n }

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

func (ix *Index) ensure() {
	if ix.data != nil || ix.n == 0 {
		return
	}
	ix.data = mat.NewDense(ix.n, ix.dim, ix.flat)
	ix.norms = make([]float64, ix.n)
	for i := 0; i < ix.n; i++ {
		row := ix.flat[i*ix.dim : (i+1)*ix.dim]
		var s float64
		for _, v := range row {
			s += v * v
		}
		ix.norms[i] = s
	}
}

// Search returns the k nearest stored vectors for every query, nearest
// first. k larger than the index size is clamped.
func (ix *Index) Search(queries [][]float64, k int) ([][]Neighbor, error) {
	if k <= 0 {
		return nil, errors.Errorf("k must be positive, got %d", k)
	}
	if ix.n == 0 {
		return nil, errors.New("index is empty")
	}
	if len(queries) == 0 {
		return nil, nil
	}
	for i, q := range queries {
		if len(q) != ix.dim {
			return nil, errors.Errorf("query %d has dim %d, index expects %d", i, len(q), ix.dim)
		}
	}
	ix.ensure()
	if k > ix.n {
		k = ix.n
	}

	nq := len(queries)
	qflat := make([]float64, 0, nq*ix.dim)
	qnorms := make([]float64, nq)
	for i, q := range queries {
		qflat = append(qflat, q...)
		var s float64
		for _, v := range q {
			s += v * v
		}
		qnorms[i] = s
	}
	qmat := mat.NewDense(nq, ix.dim, qflat)

	// dist(q, x) = |q|^2 - 2 q.x + |x|^2, computed for the whole batch as
	// one matrix product.
	var dots mat.Dense
	dots.Mul(qmat, ix.data.T())

	out := make([][]Neighbor, nq)
	dists := make([]float64, ix.n)
	order := make([]int, ix.n)
	for qi := 0; qi < nq; qi++ {
		row := dots.RawRowView(qi)
		for j := 0; j < ix.n; j++ {
			d := qnorms[qi] - 2*row[j] + ix.norms[j]
			if d < 0 {
				d = 0
			}
			dists[j] = d
		}

		if k == 1 {
			best := 0
			for j := 1; j < ix.n; j++ {
				if distLess(dists[j], dists[best]) {
					best = j
				}
			}
			out[qi] = []Neighbor{{Index: best, Dist: dists[best]}}
			continue
		}

		for j := range order {
			order[j] = j
		}
		sort.Slice(order, func(a, b int) bool {
			ia, ib := order[a], order[b]
			da, db := dists[ia], dists[ib]
			if da == db || (math.IsNaN(da) && math.IsNaN(db)) {
				return ia < ib
			}
			return distLess(da, db)
		})
		hits := make([]Neighbor, k)
		for j := 0; j < k; j++ {
			hits[j] = Neighbor{Index: order[j], Dist: dists[order[j]]}
		}
		out[qi] = hits
	}
	return out, nil
}

// distLess orders distances with NaN sorting after every finite value, so
// a descriptor with a non-finite mean can never win a retrieval.
func distLess(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}
