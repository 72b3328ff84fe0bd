package codebook

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Builder accumulates descriptor observations per point id. Sums and
// counts live in a single dense arena; point ids receive dense indices in
// first-seen order, which makes the final index<->id mapping reproducible
// for a fixed input order.
type Builder struct {
	dim    int
	prec   Precision
	index  map[int64]int
	ids    []int64
	sums   []float64
	counts []int64
}

// NewBuilder creates a builder for descriptors of the given dimension.
func NewBuilder(dim int, prec Precision) *Builder {
	return &Builder{
		dim:   dim,
		prec:  prec,
		index: make(map[int64]int),
	}
}

// Add accumulates one descriptor observation for a point.
func (b *Builder) Add(pointID int64, desc []float64) error {
	if len(desc) != b.dim {
		return errors.Errorf("descriptor for point %d has dim %d, builder expects %d", pointID, len(desc), b.dim)
	}
	slot, ok := b.index[pointID]
	if !ok {
		slot = len(b.ids)
		b.index[pointID] = slot
		b.ids = append(b.ids, pointID)
		b.sums = append(b.sums, make([]float64, b.dim)...)
		b.counts = append(b.counts, 0)
	}
	row := b.sums[slot*b.dim : (slot+1)*b.dim]
	for i, v := range desc {
		row[i] += v
	}
	b.counts[slot]++
	return nil
}

// Merge folds another builder's sums into this one. Point ids unseen so
// far are appended in the other builder's first-seen order, so merging a
// fixed sequence of partial builders is deterministic.
func (b *Builder) Merge(o *Builder) error {
	if o.dim != b.dim {
		return errors.Errorf("cannot merge builder of dim %d into dim %d", o.dim, b.dim)
	}
	for oslot, id := range o.ids {
		slot, ok := b.index[id]
		if !ok {
			slot = len(b.ids)
			b.index[id] = slot
			b.ids = append(b.ids, id)
			b.sums = append(b.sums, make([]float64, b.dim)...)
			b.counts = append(b.counts, 0)
		}
		row := b.sums[slot*b.dim : (slot+1)*b.dim]
		orow := o.sums[oslot*b.dim : (oslot+1)*b.dim]
		for i, v := range orow {
			row[i] += v
		}
		b.counts[slot] += o.counts[oslot]
	}
	return nil
}

// Len returns the number of distinct points observed so far.
func (b *Builder) Len() int { return len(b.ids) }

// Observations returns the total number of accumulated observations.
func (b *Builder) Observations() int64 {
	var n int64
	for _, c := range b.counts {
		n += c
	}
	return n
}

// Finalize divides sums by counts and produces the read-only codebook.
// Means are quantized to the builder's target precision. Entries whose
// mean came out non-finite are kept and logged, never dropped, so the
// index<->id bijection only depends on the input order.
func (b *Builder) Finalize(log logrus.FieldLogger) *Codebook {
	ids := make([]int64, len(b.ids))
	copy(ids, b.ids)
	counts := make([]int64, len(b.counts))
	copy(counts, b.counts)

	vectors := make([][]float64, len(ids))
	for slot := range ids {
		row := b.sums[slot*b.dim : (slot+1)*b.dim]
		mean := make([]float64, b.dim)
		n := float64(b.counts[slot])
		for i, v := range row {
			mean[i] = b.prec.Quantize(v / n)
		}
		vectors[slot] = mean
	}

	cb := newCodebook(b.dim, b.prec, ids, vectors, counts)
	if log != nil {
		if bad := cb.NonFinite(); len(bad) > 0 {
			log.WithFields(logrus.Fields{
				"points": len(bad),
				"first":  bad[0],
			}).Warn("codebook contains non-finite mean descriptors")
		}
	}
	return cb
}
