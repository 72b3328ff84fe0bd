package assign

import "gonum.org/v1/gonum/spatial/kdtree"

// indexedPoint is a 2D keypoint that remembers its position in the image's
// keypoint list, so tree hits can be mapped back to descriptors.
type indexedPoint struct {
	x, y float64
	idx  int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.x - q.x
	default:
		return p.y - q.y
	}
}

func (p indexedPoint) Dims() int { return 2 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }

func (p indexedPoints) Len() int { return len(p) }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, Dim: d}.Pivot()
}

func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane is a helper that sorts indexedPoints along a dimension.
type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].x < p.indexedPoints[j].x
	default:
		return p.indexedPoints[i].y < p.indexedPoints[j].y
	}
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.indexedPoints = p.indexedPoints[start:end]
	return p
}

func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
