package recon

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// FilterOutliers removes isolated 3D points: a point survives only when
// at least minNeighbors points of the map (itself included) lie within
// radius of it. Large outdoor reconstructions carry stray triangulations
// far off the trajectory; dropping them shrinks the codebook without
// losing localizable structure.
func FilterOutliers(points map[int64]r3.Vector, radius float64, minNeighbors int) (map[int64]r3.Vector, int) {
	if radius <= 0 || minNeighbors <= 1 || len(points) == 0 {
		return points, 0
	}

	ids := make([]int64, 0, len(points))
	for id := range points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cloud := make(spacePoints, len(ids))
	for i, id := range ids {
		p := points[id]
		cloud[i] = spacePoint{x: p.X, y: p.Y, z: p.Z, id: id}
	}
	tree := kdtree.New(cloud, false)

	rsq := radius * radius
	kept := make(map[int64]r3.Vector, len(points))
	removed := 0
	for _, id := range ids {
		p := points[id]
		keep := kdtree.NewDistKeeper(rsq)
		tree.NearestSet(keep, spacePoint{x: p.X, y: p.Y, z: p.Z, id: -1})
		n := 0
		for _, c := range keep.Heap {
			if c.Comparable != nil {
				n++
			}
		}
		if n >= minNeighbors {
			kept[id] = p
		} else {
			removed++
		}
	}
	return kept, removed
}

// DropMissingObservations strips observations that refer to points no
// longer present, returning how many were removed.
func DropMissingObservations(records []Record, points map[int64]r3.Vector) int {
	dropped := 0
	for i := range records {
		obs := records[i].Points[:0]
		for _, o := range records[i].Points {
			if _, ok := points[o.PointID]; ok {
				obs = append(obs, o)
			} else {
				dropped++
			}
		}
		records[i].Points = obs
	}
	return dropped
}

// spacePoint is a 3D map point in the outlier filter's k-d tree.
type spacePoint struct {
	x, y, z float64
	id      int64
}

func (p spacePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(spacePoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		return p.z - q.z
	}
}

func (p spacePoint) Dims() int { return 3 }

func (p spacePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(spacePoint)
	dx := p.x - q.x
	dy := p.y - q.y
	dz := p.z - q.z
	return dx*dx + dy*dy + dz*dz
}

type spacePoints []spacePoint

func (p spacePoints) Index(i int) kdtree.Comparable { return p[i] }

func (p spacePoints) Len() int { return len(p) }

func (p spacePoints) Pivot(d kdtree.Dim) int {
	return spacePlane{spacePoints: p, Dim: d}.Pivot()
}

func (p spacePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type spacePlane struct {
	spacePoints
	kdtree.Dim
}

func (p spacePlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.spacePoints[i].x < p.spacePoints[j].x
	case 1:
		return p.spacePoints[i].y < p.spacePoints[j].y
	default:
		return p.spacePoints[i].z < p.spacePoints[j].z
	}
}

func (p spacePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p spacePlane) Slice(start, end int) kdtree.SortSlicer {
	p.spacePoints = p.spacePoints[start:end]
	return p
}

func (p spacePlane) Swap(i, j int) {
	p.spacePoints[i], p.spacePoints[j] = p.spacePoints[j], p.spacePoints[i]
}
