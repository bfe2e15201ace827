package lookup

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is one table row's concentration vector tagged with its row index.
type point struct {
	index  int
	coords []float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(point).coords[d]
}

func (p point) Dims() int { return len(p.coords) }

// Distance is the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	return dist2(p.coords, c.(point).coords)
}

type points []point

func (ps points) Index(i int) kdtree.Comparable         { return ps[i] }
func (ps points) Len() int                              { return len(ps) }
func (ps points) Slice(start, end int) kdtree.Interface { return ps[start:end] }
func (ps points) Pivot(d kdtree.Dim) int                { return plane{points: ps, dim: d}.Pivot() }

// plane orders points along one dimension for median partitioning.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool { return p.points[i].coords[p.dim] < p.points[j].coords[p.dim] }
func (p plane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], dim: p.dim}
}

// KDTree indexes a fixed set of points for nearest-neighbour queries.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTree builds a tree over coords. Reported indices are shifted by offset.
func NewKDTree(coords [][]float64, offset int) *KDTree {
	ps := make(points, len(coords))
	for i, c := range coords {
		ps[i] = point{index: offset + i, coords: c}
	}
	t := &KDTree{n: len(ps)}
	if len(ps) > 0 {
		t.tree = kdtree.New(ps, false)
	}
	return t
}

func (t *KDTree) Len() int { return t.n }

// Nearest returns the index and Euclidean distance of the closest point.
func (t *KDTree) Nearest(q []float64) (int, float64) {
	if t.tree == nil {
		return -1, math.Inf(1)
	}
	got, d2 := t.tree.Nearest(point{index: -1, coords: q})
	if got == nil {
		return -1, math.Inf(1)
	}
	return got.(point).index, math.Sqrt(d2)
}

func dist2(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// Forest splits a table into contiguous partitions, one tree each.
type Forest struct {
	trees []*KDTree
}

func NewForest(coords [][]float64, partitions int) *Forest {
	if partitions < 1 {
		partitions = 1
	}
	if partitions > len(coords) && len(coords) > 0 {
		partitions = len(coords)
	}
	f := &Forest{}
	size := (len(coords) + partitions - 1) / partitions
	for start := 0; start < len(coords); start += size {
		end := start + size
		if end > len(coords) {
			end = len(coords)
		}
		f.trees = append(f.trees, NewKDTree(coords[start:end], start))
	}
	return f
}

func (f *Forest) Trees() int { return len(f.trees) }

// Nearest scans every tree in order. A later tree only wins with a strictly
// smaller distance.
func (f *Forest) Nearest(q []float64) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for _, t := range f.trees {
		i, d := t.Nearest(q)
		if i >= 0 && d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}
