package pointcloud

import (
	"container/heap"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a result of a nearest neighbor query: the index of the stored descriptor and its
// Euclidean distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// KDTree is a spatial index over fixed-dimension descriptors. It is immutable once built and
// safe for concurrent queries.
type KDTree struct {
	tree *kdtree.Tree
	dim  int
	size int
}

// NewKDTree builds a tree over the given descriptors, which must all have the same dimension.
// The slices are referenced, not copied.
func NewKDTree(descriptors [][]float64) (*KDTree, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("cannot build a kd tree without descriptors")
	}
	dim := len(descriptors[0])
	if dim == 0 {
		return nil, errors.New("descriptors have no dimensions")
	}
	pts := make(indexedPoints, len(descriptors))
	for i, d := range descriptors {
		if len(d) != dim {
			return nil, errors.Errorf("descriptor %d has %d dimensions, expected %d", i, len(d), dim)
		}
		pts[i] = indexedPoint{index: i, vals: d}
	}
	return &KDTree{tree: kdtree.New(pts, false), dim: dim, size: len(descriptors)}, nil
}

// Dim returns the descriptor dimension of the tree.
func (t *KDTree) Dim() int {
	return t.dim
}

// Len returns the number of descriptors in the tree.
func (t *KDTree) Len() int {
	return t.size
}

// Nearest returns the closest descriptor to q whose distance is at most maxDist. Among
// descriptors at the same distance the one with the lowest index wins. The second return is
// false when nothing is within maxDist.
func (t *KDTree) Nearest(q []float64, maxDist float64) (Neighbor, bool) {
	found := t.search(q, 1, maxDist)
	if len(found) == 0 {
		return Neighbor{}, false
	}
	return found[0], true
}

// KNearest returns up to k descriptors closest to q, ordered by distance and then index.
func (t *KDTree) KNearest(q []float64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	return t.search(q, k, math.Inf(1))
}

func (t *KDTree) search(q []float64, k int, maxDist float64) []Neighbor {
	bound := math.Inf(1)
	if maxDist < math.Sqrt(math.MaxFloat64) {
		bound = maxDist * maxDist
	}
	keep := &orderedKeeper{k: k, bound: bound}
	t.tree.NearestSet(keep, indexedPoint{index: -1, vals: q})
	out := make([]Neighbor, 0, len(keep.items))
	for _, c := range keep.items {
		out = append(out, Neighbor{Index: c.Comparable.(indexedPoint).index, Distance: math.Sqrt(c.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// indexedPoint is a kdtree.Comparable that remembers its position in the input.
type indexedPoint struct {
	index int
	vals  []float64
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.vals[d] - c.(indexedPoint).vals[d]
}

func (p indexedPoint) Dims() int {
	return len(p.vals)
}

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	var sum float64
	for i, v := range p.vals {
		diff := v - q.vals[i]
		sum += diff * diff
	}
	return sum
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return indexedPlane{dim: d, points: p}.Pivot()
}
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// indexedPlane sorts points along one dimension so the tree can pick a median pivot.
type indexedPlane struct {
	dim    kdtree.Dim
	points indexedPoints
}

func (p indexedPlane) Len() int { return len(p.points) }
func (p indexedPlane) Less(i, j int) bool {
	return p.points[i].vals[p.dim] < p.points[j].vals[p.dim]
}
func (p indexedPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p indexedPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p indexedPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }

// orderedKeeper is a kdtree.Keeper retaining the k nearest points within a squared distance
// bound, ordering equal distances by index so the result does not depend on the tree shape.
// It is a max heap on (distance, index).
type orderedKeeper struct {
	k     int
	bound float64
	items []kdtree.ComparableDist
}

func after(a, b kdtree.ComparableDist) bool {
	if a.Dist != b.Dist {
		return a.Dist > b.Dist
	}
	return a.Comparable.(indexedPoint).index > b.Comparable.(indexedPoint).index
}

func (k *orderedKeeper) Keep(c kdtree.ComparableDist) {
	if c.Dist > k.bound {
		return
	}
	if len(k.items) < k.k {
		heap.Push(k, c)
		return
	}
	if after(k.items[0], c) {
		k.items[0] = c
		heap.Fix(k, 0)
	}
}

// Max reports the current search radius. Until k points are held that is the bound itself.
// The returned Comparable is only nil when nothing is held, so NearestSet never mistakes a
// kept point for a sentinel.
func (k *orderedKeeper) Max() kdtree.ComparableDist {
	if len(k.items) < k.k {
		var c kdtree.Comparable
		if len(k.items) > 0 {
			c = k.items[0].Comparable
		}
		return kdtree.ComparableDist{Comparable: c, Dist: k.bound}
	}
	return k.items[0]
}

func (k *orderedKeeper) Len() int           { return len(k.items) }
func (k *orderedKeeper) Less(i, j int) bool { return after(k.items[i], k.items[j]) }
func (k *orderedKeeper) Swap(i, j int)      { k.items[i], k.items[j] = k.items[j], k.items[i] }
func (k *orderedKeeper) Push(x interface{}) { k.items = append(k.items, x.(kdtree.ComparableDist)) }
func (k *orderedKeeper) Pop() interface{} {
	last := k.items[len(k.items)-1]
	k.items = k.items[:len(k.items)-1]
	return last
}
