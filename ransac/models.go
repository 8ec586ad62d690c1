package ransac

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudfit/pointcloud"
)

// Line is the 2D line A·x + B·y + C = 0 with (A, B) of unit length.
type Line struct {
	A, B, C float64
}

// Distance returns the unsigned distance from p to the line.
func (l Line) Distance(p r2.Point) float64 {
	return math.Abs(l.A*p.X + l.B*p.Y + l.C)
}

// LineModel fits 2D lines. Two points define a line; larger samples are fit by total least
// squares.
type LineModel struct {
	Points []r2.Point
}

// DataCount returns the number of points.
func (m *LineModel) DataCount() int {
	return len(m.Points)
}

// EstimateParameters fits a line to the sampled points.
func (m *LineModel) EstimateParameters(sample []int) (Line, bool) {
	if len(sample) < 2 {
		return Line{}, false
	}
	pts := lo.Map(sample, func(i, _ int) r2.Point { return m.Points[i] })
	if len(pts) == 2 {
		dir := pts[1].Sub(pts[0])
		if dir.Norm() == 0 {
			return Line{}, false
		}
		n := dir.Ortho().Normalize()
		return Line{A: n.X, B: n.Y, C: -n.Dot(pts[0])}, true
	}

	var center r2.Point
	for _, p := range pts {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(pts)))
	var sxx, sxy, syy float64
	for _, p := range pts {
		d := p.Sub(center)
		sxx += d.X * d.X
		sxy += d.X * d.Y
		syy += d.Y * d.Y
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy}), true); !ok {
		return Line{}, false
	}
	values := eig.Values(nil)
	if values[1] <= 0 {
		// all points coincide
		return Line{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := r2.Point{X: vecs.At(0, 0), Y: vecs.At(1, 0)}.Normalize()
	return Line{A: n.X, B: n.Y, C: -n.Dot(center)}, true
}

// ComputeResiduals returns the distance of every point to the line.
func (m *LineModel) ComputeResiduals(l Line) []float64 {
	return lo.Map(m.Points, func(p r2.Point, _ int) float64 { return l.Distance(p) })
}

// PlaneModel fits 3D planes. Three points define a plane; larger samples are fit by least
// squares through their centroid.
type PlaneModel struct {
	Points []r3.Vector
}

// NewPlaneModel returns a plane model over the positions of cloud.
func NewPlaneModel(cloud pointcloud.PointCloud) *PlaneModel {
	return &PlaneModel{Points: cloud.Points()}
}

// DataCount returns the number of points.
func (m *PlaneModel) DataCount() int {
	return len(m.Points)
}

// EstimateParameters fits a plane to the sampled points, returned as the equation
// a·x + b·y + c·z + d = 0 with a unit normal (a, b, c).
func (m *PlaneModel) EstimateParameters(sample []int) ([4]float64, bool) {
	if len(sample) < 3 {
		return [4]float64{}, false
	}
	pts := lo.Map(sample, func(i, _ int) r3.Vector { return m.Points[i] })
	var normal, through r3.Vector
	if len(pts) == 3 {
		through = pts[0]
		normal = pts[1].Sub(pts[0]).Cross(pts[2].Sub(pts[0]))
		if normal.Norm() < 1e-12 {
			return [4]float64{}, false
		}
		normal = normal.Normalize()
	} else {
		var ok bool
		if normal, ok = pointcloud.FitNormal(pts); !ok {
			return [4]float64{}, false
		}
		for _, p := range pts {
			through = through.Add(p)
		}
		through = through.Mul(1 / float64(len(pts)))
	}
	return [4]float64{normal.X, normal.Y, normal.Z, -normal.Dot(through)}, true
}

// ComputeResiduals returns the distance of every point to the plane.
func (m *PlaneModel) ComputeResiduals(eq [4]float64) []float64 {
	return lo.Map(m.Points, func(p r3.Vector, _ int) float64 {
		return math.Abs(eq[0]*p.X + eq[1]*p.Y + eq[2]*p.Z + eq[3])
	})
}
