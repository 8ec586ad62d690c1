package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// Plane is a set of points lying on the plane a*x + b*y + c*z + d = 0.
type Plane struct {
	pointcloud PointCloud
	equation   [4]float64
	center     r3.Vector
}

// NewEmptyPlane initializes an empty plane object.
func NewEmptyPlane() *Plane {
	return &Plane{NewFromPoints(nil), [4]float64{}, r3.Vector{}}
}

// NewPlane creates a new plane object from a point cloud. The cloud may be nil.
func NewPlane(cloud PointCloud, eq [4]float64) *Plane {
	if cloud == nil {
		cloud = NewFromPoints(nil)
	}
	meta := NewMetaData()
	for _, p := range cloud.Points() {
		meta.Merge(p)
	}
	return &Plane{cloud, eq, meta.Center()}
}

// PointCloud returns the underlying point cloud of the plane.
func (p *Plane) PointCloud() PointCloud {
	return p.pointcloud
}

// Normal return the normal vector perpendicular to the plane.
func (p *Plane) Normal() r3.Vector {
	return r3.Vector{X: p.equation[0], Y: p.equation[1], Z: p.equation[2]}
}

// Center returns the centroid of the plane's points.
func (p *Plane) Center() r3.Vector {
	return p.center
}

// Offset returns the d term of the plane equation.
func (p *Plane) Offset() float64 {
	return p.equation[3]
}

// Equation returns the plane equation [0]x + [1]y + [2]z + [3] = 0.
func (p *Plane) Equation() [4]float64 {
	return p.equation
}

// Distance calculates the signed distance from the plane to the given point.
func (p *Plane) Distance(pt r3.Vector) float64 {
	norm := p.Normal().Norm()
	if norm == 0 {
		return 0
	}
	return (p.Normal().Dot(pt) + p.equation[3]) / norm
}

// Intersect calculates the intersection point of the plane and the line through p0 and p1.
// It returns nil when the line is parallel to the plane.
func (p *Plane) Intersect(p0, p1 r3.Vector) *r3.Vector {
	line := p1.Sub(p0)
	denom := p.Normal().Dot(line)
	if math.Abs(denom) < 1e-12 {
		return nil
	}
	t := -(p.Normal().Dot(p0) + p.equation[3]) / denom
	result := p0.Add(line.Mul(t))
	return &result
}
