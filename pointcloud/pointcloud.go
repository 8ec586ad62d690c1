// Package pointcloud defines the point cloud data provider used by the estimation engines,
// along with composite descriptors, a k-d tree spatial index, normal estimation and file formats.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/cloudfit/utils"
)

// PointCloud is a read-only view over parallel arrays of positions, normals and colors.
// Normals and colors are optional; when present they have one entry per point. Callers
// own the arrays and must not mutate them while an engine is using the cloud.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// Points returns the positions.
	Points() []r3.Vector

	// Normals returns the normals, or nil when HasNormals is false.
	Normals() []r3.Vector

	// Colors returns the colors as RGB in [0, 1], or nil when HasColors is false.
	Colors() []r3.Vector

	HasNormals() bool
	HasColors() bool
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasNormals bool
	HasColors  bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds to include v.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
	meta.count++
}

// Center returns the centroid of the merged points.
func (meta *MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	n := float64(meta.count)
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// Extent returns the diagonal length of the bounding box.
func (meta *MetaData) Extent() float64 {
	if meta.count == 0 {
		return 0
	}
	return r3.Vector{X: meta.MaxX - meta.MinX, Y: meta.MaxY - meta.MinY, Z: meta.MaxZ - meta.MinZ}.Norm()
}

// Cloud is the basic PointCloud implementation. It holds the slices it is given without copying.
type Cloud struct {
	points  []r3.Vector
	normals []r3.Vector
	colors  []r3.Vector
	meta    MetaData
}

var _ = PointCloud(&Cloud{})

// New returns a cloud over the given arrays. normals and colors may be nil, otherwise they must
// have exactly one entry per point.
func New(points, normals, colors []r3.Vector) (*Cloud, error) {
	if len(normals) != 0 && len(normals) != len(points) {
		return nil, utils.NewDimensionMismatchError("normals", len(points), len(normals))
	}
	if len(colors) != 0 && len(colors) != len(points) {
		return nil, utils.NewDimensionMismatchError("colors", len(points), len(colors))
	}
	meta := NewMetaData()
	for _, p := range points {
		meta.Merge(p)
	}
	if len(normals) == 0 {
		normals = nil
	}
	if len(colors) == 0 {
		colors = nil
	}
	meta.HasNormals = normals != nil
	meta.HasColors = colors != nil
	return &Cloud{points: points, normals: normals, colors: colors, meta: meta}, nil
}

// NewFromPoints returns a cloud with positions only.
func NewFromPoints(points []r3.Vector) *Cloud {
	//nolint:errcheck
	cloud, _ := New(points, nil, nil)
	return cloud
}

// Size returns the number of points in the cloud.
func (c *Cloud) Size() int {
	return len(c.points)
}

// Points returns the positions.
func (c *Cloud) Points() []r3.Vector {
	return c.points
}

// Normals returns the normals, or nil.
func (c *Cloud) Normals() []r3.Vector {
	return c.normals
}

// Colors returns the colors, or nil.
func (c *Cloud) Colors() []r3.Vector {
	return c.colors
}

// HasNormals reports whether the cloud carries normals.
func (c *Cloud) HasNormals() bool {
	return c.normals != nil
}

// HasColors reports whether the cloud carries colors.
func (c *Cloud) HasColors() bool {
	return c.colors != nil
}

// MetaData returns the bounds of the cloud.
func (c *Cloud) MetaData() MetaData {
	return c.meta
}

// WithNormals returns a cloud sharing this cloud's points and colors with the given normals.
func (c *Cloud) WithNormals(normals []r3.Vector) (*Cloud, error) {
	return New(c.points, normals, c.colors)
}

// Subset returns a new cloud holding copies of the entries at the given indices.
func Subset(cloud PointCloud, indices []int) *Cloud {
	points := make([]r3.Vector, 0, len(indices))
	var normals, colors []r3.Vector
	if cloud.HasNormals() {
		normals = make([]r3.Vector, 0, len(indices))
	}
	if cloud.HasColors() {
		colors = make([]r3.Vector, 0, len(indices))
	}
	for _, i := range indices {
		points = append(points, cloud.Points()[i])
		if normals != nil {
			normals = append(normals, cloud.Normals()[i])
		}
		if colors != nil {
			colors = append(colors, cloud.Colors()[i])
		}
	}
	//nolint:errcheck
	out, _ := New(points, normals, colors)
	return out
}

// Validate checks that a PointCloud is non-empty and that its optional arrays line up with its points.
func Validate(cloud PointCloud) error {
	if cloud == nil {
		return errors.New("point cloud is nil")
	}
	n := len(cloud.Points())
	if n == 0 {
		return errors.New("point cloud is empty")
	}
	if cloud.Size() != n {
		return utils.NewDimensionMismatchError("points", cloud.Size(), n)
	}
	if cloud.HasNormals() && len(cloud.Normals()) != n {
		return utils.NewDimensionMismatchError("normals", n, len(cloud.Normals()))
	}
	if cloud.HasColors() && len(cloud.Colors()) != n {
		return utils.NewDimensionMismatchError("colors", n, len(cloud.Colors()))
	}
	return nil
}
