package pointcloud

import (
	"github.com/golang/geo/r3"
)

// DescriptorLayout says which channels make up a composite descriptor and how each one is
// scaled. A descriptor is the concatenation [w_p·p, w_n·n, w_c·c] of the participating channels,
// so it has 3, 6 or 9 dimensions. Layouts are comparable and two equal layouts produce
// identical descriptors for the same cloud.
type DescriptorLayout struct {
	Points  bool
	Normals bool
	Colors  bool

	PointWeight  float64
	NormalWeight float64
	ColorWeight  float64
}

// Dim returns the number of dimensions of a descriptor.
func (l DescriptorLayout) Dim() int {
	dim := 0
	if l.Points {
		dim += 3
	}
	if l.Normals {
		dim += 3
	}
	if l.Colors {
		dim += 3
	}
	return dim
}

// Describe writes the descriptor of one point into out, which must have length Dim().
func (l DescriptorLayout) Describe(p, n, c r3.Vector, out []float64) {
	i := 0
	put := func(v r3.Vector, w float64) {
		out[i], out[i+1], out[i+2] = w*v.X, w*v.Y, w*v.Z
		i += 3
	}
	if l.Points {
		put(p, l.PointWeight)
	}
	if l.Normals {
		put(n, l.NormalWeight)
	}
	if l.Colors {
		put(c, l.ColorWeight)
	}
}

// Descriptors returns the descriptor of every point of the cloud. Channels the cloud lacks are
// filled with zeros.
func (l DescriptorLayout) Descriptors(cloud PointCloud) [][]float64 {
	points := cloud.Points()
	normals, colors := cloud.Normals(), cloud.Colors()
	dim := l.Dim()
	backing := make([]float64, dim*len(points))
	out := make([][]float64, len(points))
	for i, p := range points {
		var n, c r3.Vector
		if normals != nil {
			n = normals[i]
		}
		if colors != nil {
			c = colors[i]
		}
		out[i] = backing[i*dim : (i+1)*dim : (i+1)*dim]
		l.Describe(p, n, c, out[i])
	}
	return out
}
