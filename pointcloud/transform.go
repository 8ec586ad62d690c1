package pointcloud

import (
	"github.com/golang/geo/r3"

	"go.viam.com/cloudfit/spatialmath"
)

// Transform returns a new cloud with tf applied to every point and its rotation applied to
// every normal. Colors are shared with the input.
func Transform(cloud PointCloud, tf spatialmath.RigidTransform) *Cloud {
	points := make([]r3.Vector, len(cloud.Points()))
	for i, p := range cloud.Points() {
		points[i] = tf.Apply(p)
	}
	var normals []r3.Vector
	if cloud.HasNormals() {
		normals = make([]r3.Vector, len(cloud.Normals()))
		for i, n := range cloud.Normals() {
			normals[i] = tf.Rotate(n)
		}
	}
	//nolint:errcheck
	out, _ := New(points, normals, cloud.Colors())
	return out
}
