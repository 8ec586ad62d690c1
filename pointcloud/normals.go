package pointcloud

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudfit/utils"
)

// EstimateNormals fits a plane to the k nearest neighbors of every point and returns the plane
// normals, oriented towards viewpoint. Points whose neighborhood is degenerate get a zero normal.
func EstimateNormals(ctx context.Context, cloud PointCloud, k int, viewpoint r3.Vector) ([]r3.Vector, error) {
	if err := Validate(cloud); err != nil {
		return nil, err
	}
	if k < 3 {
		return nil, errors.Errorf("need at least 3 neighbors to estimate a normal, got %d", k)
	}
	points := cloud.Points()
	layout := DescriptorLayout{Points: true, PointWeight: 1}
	tree, err := NewKDTree(layout.Descriptors(cloud))
	if err != nil {
		return nil, err
	}

	normals := make([]r3.Vector, len(points))
	err = utils.GroupWorkParallel(
		ctx,
		len(points),
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			q := make([]float64, 3)
			return func(memberNum, workNum int) {
				p := points[workNum]
				q[0], q[1], q[2] = p.X, p.Y, p.Z
				neighbors := tree.KNearest(q, k)
				nbrs := make([]r3.Vector, len(neighbors))
				for i, nb := range neighbors {
					nbrs[i] = points[nb.Index]
				}
				n, ok := FitNormal(nbrs)
				if !ok {
					return
				}
				if n.Dot(viewpoint.Sub(p)) < 0 {
					n = n.Mul(-1)
				}
				normals[workNum] = n
			}, nil
		})
	if err != nil {
		return nil, err
	}
	return normals, nil
}

// FitNormal returns the unit normal of the least squares plane through pts, which is the
// eigenvector of the smallest eigenvalue of their covariance.
func FitNormal(pts []r3.Vector) (r3.Vector, bool) {
	if len(pts) < 3 {
		return r3.Vector{}, false
	}
	var centroid r3.Vector
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	cov := mat.NewSymDense(3, nil)
	for _, p := range pts {
		d := p.Sub(centroid)
		v := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+v[i]*v[j])
			}
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(cov, true); !ok {
		return r3.Vector{}, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	n := r3.Vector{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	norm := n.Norm()
	if norm == 0 {
		return r3.Vector{}, false
	}
	return n.Mul(1 / norm), true
}
