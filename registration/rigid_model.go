package registration

import (
	"github.com/golang/geo/r3"

	"go.viam.com/cloudfit/ransac"
	"go.viam.com/cloudfit/spatialmath"
	"go.viam.com/cloudfit/utils"
)

// RigidModelSampleSize is the minimal number of point pairs fixing a rigid transform.
const RigidModelSampleSize = 3

// RigidModel is a ransac model of the rigid transform mapping Source[i] onto Destination[i] for
// putative pairs, some of which may be wrong. Its residual is the distance between a mapped
// source point and its destination.
type RigidModel struct {
	Source      []r3.Vector
	Destination []r3.Vector
}

var _ ransac.Model[spatialmath.RigidTransform] = (*RigidModel)(nil)

// NewRigidModel returns a model over the given pairs.
func NewRigidModel(src, dst []r3.Vector) (*RigidModel, error) {
	if len(src) != len(dst) {
		return nil, utils.NewDimensionMismatchError("destination points", len(src), len(dst))
	}
	return &RigidModel{Source: src, Destination: dst}, nil
}

// DataCount returns the number of pairs.
func (m *RigidModel) DataCount() int {
	return len(m.Source)
}

// EstimateParameters solves for the transform best aligning the sampled pairs.
func (m *RigidModel) EstimateParameters(sample []int) (spatialmath.RigidTransform, bool) {
	src := make([]r3.Vector, len(sample))
	dst := make([]r3.Vector, len(sample))
	for i, idx := range sample {
		src[i], dst[i] = m.Source[idx], m.Destination[idx]
	}
	return SolvePointToPoint(src, dst, nil)
}

// ComputeResiduals returns the alignment error of every pair.
func (m *RigidModel) ComputeResiduals(tf spatialmath.RigidTransform) []float64 {
	out := make([]float64, len(m.Source))
	for i, p := range m.Source {
		out[i] = tf.Apply(p).Sub(m.Destination[i]).Norm()
	}
	return out
}
