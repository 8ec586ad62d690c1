package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RigidTransform is a rotation followed by a translation: p' = R·p + t.
type RigidTransform struct {
	Rotation    RotationMatrix
	Translation r3.Vector
}

// NewIdentityTransform returns the transform that leaves points unchanged.
func NewIdentityTransform() RigidTransform {
	return RigidTransform{Rotation: NewIdentityRotation()}
}

// NewRigidTransform returns a transform whose rotation has been projected onto SO(3).
func NewRigidTransform(rot RotationMatrix, t r3.Vector) RigidTransform {
	return RigidTransform{Rotation: rot.Orthonormalize(), Translation: t}
}

// RigidTransformFromDense reads a 4x4 homogeneous or 3x4 matrix.
func RigidTransformFromDense(m mat.Matrix) (RigidTransform, error) {
	r, c := m.Dims()
	if (r != 3 && r != 4) || c != 4 {
		return RigidTransform{}, errors.Errorf("transform matrix must be 3x4 or 4x4, got %dx%d", r, c)
	}
	rot, err := RotationMatrixFromDense(m)
	if err != nil {
		return RigidTransform{}, err
	}
	return NewRigidTransform(rot, r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}), nil
}

// Apply maps p through the transform.
func (tf RigidTransform) Apply(p r3.Vector) r3.Vector {
	return tf.Rotation.Mul(p).Add(tf.Translation)
}

// Rotate applies only the rotational part, as needed for normals and directions.
func (tf RigidTransform) Rotate(v r3.Vector) r3.Vector {
	return tf.Rotation.Mul(v)
}

// Compose returns the transform equivalent to applying inner first and then tf.
func (tf RigidTransform) Compose(inner RigidTransform) RigidTransform {
	return RigidTransform{
		Rotation:    tf.Rotation.MulMatrix(inner.Rotation),
		Translation: tf.Rotation.Mul(inner.Translation).Add(tf.Translation),
	}
}

// Inverse returns the inverse transform.
func (tf RigidTransform) Inverse() RigidTransform {
	rt := tf.Rotation.Transpose()
	return RigidTransform{Rotation: rt, Translation: rt.Mul(tf.Translation).Mul(-1)}
}

// Dense returns the 4x4 homogeneous matrix.
func (tf RigidTransform) Dense() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, tf.Rotation.At(i, j))
		}
	}
	m.Set(0, 3, tf.Translation.X)
	m.Set(1, 3, tf.Translation.Y)
	m.Set(2, 3, tf.Translation.Z)
	m.Set(3, 3, 1)
	return m
}

// TransformAlmostEqual reports whether every rotation and translation entry differs by at most tol.
func TransformAlmostEqual(a, b RigidTransform, tol float64) bool {
	for i := range a.Rotation.mat {
		if math.Abs(a.Rotation.mat[i]-b.Rotation.mat[i]) > tol {
			return false
		}
	}
	return a.Translation.Sub(b.Translation).Norm() <= tol
}
