package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*i+j] represents the ith row and jth column of the matrix.
// Not every RotationMatrix is a proper rotation; use Orthonormalize to project onto SO(3).
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates the rotation matrix from a slice of 9 values in row major order.
func NewRotationMatrix(m []float64) (RotationMatrix, error) {
	if len(m) != 9 {
		return RotationMatrix{}, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var rm RotationMatrix
	copy(rm.mat[:], m)
	return rm, nil
}

// NewIdentityRotation returns the identity rotation.
func NewIdentityRotation() RotationMatrix {
	return RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// RotationMatrixFromDense copies the upper left 3x3 block of m.
func RotationMatrixFromDense(m mat.Matrix) (RotationMatrix, error) {
	r, c := m.Dims()
	if r < 3 || c < 3 {
		return RotationMatrix{}, errors.Errorf("matrix is %dx%d, need at least 3x3", r, c)
	}
	var rm RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm.mat[3*i+j] = m.At(i, j)
		}
	}
	return rm, nil
}

// At returns the float corresponding to the element at the specified location.
func (rm RotationMatrix) At(row, col int) float64 {
	return rm.mat[3*row+col]
}

// Row returns the a 3 element vector corresponding to the specified row.
func (rm RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the a 3 element vector corresponding to the specified col.
func (rm RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Raw returns a copy of the row major values.
func (rm RotationMatrix) Raw() []float64 {
	out := make([]float64, 9)
	copy(out, rm.mat[:])
	return out
}

// Mul returns the product of the matrix and the column vector v.
func (rm RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[1]*v.Y + rm.mat[2]*v.Z,
		Y: rm.mat[3]*v.X + rm.mat[4]*v.Y + rm.mat[5]*v.Z,
		Z: rm.mat[6]*v.X + rm.mat[7]*v.Y + rm.mat[8]*v.Z,
	}
}

// MulMatrix returns rm * other.
func (rm RotationMatrix) MulMatrix(other RotationMatrix) RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rm.mat[3*i+k] * other.mat[3*k+j]
			}
			out.mat[3*i+j] = sum
		}
	}
	return out
}

// Transpose returns the transpose, which is the inverse of a proper rotation.
func (rm RotationMatrix) Transpose() RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.mat[3*j+i] = rm.mat[3*i+j]
		}
	}
	return out
}

// Det returns the determinant.
func (rm RotationMatrix) Det() float64 {
	m := rm.mat
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// OrthonormalityError returns the largest absolute entry of RᵗR - I.
func (rm RotationMatrix) OrthonormalityError() float64 {
	prod := rm.Transpose().MulMatrix(rm)
	identity := NewIdentityRotation()
	var worst float64
	for i := range prod.mat {
		worst = math.Max(worst, math.Abs(prod.mat[i]-identity.mat[i]))
	}
	return worst
}

// IsProperRotation reports whether RᵗR ≈ I and det(R) ≈ +1 within tol.
func (rm RotationMatrix) IsProperRotation(tol float64) bool {
	return rm.OrthonormalityError() <= tol && math.Abs(rm.Det()-1) <= tol
}

// Orthonormalize returns the closest proper rotation in the Frobenius sense,
// computed as U·diag(1, 1, det(UVᵗ))·Vᵗ from the SVD of the matrix.
func (rm RotationMatrix) Orthonormalize() RotationMatrix {
	var svd mat.SVD
	if ok := svd.Factorize(rm.Dense(), mat.SVDFull); !ok {
		return NewIdentityRotation()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	if mat.Det(&uvt) < 0 {
		d.SetDiag(2, -1)
	}
	var out mat.Dense
	out.Mul(&u, d)
	out.Mul(&out, v.T())
	//nolint:errcheck
	rot, _ := RotationMatrixFromDense(&out)
	return rot
}

// Dense returns the matrix as a gonum dense matrix.
func (rm RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, rm.Raw())
}

// Angle returns the magnitude in radians of the rotation.
func (rm RotationMatrix) Angle() float64 {
	m := rm.mat
	cos := (m[0] + m[4] + m[8] - 1) / 2
	sin := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}.Norm() / 2
	return math.Atan2(sin, cos)
}

// Quaternion returns the unit quaternion of a proper rotation.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/
func (rm RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	var q quat.Number
	tr := m[0] + m[4] + m[8]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1.0) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1.0+m[0]-m[4]-m[8]) * 2
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: 0.25 * s, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1.0+m[4]-m[0]-m[8]) * 2
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: 0.25 * s, Kmag: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1.0+m[8]-m[0]-m[4]) * 2
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: 0.25 * s}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// QuatToRotationMatrix converts a unit quaternion to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) RotationMatrix {
	n := quat.Abs(q)
	if n == 0 {
		return NewIdentityRotation()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}
