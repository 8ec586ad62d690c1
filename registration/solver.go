package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudfit/spatialmath"
)

// minSolvePairs is the fewest point pairs that pin down a rigid transform.
const minSolvePairs = 3

// SolvePointToPoint returns the rigid transform minimizing Σ wᵢ‖R·srcᵢ + t − dstᵢ‖², computed in
// closed form from the SVD of the weighted cross covariance. A nil weights slice weighs every pair
// by 1. The second return is false when there are too few pairs or no positive weight.
func SolvePointToPoint(src, dst []r3.Vector, weights []float64) (spatialmath.RigidTransform, bool) {
	if len(src) != len(dst) || len(src) < minSolvePairs || (weights != nil && len(weights) != len(src)) {
		return spatialmath.NewIdentityTransform(), false
	}
	weight := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i]
	}

	var total float64
	var srcCenter, dstCenter r3.Vector
	for i := range src {
		w := weight(i)
		total += w
		srcCenter = srcCenter.Add(src[i].Mul(w))
		dstCenter = dstCenter.Add(dst[i].Mul(w))
	}
	if !(total > 0) {
		return spatialmath.NewIdentityTransform(), false
	}
	srcCenter = srcCenter.Mul(1 / total)
	dstCenter = dstCenter.Mul(1 / total)

	cov := make([]float64, 9)
	for i := range src {
		w := weight(i)
		a, b := src[i].Sub(srcCenter), dst[i].Sub(dstCenter)
		av, bv := [3]float64{a.X, a.Y, a.Z}, [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov[3*r+c] += w * av[r] * bv[c]
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(3, 3, cov), mat.SVDFull); !ok {
		return spatialmath.NewIdentityTransform(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·diag(1, 1, d)·Uᵗ with d fixing a reflection
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vut) < 0 {
		d.SetDiag(2, -1)
	}
	var r mat.Dense
	r.Mul(&v, d)
	r.Mul(&r, u.T())
	rot, err := spatialmath.RotationMatrixFromDense(&r)
	if err != nil {
		return spatialmath.NewIdentityTransform(), false
	}
	return spatialmath.RigidTransform{Rotation: rot, Translation: dstCenter.Sub(rot.Mul(srcCenter))}, true
}

// SolvePointToPlane takes one Gauss-Newton step on
//
//	Σ pointWeight·‖R·srcᵢ + t − dstᵢ‖² + planeWeight·((R·srcᵢ + t − dstᵢ)·normalsᵢ)²
//
// linearizing the rotation around identity, and returns the resulting transform. With a zero
// point weight this is the classic point to plane step. The second return is false when the
// pairs do not constrain all six degrees of freedom.
func SolvePointToPlane(src, dst, normals []r3.Vector, pointWeight, planeWeight float64) (spatialmath.RigidTransform, bool) {
	if len(src) != len(dst) || len(src) != len(normals) || len(src) < minSolvePairs {
		return spatialmath.NewIdentityTransform(), false
	}

	var ata [36]float64
	var atb [6]float64
	addRow := func(j [6]float64, residual, w float64) {
		for r := 0; r < 6; r++ {
			for c := r; c < 6; c++ {
				ata[6*r+c] += w * j[r] * j[c]
			}
			atb[r] -= w * j[r] * residual
		}
	}
	axes := [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	for i, s := range src {
		diff := s.Sub(dst[i])
		if planeWeight != 0 {
			n := normals[i]
			sn := s.Cross(n)
			addRow([6]float64{sn.X, sn.Y, sn.Z, n.X, n.Y, n.Z}, diff.Dot(n), planeWeight)
		}
		if pointWeight != 0 {
			for _, e := range axes {
				se := s.Cross(e)
				addRow([6]float64{se.X, se.Y, se.Z, e.X, e.Y, e.Z}, diff.Dot(e), pointWeight)
			}
		}
	}
	for r := 0; r < 6; r++ {
		for c := 0; c < r; c++ {
			ata[6*r+c] = ata[6*c+r]
		}
	}

	a := mat.NewSymDense(6, ata[:])
	b := mat.NewVecDense(6, atb[:])
	var x mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(&x, b); err != nil {
			return spatialmath.NewIdentityTransform(), false
		}
	} else if err := x.SolveVec(a, b); err != nil {
		return spatialmath.NewIdentityTransform(), false
	}
	for i := 0; i < 6; i++ {
		if v := x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return spatialmath.NewIdentityTransform(), false
		}
	}

	omega := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	return spatialmath.RigidTransform{
		Rotation:    spatialmath.RotationFromRotationVector(omega),
		Translation: r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)},
	}, true
}
