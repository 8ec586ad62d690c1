package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRigidTransformApply(t *testing.T) {
	rot := RotationFromRotationVector(r3.Vector{Z: math.Pi / 2})
	tf := NewRigidTransform(rot, r3.Vector{X: 1, Y: 2, Z: 3})

	p := tf.Apply(r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 1)
	test.That(t, p.Y, test.ShouldAlmostEqual, 3)
	test.That(t, p.Z, test.ShouldAlmostEqual, 3)

	n := tf.Rotate(r3.Vector{X: 1})
	test.That(t, n.X, test.ShouldAlmostEqual, 0)
	test.That(t, n.Y, test.ShouldAlmostEqual, 1)
}

func TestRigidTransformComposeInverse(t *testing.T) {
	a := NewRigidTransform(RotationFromRotationVector(r3.Vector{X: 0.3, Y: -0.2, Z: 0.1}), r3.Vector{X: 1, Y: -1, Z: 0.5})
	b := NewRigidTransform(RotationFromRotationVector(r3.Vector{Z: 0.7}), r3.Vector{X: -2})

	p := r3.Vector{X: 0.25, Y: 4, Z: -1}
	composed := a.Compose(b).Apply(p)
	sequential := a.Apply(b.Apply(p))
	test.That(t, composed.Sub(sequential).Norm(), test.ShouldAlmostEqual, 0)

	test.That(t, TransformAlmostEqual(a.Compose(a.Inverse()), NewIdentityTransform(), 1e-12), test.ShouldBeTrue)
	test.That(t, TransformAlmostEqual(a, b, 1e-3), test.ShouldBeFalse)
}

func TestRigidTransformDense(t *testing.T) {
	tf := NewRigidTransform(RotationFromRotationVector(r3.Vector{Y: 0.4}), r3.Vector{X: 1, Y: 2, Z: 3})
	m := tf.Dense()
	test.That(t, m.At(3, 3), test.ShouldEqual, 1.)
	test.That(t, m.At(1, 3), test.ShouldEqual, 2.)

	back, err := RigidTransformFromDense(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, TransformAlmostEqual(tf, back, 1e-12), test.ShouldBeTrue)

	_, err = RigidTransformFromDense(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParse(t *testing.T) {
	v, err := ParseVector("1, 2 3")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	_, err = ParseVector("1 2")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseVector("1 2 x")
	test.That(t, err, test.ShouldNotBeNil)

	tf, err := ParseTransform("1 0 0 4  0 1 0 5  0 0 1 6")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tf.Translation, test.ShouldResemble, r3.Vector{X: 4, Y: 5, Z: 6})
	test.That(t, tf.Rotation.IsProperRotation(1e-12), test.ShouldBeTrue)

	_, err = ParseTransform("1 0 0")
	test.That(t, err, test.ShouldNotBeNil)
}
