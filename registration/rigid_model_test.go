package registration

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/ransac"
	"go.viam.com/cloudfit/spatialmath"
)

func TestSolvePointToPoint(t *testing.T) {
	truth := spatialmath.NewRigidTransform(
		spatialmath.RotationFromRotationVector(r3.Vector{X: 0.3, Y: -1.2, Z: 0.7}),
		r3.Vector{X: 4, Y: -2, Z: 0.5},
	)
	src := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 0}, {X: 0, Y: 0, Z: 3}, {X: 1, Y: 1, Z: 1}}
	dst := make([]r3.Vector, len(src))
	for i, p := range src {
		dst[i] = truth.Apply(p)
	}
	tf, ok := SolvePointToPoint(src, dst, nil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.TransformAlmostEqual(tf, truth, 1e-9), test.ShouldBeTrue)
	test.That(t, tf.Rotation.Det(), test.ShouldAlmostEqual, 1)

	// a wild pair with no weight does not move the solution
	src = append(src, r3.Vector{X: 5, Y: 5, Z: 5})
	dst = append(dst, r3.Vector{X: -50, Y: 0, Z: 9})
	tf, ok = SolvePointToPoint(src, dst, []float64{1, 1, 1, 1, 1, 0})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.TransformAlmostEqual(tf, truth, 1e-9), test.ShouldBeTrue)

	_, ok = SolvePointToPoint(src[:2], dst[:2], nil)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = SolvePointToPoint(src, dst[:3], nil)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = SolvePointToPoint(src[:3], dst[:3], []float64{0, 0, 0})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSolvePointToPlaneDegenerate(t *testing.T) {
	// every pair lies on z = 0 with the same normal, leaving in-plane motion free
	src := []r3.Vector{{X: 0, Y: 0, Z: 0.1}, {X: 1, Y: 0, Z: 0.1}, {X: 0, Y: 1, Z: 0.1}, {X: 1, Y: 1, Z: 0.1}}
	dst := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0}}
	normals := []r3.Vector{{Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}}
	_, ok := SolvePointToPlane(src, dst, normals, 0, 1)
	test.That(t, ok, test.ShouldBeFalse)

	// the point term pins down the rest
	tf, ok := SolvePointToPlane(src, dst, normals, 0.5, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tf.Translation.Z, test.ShouldAlmostEqual, -0.1, 1e-9)
	test.That(t, tf.Rotation.Angle(), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestRigidModelWithRansac(t *testing.T) {
	//nolint:gosec
	r := rand.New(rand.NewSource(21))
	truth := spatialmath.NewRigidTransform(
		spatialmath.RotationFromRotationVector(r3.Vector{Z: 0.8, X: 0.2}),
		r3.Vector{X: 1, Y: 2, Z: 3},
	)
	var src, dst []r3.Vector
	for i := 0; i < 40; i++ {
		p := r3.Vector{X: r.Float64() * 4, Y: r.Float64() * 4, Z: r.Float64() * 4}
		src = append(src, p)
		if i%4 == 0 {
			// wrong match
			dst = append(dst, r3.Vector{X: r.Float64() * 20, Y: r.Float64() * 20, Z: r.Float64() * 20})
		} else {
			dst = append(dst, truth.Apply(p))
		}
	}

	model, err := NewRigidModel(src, dst)
	test.That(t, err, test.ShouldBeNil)
	cfg := ransac.DefaultConfig(RigidModelSampleSize)
	cfg.InlierThreshold = 1e-6
	cfg.MaxIterations = 300
	est, err := ransac.NewEstimator[spatialmath.RigidTransform](model, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	//nolint:gosec
	est.SetRand(rand.New(rand.NewSource(1)))

	test.That(t, est.InlierCount(), test.ShouldEqual, 30)
	test.That(t, spatialmath.TransformAlmostEqual(est.Parameters(), truth, 1e-6), test.ShouldBeTrue)
	for _, i := range est.Inliers() {
		test.That(t, i%4, test.ShouldNotEqual, 0)
	}

	_, err = NewRigidModel(src, dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSummarizeResiduals(t *testing.T) {
	summary, err := SummarizeResiduals([]float64{4, 1, 3, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Count, test.ShouldEqual, 4)
	test.That(t, summary.Mean, test.ShouldAlmostEqual, 2.5)
	test.That(t, summary.Median, test.ShouldAlmostEqual, 2.5)
	test.That(t, summary.Max, test.ShouldEqual, 4.)
	test.That(t, summary.RMS, test.ShouldAlmostEqual, 1.5811388300841898)
	test.That(t, summary.P95, test.ShouldBeBetweenOrEqual, 3., 4.)
	test.That(t, summary.StdDev, test.ShouldBeGreaterThan, 0.)

	_, err = SummarizeResiduals(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	for _, tc := range []struct {
		mutate func(*Config)
		field  string
	}{
		{func(c *Config) { c.CorrespondenceType = "edges" }, "correspondence_type"},
		{func(c *Config) { c.Metric = "" }, "metric"},
		{func(c *Config) { c.ColorWeight = -1 }, "color_weight"},
		{func(c *Config) { c.Metric, c.PointToPointWeight, c.PointToPlaneWeight = Combined, 0, 0 }, "point_to_point_weight"},
		{func(c *Config) { c.MaxCorrespondenceDistance = -0.5 }, "max_correspondence_distance"},
		{func(c *Config) { c.CorrespondenceFraction = 1.5 }, "correspondence_fraction"},
		{func(c *Config) { c.ConvergenceTolerance = -1 }, "convergence_tolerance"},
		{func(c *Config) { c.MaxIterations = -1 }, "max_iterations"},
		{func(c *Config) { c.MaxInnerIterations = 0 }, "max_inner_iterations"},
	} {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, tc.field)
	}
}

func TestCorrespondenceTypes(t *testing.T) {
	for _, ct := range CorrespondenceTypes {
		test.That(t, ct.Valid(), test.ShouldBeTrue)
		test.That(t, correspondenceTypeFor(ct.UsesPoints(), ct.UsesNormals(), ct.UsesColors()), test.ShouldEqual, ct)
	}
	cfg := DefaultConfig()
	cfg.CorrespondenceType = PointsNormalsColors
	test.That(t, cfg.layout().Dim(), test.ShouldEqual, 9)
	cfg.CorrespondenceType = Normals
	test.That(t, cfg.layout().Dim(), test.ShouldEqual, 3)
	test.That(t, cfg.fitKey().PointWeight, test.ShouldEqual, 0.)
	test.That(t, Metric("point_to_line").Valid(), test.ShouldBeFalse)
	test.That(t, PointToPoint.RequiresNormals(), test.ShouldBeFalse)
	test.That(t, Combined.RequiresNormals(), test.ShouldBeTrue)
}
