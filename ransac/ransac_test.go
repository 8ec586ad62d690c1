package ransac

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"go.viam.com/test"

	"go.viam.com/cloudfit/logging"
)

// noisyLine returns 80 points on y = 2x + 1 followed by 20 uniform outliers.
func noisyLine(r *rand.Rand) []r2.Point {
	var pts []r2.Point
	for i := 0; i < 80; i++ {
		x := float64(i) / 8
		pts = append(pts, r2.Point{X: x, Y: 2*x + 1})
	}
	for i := 0; i < 20; i++ {
		pts = append(pts, r2.Point{X: r.Float64() * 10, Y: r.Float64() * 25})
	}
	return pts
}

func sameLine(t *testing.T, got, want Line, tol float64) {
	t.Helper()
	if got.A*want.A+got.B*want.B < 0 {
		got = Line{-got.A, -got.B, -got.C}
	}
	test.That(t, got.A, test.ShouldAlmostEqual, want.A, tol)
	test.That(t, got.B, test.ShouldAlmostEqual, want.B, tol)
	test.That(t, got.C, test.ShouldAlmostEqual, want.C, tol)
}

func TestLineFit(t *testing.T) {
	//nolint:gosec
	pts := noisyLine(rand.New(rand.NewSource(7)))
	truth := Line{2 / math.Sqrt(5), -1 / math.Sqrt(5), 1 / math.Sqrt(5)}

	for _, reEstimate := range []bool{false, true} {
		cfg := Config{SampleSize: 2, TargetInlierCount: 100, MaxIterations: 200, InlierThreshold: 0.01, ReEstimate: reEstimate}
		est, err := NewEstimator[Line](&LineModel{Points: pts}, cfg, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		//nolint:gosec
		est.SetRand(rand.New(rand.NewSource(1)))

		test.That(t, est.InlierCount(), test.ShouldBeGreaterThanOrEqualTo, 75)
		sameLine(t, est.Parameters(), truth, 1e-3)
		// every point on the line is an inlier
		test.That(t, est.Inliers()[:80], test.ShouldResemble, lo.Range(80))
		test.That(t, est.Residuals(), test.ShouldHaveLength, 100)
		test.That(t, est.Iterations(), test.ShouldBeGreaterThan, 0)
		test.That(t, est.Iterations(), test.ShouldBeLessThanOrEqualTo, 200)
	}
}

func TestSeededRunsRepeat(t *testing.T) {
	//nolint:gosec
	pts := noisyLine(rand.New(rand.NewSource(3)))
	cfg := Config{SampleSize: 2, TargetInlierCount: 100, MaxIterations: 50, InlierThreshold: 0.01}
	run := func() (Line, []int) {
		est, err := NewEstimator[Line](&LineModel{Points: pts}, cfg, nil)
		test.That(t, err, test.ShouldBeNil)
		//nolint:gosec
		est.SetRand(rand.New(rand.NewSource(42)))
		return est.Parameters(), est.Inliers()
	}
	l1, in1 := run()
	l2, in2 := run()
	test.That(t, l1, test.ShouldResemble, l2)
	test.That(t, in1, test.ShouldResemble, in2)
}

// countingModel fits the mean of 1D data and counts how often it is asked to.
type countingModel struct {
	data  []float64
	fits  int
	fitOK bool
}

func (m *countingModel) DataCount() int { return len(m.data) }

func (m *countingModel) EstimateParameters(sample []int) (float64, bool) {
	m.fits++
	var sum float64
	for _, i := range sample {
		sum += m.data[i]
	}
	return sum / float64(len(sample)), m.fitOK
}

func (m *countingModel) ComputeResiduals(mean float64) []float64 {
	out := make([]float64, len(m.data))
	for i, v := range m.data {
		out[i] = math.Abs(v - mean)
	}
	return out
}

func TestClamping(t *testing.T) {
	model := &countingModel{data: []float64{1, 1.1, 0.9}, fitOK: true}
	cfg := Config{SampleSize: 10, TargetInlierCount: 1000, MaxIterations: 5, InlierThreshold: 0.5}
	est, err := NewEstimator[float64](model, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.SampleSize(), test.ShouldEqual, 3)
	test.That(t, est.TargetInlierCount(), test.ShouldEqual, 3)

	test.That(t, est.InlierCount(), test.ShouldEqual, 3)
	test.That(t, est.Parameters(), test.ShouldAlmostEqual, 1)
	test.That(t, est.TargetInlierCountAchieved(), test.ShouldBeTrue)
	// the first trial reaches the clamped target
	test.That(t, est.Iterations(), test.ShouldEqual, 1)
	test.That(t, est.Config(), test.ShouldResemble, cfg)
}

func TestCaching(t *testing.T) {
	model := &countingModel{data: []float64{1, 2, 3, 4, 5, 100}, fitOK: true}
	cfg := Config{SampleSize: 1, TargetInlierCount: 6, MaxIterations: 10, InlierThreshold: 1.5}
	est, err := NewEstimator[float64](model, cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	//nolint:gosec
	est.SetRand(rand.New(rand.NewSource(9)))
	test.That(t, est.Iterations(), test.ShouldEqual, 0)

	count := est.InlierCount()
	fits := model.fits
	test.That(t, fits, test.ShouldEqual, 10)
	test.That(t, est.InlierCount(), test.ShouldEqual, count)
	test.That(t, est.Inliers(), test.ShouldHaveLength, count)
	_ = est.Residuals()
	test.That(t, model.fits, test.ShouldEqual, fits)

	// an identical config keeps the cache
	test.That(t, est.SetConfig(cfg), test.ShouldBeNil)
	test.That(t, est.Iterations(), test.ShouldEqual, 10)

	cfg.MaxIterations = 3
	test.That(t, est.SetConfig(cfg), test.ShouldBeNil)
	test.That(t, est.Iterations(), test.ShouldEqual, 0)
	_ = est.Parameters()
	test.That(t, model.fits, test.ShouldEqual, fits+3)

	cfg.InlierThreshold = -1
	test.That(t, est.SetConfig(cfg), test.ShouldNotBeNil)
	test.That(t, est.Iterations(), test.ShouldEqual, 3)
}

func TestEmptyResult(t *testing.T) {
	model := &countingModel{data: []float64{1, 2, 3}, fitOK: false}
	est, err := NewEstimator[float64](model, Config{SampleSize: 2, TargetInlierCount: 3, MaxIterations: 4, ReEstimate: true}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.InlierCount(), test.ShouldEqual, 0)
	test.That(t, est.Parameters(), test.ShouldEqual, 0.)
	test.That(t, est.Iterations(), test.ShouldEqual, 4)
	test.That(t, est.TargetInlierCountAchieved(), test.ShouldBeFalse)
	// no refit without inliers
	test.That(t, model.fits, test.ShouldEqual, 4)

	// trials with fewer inliers than the sample size never become the best model
	spread := &countingModel{data: []float64{0, 10, 20, 30}, fitOK: true}
	est2, err := NewEstimator[float64](spread, Config{SampleSize: 2, TargetInlierCount: 4, MaxIterations: 6}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est2.InlierCount(), test.ShouldEqual, 0)

	empty, err := NewEstimator[float64](&countingModel{fitOK: true}, DefaultConfig(1), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.InlierCount(), test.ShouldEqual, 0)
	test.That(t, empty.Iterations(), test.ShouldEqual, 0)
}

func TestPermutationBlocks(t *testing.T) {
	// with a sample size of 2 over 5 points every pair of consecutive trials draws disjoint samples
	model := &recordingModel{n: 5}
	est, err := NewEstimator[int](model, Config{SampleSize: 2, TargetInlierCount: 5, MaxIterations: 6}, nil)
	test.That(t, err, test.ShouldBeNil)
	//nolint:gosec
	est.SetRand(rand.New(rand.NewSource(5)))
	test.That(t, est.Estimate(context.Background()), test.ShouldBeNil)
	test.That(t, model.samples, test.ShouldHaveLength, 6)
	for i := 0; i < 6; i += 2 {
		seen := map[int]bool{}
		for _, s := range append(append([]int{}, model.samples[i]...), model.samples[i+1]...) {
			test.That(t, seen[s], test.ShouldBeFalse)
			seen[s] = true
		}
	}
}

type recordingModel struct {
	n       int
	samples [][]int
}

func (m *recordingModel) DataCount() int { return m.n }

func (m *recordingModel) EstimateParameters(sample []int) (int, bool) {
	m.samples = append(m.samples, sample)
	return 0, true
}

func (m *recordingModel) ComputeResiduals(int) []float64 {
	out := make([]float64, m.n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// trialModel numbers its fits from 1. Every fit explains the first three points, and fits 3
// and 6 also explain the fourth.
type trialModel struct {
	n    int
	fits int
}

func (m *trialModel) DataCount() int { return m.n }

func (m *trialModel) EstimateParameters([]int) (int, bool) {
	m.fits++
	return m.fits, true
}

func (m *trialModel) ComputeResiduals(trial int) []float64 {
	explained := 3
	if trial%3 == 0 {
		explained = 4
	}
	out := make([]float64, m.n)
	for i := explained; i < m.n; i++ {
		out[i] = 1
	}
	return out
}

func TestFirstBestTrialWins(t *testing.T) {
	model := &trialModel{n: 6}
	cfg := DefaultConfig(1)
	cfg.MaxIterations = 6
	cfg.ReEstimate = false
	est, err := NewEstimator[int](model, cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	//nolint:gosec
	est.SetRand(rand.New(rand.NewSource(1)))

	test.That(t, est.Estimate(context.Background()), test.ShouldBeNil)
	test.That(t, est.Iterations(), test.ShouldEqual, 6)
	test.That(t, model.fits, test.ShouldEqual, 6)
	// fit 3 beats 1 and 2, fit 6 only ties it
	test.That(t, est.Parameters(), test.ShouldEqual, 3)
	test.That(t, est.Inliers(), test.ShouldResemble, []int{0, 1, 2, 3})
}

func TestEstimateCanceled(t *testing.T) {
	model := &countingModel{data: []float64{1, 2, 3}, fitOK: true}
	est, err := NewEstimator[float64](model, DefaultConfig(1), nil)
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, est.Estimate(ctx), test.ShouldEqual, context.Canceled)
	test.That(t, est.Iterations(), test.ShouldEqual, 0)
	test.That(t, model.fits, test.ShouldEqual, 0)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig(3).Validate(), test.ShouldBeNil)
	for _, cfg := range []Config{
		{SampleSize: 0},
		{SampleSize: 1, TargetInlierCount: -1},
		{SampleSize: 1, MaxIterations: -1},
		{SampleSize: 1, InlierThreshold: math.NaN()},
	} {
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	}
	_, err := NewEstimator[float64](&countingModel{}, Config{}, nil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sample_size")
}

func TestPlaneModel(t *testing.T) {
	// z = 1 plane with two outliers
	pts := []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 3, Z: 1}, {X: 0, Y: 0, Z: 5}, {X: 3, Y: 3, Z: -2}}
	model := &PlaneModel{Points: pts}
	eq, ok := model.EstimateParameters([]int{0, 1, 2})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, math.Abs(eq[2]), test.ShouldAlmostEqual, 1)
	test.That(t, eq[3]/eq[2], test.ShouldAlmostEqual, -1)

	_, ok = model.EstimateParameters([]int{0, 1, 1})
	test.That(t, ok, test.ShouldBeFalse)

	eq, ok = model.EstimateParameters([]int{0, 1, 2, 3, 4})
	test.That(t, ok, test.ShouldBeTrue)
	res := model.ComputeResiduals(eq)
	test.That(t, res[4], test.ShouldAlmostEqual, 0)
	test.That(t, res[5], test.ShouldAlmostEqual, 4)

	cfg := Config{SampleSize: 3, TargetInlierCount: 7, MaxIterations: 100, InlierThreshold: 0.01, ReEstimate: true}
	est, err := NewEstimator[[4]float64](model, cfg, nil)
	test.That(t, err, test.ShouldBeNil)
	//nolint:gosec
	est.SetRand(rand.New(rand.NewSource(2)))
	test.That(t, est.Inliers(), test.ShouldResemble, []int{0, 1, 2, 3, 4})
}

func TestLineModelDegenerate(t *testing.T) {
	model := &LineModel{Points: []r2.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}}
	_, ok := model.EstimateParameters([]int{0, 1})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = model.EstimateParameters([]int{0, 1, 2})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = model.EstimateParameters([]int{0})
	test.That(t, ok, test.ShouldBeFalse)
}
