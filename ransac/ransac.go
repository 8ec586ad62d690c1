// Package ransac fits parametric models to data contaminated with outliers by random sample
// consensus.
package ransac

import (
	"context"
	"math"
	"math/rand"

	"github.com/samber/lo"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/utils"
)

// Model is what an Estimator fits. P is the type of the model parameters.
type Model[P any] interface {
	// DataCount returns the number of data points.
	DataCount() int
	// EstimateParameters fits parameters to the data points at the given indices. It returns
	// false when the sample is degenerate.
	EstimateParameters(sample []int) (P, bool)
	// ComputeResiduals returns one non-negative residual per data point.
	ComputeResiduals(params P) []float64
}

// Config holds the parameters of an estimation run.
type Config struct {
	// SampleSize is the number of points in each minimal sample.
	SampleSize int `json:"sample_size"`
	// TargetInlierCount stops the run early once this many inliers are found.
	TargetInlierCount int `json:"target_inlier_count"`
	MaxIterations     int `json:"max_iterations"`
	// InlierThreshold is the largest residual of an inlier, inclusive.
	InlierThreshold float64 `json:"inlier_threshold"`
	// ReEstimate refits the best model to all of its inliers at the end of the run.
	ReEstimate bool `json:"re_estimate"`
}

// DefaultConfig returns a config for models with the given minimal sample size. The target is
// every data point so runs use all their iterations unless the model fits everything.
func DefaultConfig(sampleSize int) Config {
	return Config{
		SampleSize:        sampleSize,
		TargetInlierCount: math.MaxInt32,
		MaxIterations:     100,
		InlierThreshold:   0.1,
		ReEstimate:        true,
	}
}

// Validate returns an error describing the first invalid field.
func (cfg Config) Validate() error {
	if cfg.SampleSize < 1 {
		return utils.NewConfigValueError("sample_size", cfg.SampleSize, "at least 1")
	}
	if cfg.TargetInlierCount < 0 {
		return utils.NewConfigValueError("target_inlier_count", cfg.TargetInlierCount, "non-negative")
	}
	if cfg.MaxIterations < 0 {
		return utils.NewConfigValueError("max_iterations", cfg.MaxIterations, "non-negative")
	}
	if !(cfg.InlierThreshold >= 0) {
		return utils.NewConfigValueError("inlier_threshold", cfg.InlierThreshold, "non-negative")
	}
	return nil
}

// Estimator runs random sample consensus over a Model. Results are computed lazily by the first
// result accessor after construction or after a configuration change, and cached until the
// next change. An Estimator is not safe for concurrent use.
type Estimator[P any] struct {
	model  Model[P]
	cfg    Config
	rand   *rand.Rand
	logger logging.Logger

	stale      bool
	params     P
	residuals  []float64
	inliers    []int
	iterations int
}

// NewEstimator returns an estimator of model. The model's data is referenced, not copied, and
// must not change while the estimator is in use.
func NewEstimator[P any](model Model[P], cfg Config, logger logging.Logger) (*Estimator[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator[P]{
		model:  model,
		cfg:    cfg,
		logger: logging.OrGlobal(logger).Sublogger("ransac"),
		stale:  true,
	}, nil
}

// Config returns the configuration as given, before clamping.
func (e *Estimator[P]) Config() Config {
	return e.cfg
}

// SetConfig replaces the configuration, dropping the cached result when anything changed.
func (e *Estimator[P]) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg != e.cfg {
		e.cfg = cfg
		e.invalidate()
	}
	return nil
}

// SetRand makes later runs draw their samples from r, which makes them reproducible. With no
// generator set, every run seeds a fresh one from the clock.
func (e *Estimator[P]) SetRand(r *rand.Rand) {
	e.rand = r
	e.invalidate()
}

func (e *Estimator[P]) invalidate() {
	var zero P
	e.stale = true
	e.params, e.residuals, e.inliers, e.iterations = zero, nil, nil, 0
}

// SampleSize returns the sample size used by runs, clamped to the data count.
func (e *Estimator[P]) SampleSize() int {
	return utils.ClampInt(e.cfg.SampleSize, 0, e.model.DataCount())
}

// TargetInlierCount returns the target inlier count used by runs, clamped to the data count.
func (e *Estimator[P]) TargetInlierCount() int {
	return utils.ClampInt(e.cfg.TargetInlierCount, 0, e.model.DataCount())
}

// Parameters returns the parameters of the best model. They are the zero value when no trial
// found at least SampleSize inliers, so check InlierCount first.
func (e *Estimator[P]) Parameters() P {
	e.ensure()
	return e.params
}

// Residuals returns the residual of every data point under the best model.
func (e *Estimator[P]) Residuals() []float64 {
	e.ensure()
	return e.residuals
}

// Inliers returns the ascending indices of the inliers of the best model.
func (e *Estimator[P]) Inliers() []int {
	e.ensure()
	return e.inliers
}

// InlierCount returns the number of inliers of the best model.
func (e *Estimator[P]) InlierCount() int {
	e.ensure()
	return len(e.inliers)
}

// Iterations returns the number of trials of the cached run, or 0 while stale.
func (e *Estimator[P]) Iterations() int {
	return e.iterations
}

// TargetInlierCountAchieved reports whether the cached run reached the target inlier count.
func (e *Estimator[P]) TargetInlierCountAchieved() bool {
	return e.iterations > 0 && len(e.inliers) >= e.TargetInlierCount()
}

func (e *Estimator[P]) ensure() {
	if err := e.Estimate(context.Background()); err != nil {
		e.logger.Errorw("estimation failed", "error", err)
	}
}

// Estimate runs the estimation if the cached result is stale. The context is checked between
// trials; when it is done the estimator stays stale and the context error is returned.
func (e *Estimator[P]) Estimate(ctx context.Context) error {
	if !e.stale {
		return nil
	}
	n := e.model.DataCount()
	sampleSize, target := e.SampleSize(), e.TargetInlierCount()
	if sampleSize != e.cfg.SampleSize || target != e.cfg.TargetInlierCount {
		e.logger.Debugw("clamped to the data count", "data_count", n, "sample_size", sampleSize, "target_inlier_count", target)
	}

	r := e.rand
	if r == nil {
		r = utils.NewClockSeededRand()
	}

	var best result[P]
	iterations := 0
	if n > 0 {
		perm := r.Perm(n)
		next := 0
		for iterations < e.cfg.MaxIterations {
			if err := ctx.Err(); err != nil {
				return err
			}
			if n-next < sampleSize {
				r.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
				next = 0
			}
			sample := append([]int(nil), perm[next:next+sampleSize]...)
			next += sampleSize
			iterations++

			trial, ok := e.fit(sample)
			if !ok || len(trial.inliers) < sampleSize {
				continue
			}
			if len(trial.inliers) > len(best.inliers) {
				best = trial
			}
			if len(best.inliers) >= target {
				break
			}
		}
	}

	if e.cfg.ReEstimate && len(best.inliers) > 0 {
		if refit, ok := e.fit(best.inliers); ok {
			best = refit
		} else {
			e.logger.Debugw("cannot refit to the inliers, keeping the sampled model", "inliers", len(best.inliers))
		}
	}

	e.params, e.residuals, e.inliers, e.iterations = best.params, best.residuals, best.inliers, iterations
	e.stale = false
	e.logger.Debugw("estimation finished", "iterations", iterations, "inliers", len(best.inliers), "data_count", n)
	return nil
}

type result[P any] struct {
	params    P
	residuals []float64
	inliers   []int
}

func (e *Estimator[P]) fit(sample []int) (result[P], bool) {
	params, ok := e.model.EstimateParameters(sample)
	if !ok {
		return result[P]{}, false
	}
	residuals := e.model.ComputeResiduals(params)
	inliers := lo.Filter(lo.Range(len(residuals)), func(i, _ int) bool {
		return residuals[i] <= e.cfg.InlierThreshold
	})
	return result[P]{params: params, residuals: residuals, inliers: inliers}, true
}
