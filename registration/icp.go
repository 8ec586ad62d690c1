// Package registration estimates the rigid transform aligning one point cloud onto another with
// iterative closest point refinement.
package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/spatialmath"
	"go.viam.com/cloudfit/utils"
)

// Status is the state of the result cached by an Engine.
type Status string

// The engine states. An engine is stale until a run completes and again after any change to
// its configuration that can alter the estimate.
const (
	StatusStale                 = Status("stale")
	StatusConverged             = Status("converged")
	StatusIterationLimitReached = Status("iteration_limit_reached")
)

// Correspondence pairs a source point with its nearest destination point. Distance is measured
// in descriptor space.
type Correspondence struct {
	Source      int
	Destination int
	Distance    float64
}

// IterationObserver is called after every completed iteration with its 1-based number, the
// running estimate and the magnitude of the update applied in that iteration.
type IterationObserver func(iteration int, tf spatialmath.RigidTransform, update float64)

// parallelQueryThreshold is the source size from which nearest neighbor queries are split
// across workers.
var parallelQueryThreshold = 2048

// Engine aligns a source cloud onto a destination cloud. Results are computed lazily: the first
// result accessor after construction or after a fit-relevant SetConfig runs the estimation,
// and later calls return the cached result. An Engine is not safe for concurrent use.
type Engine struct {
	dst, src pointcloud.PointCloud
	logger   logging.Logger

	cfg        Config
	adjustment Adjustment
	observer   IterationObserver

	index       *pointcloud.KDTree
	indexLayout pointcloud.DescriptorLayout

	stale           bool
	ran             bool
	transform       spatialmath.RigidTransform
	iterations      int
	converged       bool
	correspondences []Correspondence
}

// NewEngine returns an engine over the given clouds. The clouds are referenced, not copied, and
// must not change while the engine is in use. Channels the clouds lack are dropped from the
// requested correspondence type and metric; the returned Adjustment says what changed.
func NewEngine(dst, src pointcloud.PointCloud, cfg Config, logger logging.Logger) (*Engine, Adjustment, error) {
	if err := pointcloud.Validate(dst); err != nil {
		return nil, Adjustment{}, errors.Wrap(err, "invalid destination cloud")
	}
	if err := pointcloud.Validate(src); err != nil {
		return nil, Adjustment{}, errors.Wrap(err, "invalid source cloud")
	}
	if err := cfg.Validate(); err != nil {
		return nil, Adjustment{}, err
	}
	e := &Engine{dst: dst, src: src, logger: logging.OrGlobal(logger).Sublogger("icp"), stale: true}
	return e, e.apply(cfg), nil
}

// SetConfig replaces the configuration. An invalid config is rejected and leaves the engine
// untouched. The cached result is only dropped when the change can alter the estimate, and the
// spatial index only when the destination descriptors change.
func (e *Engine) SetConfig(cfg Config) (Adjustment, error) {
	if err := cfg.Validate(); err != nil {
		return Adjustment{}, err
	}
	return e.apply(cfg), nil
}

func (e *Engine) apply(cfg Config) Adjustment {
	adj := correct(cfg.CorrespondenceType, cfg.Metric, e.dst, e.src)
	if adj.Adjusted() {
		e.logger.Warnw("registration config adjusted to the channels available",
			"requested_correspondence_type", adj.RequestedCorrespondenceType,
			"correspondence_type", adj.CorrespondenceType,
			"requested_metric", adj.RequestedMetric,
			"metric", adj.Metric,
		)
	}
	cfg.CorrespondenceType, cfg.Metric = adj.CorrespondenceType, adj.Metric
	if cfg.InitialTransform.Rotation == (spatialmath.RotationMatrix{}) {
		cfg.InitialTransform.Rotation = spatialmath.NewIdentityRotation()
	}
	cfg.InitialTransform = spatialmath.NewRigidTransform(cfg.InitialTransform.Rotation, cfg.InitialTransform.Translation)

	if e.index != nil && cfg.layout() != e.indexLayout {
		e.logger.Debugw("descriptor layout changed, dropping spatial index", "dim", cfg.layout().Dim())
		e.index = nil
	}
	if cfg.fitKey() != e.cfg.fitKey() {
		e.invalidate()
	}
	if !e.ran {
		e.transform = cfg.InitialTransform
	}
	e.cfg, e.adjustment = cfg, adj
	return adj
}

func (e *Engine) invalidate() {
	e.stale = true
	e.iterations = 0
	e.converged = false
	e.correspondences = nil
}

// Config returns the effective configuration, after any downgrade.
func (e *Engine) Config() Config {
	return e.cfg
}

// Adjustment returns how the last configuration was adjusted to the clouds.
func (e *Engine) Adjustment() Adjustment {
	return e.adjustment
}

// CorrespondenceType returns the effective correspondence type.
func (e *Engine) CorrespondenceType() CorrespondenceType {
	return e.cfg.CorrespondenceType
}

// Metric returns the effective metric.
func (e *Engine) Metric() Metric {
	return e.cfg.Metric
}

// SetIterationObserver installs fn to be called after each iteration of later runs. It does not
// invalidate a cached result.
func (e *Engine) SetIterationObserver(fn IterationObserver) {
	e.observer = fn
}

// Transform returns the estimated transform mapping source points onto the destination,
// running the estimation first if needed.
func (e *Engine) Transform() spatialmath.RigidTransform {
	e.ensure()
	return e.transform
}

// Correspondences returns the correspondences used by the last iteration, running the
// estimation first if needed. The slice must not be modified.
func (e *Engine) Correspondences() []Correspondence {
	e.ensure()
	return e.correspondences
}

// Iterations returns the number of iterations of the cached run, or 0 while stale.
func (e *Engine) Iterations() int {
	return e.iterations
}

// HasConverged reports whether the cached run stopped because the update fell below the
// tolerance. It is false while stale.
func (e *Engine) HasConverged() bool {
	return e.iterations > 0 && e.converged
}

// Status returns the state of the cached result.
func (e *Engine) Status() Status {
	switch {
	case e.stale:
		return StatusStale
	case e.HasConverged():
		return StatusConverged
	default:
		return StatusIterationLimitReached
	}
}

func (e *Engine) ensure() {
	if err := e.Estimate(context.Background()); err != nil {
		e.logger.Errorw("registration failed", "error", err)
	}
}

// Estimate runs the estimation if the cached result is stale. The context is checked between
// iterations; when it is done the engine stays stale and the context error is returned.
func (e *Engine) Estimate(ctx context.Context) error {
	if !e.stale {
		return nil
	}
	cfg := e.cfg
	layout := cfg.layout()
	if e.index == nil {
		index, err := buildIndex(e.dst, layout)
		if err != nil {
			return err
		}
		e.index, e.indexLayout = index, layout
	}

	tf := cfg.InitialTransform
	var corrs []Correspondence
	iterations, converged := 0, false
	for iterations < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		corrs, err = e.correspond(ctx, tf, cfg)
		if err != nil {
			return err
		}
		delta, ok := e.refine(tf, corrs, cfg)
		if !ok {
			e.logger.Warnw("correspondences do not constrain the transform, stopping",
				"iteration", iterations+1, "correspondences", len(corrs))
			break
		}
		tf = delta.Compose(tf)
		tf.Rotation = tf.Rotation.Orthonormalize()
		iterations++

		update := math.Max(delta.Rotation.Angle(), delta.Translation.Norm())
		e.logger.Debugw("registration iteration", "iteration", iterations, "correspondences", len(corrs), "update", update)
		if e.observer != nil {
			e.observer(iterations, tf, update)
		}
		if update < cfg.ConvergenceTolerance {
			converged = true
			break
		}
	}

	e.transform, e.iterations, e.converged, e.correspondences = tf, iterations, converged, corrs
	e.stale, e.ran = false, true
	e.logger.Debugw("registration finished", "status", e.Status(), "iterations", iterations)
	return nil
}

func buildIndex(cloud pointcloud.PointCloud, layout pointcloud.DescriptorLayout) (*pointcloud.KDTree, error) {
	index, err := pointcloud.NewKDTree(layout.Descriptors(cloud))
	if err != nil {
		return nil, errors.Wrap(err, "cannot index destination cloud")
	}
	return index, nil
}

// nearest finds, for every source point under tf, its nearest destination descriptor within
// maxDist. found[i] is false when nothing is close enough.
func (e *Engine) nearest(
	ctx context.Context,
	index *pointcloud.KDTree,
	layout pointcloud.DescriptorLayout,
	tf spatialmath.RigidTransform,
	maxDist float64,
) ([]pointcloud.Neighbor, []bool, error) {
	points, normals, colors := e.src.Points(), e.src.Normals(), e.src.Colors()
	neighbors := make([]pointcloud.Neighbor, len(points))
	found := make([]bool, len(points))

	newMember := func() utils.MemberWorkFunc {
		desc := make([]float64, layout.Dim())
		return func(_, i int) {
			var n, c r3.Vector
			if layout.Normals {
				n = tf.Rotate(normals[i])
			}
			if layout.Colors {
				c = colors[i]
			}
			layout.Describe(tf.Apply(points[i]), n, c, desc)
			neighbors[i], found[i] = index.Nearest(desc, maxDist)
		}
	}

	if len(points) < parallelQueryThreshold {
		member := newMember()
		for i := range points {
			member(i, i)
		}
		return neighbors, found, nil
	}
	err := utils.GroupWorkParallel(ctx, len(points), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return newMember(), nil
		},
	)
	return neighbors, found, err
}

// correspond returns the correspondences of one iteration in source order, or ordered by
// distance when pruned to a fraction.
func (e *Engine) correspond(ctx context.Context, tf spatialmath.RigidTransform, cfg Config) ([]Correspondence, error) {
	neighbors, found, err := e.nearest(ctx, e.index, e.indexLayout, tf, cfg.MaxCorrespondenceDistance)
	if err != nil {
		return nil, err
	}
	corrs := make([]Correspondence, 0, len(neighbors))
	for i, nb := range neighbors {
		if found[i] {
			corrs = append(corrs, Correspondence{Source: i, Destination: nb.Index, Distance: nb.Distance})
		}
	}
	if cfg.CorrespondenceFraction >= 1 || len(corrs) == 0 {
		return corrs, nil
	}

	dists := make([]float64, len(corrs))
	for i, c := range corrs {
		dists[i] = c.Distance
	}
	order := make([]int, len(corrs))
	floats.ArgsortStable(dists, order)
	keep := utils.ScaleByPct(len(corrs), cfg.CorrespondenceFraction)
	pruned := make([]Correspondence, keep)
	for i := range pruned {
		pruned[i] = corrs[order[i]]
	}
	return pruned, nil
}

// refine solves for the incremental transform to apply on top of tf.
func (e *Engine) refine(tf spatialmath.RigidTransform, corrs []Correspondence, cfg Config) (spatialmath.RigidTransform, bool) {
	srcPoints, dstPoints := e.src.Points(), e.dst.Points()
	src := make([]r3.Vector, len(corrs))
	dst := make([]r3.Vector, len(corrs))
	for i, c := range corrs {
		src[i] = tf.Apply(srcPoints[c.Source])
		dst[i] = dstPoints[c.Destination]
	}
	if cfg.Metric == PointToPoint {
		return SolvePointToPoint(src, dst, nil)
	}

	dstNormals := e.dst.Normals()
	normals := make([]r3.Vector, len(corrs))
	for i, c := range corrs {
		normals[i] = dstNormals[c.Destination]
	}
	pointWeight, planeWeight := 0., 1.
	if cfg.Metric == Combined {
		pointWeight, planeWeight = cfg.PointToPointWeight, cfg.PointToPlaneWeight
	}

	delta := spatialmath.NewIdentityTransform()
	for inner := 0; inner < cfg.MaxInnerIterations; inner++ {
		step, ok := SolvePointToPlane(src, dst, normals, pointWeight, planeWeight)
		if !ok {
			if inner == 0 {
				return delta, false
			}
			break
		}
		for i := range src {
			src[i] = step.Apply(src[i])
		}
		delta = step.Compose(delta)
	}
	return delta, true
}

// Residuals returns ResidualsFor the effective correspondence type and metric.
func (e *Engine) Residuals() []float64 {
	return e.ResidualsFor(e.cfg.CorrespondenceType, e.cfg.Metric)
}

// ResidualsFor pairs every source point, under the current estimate, with its nearest
// destination point in the descriptor space of ct and returns one residual per source point:
// the squared distance for point to point, the squared distance along the destination normal
// for point to plane, and their weighted sum for combined. ct and m are corrected for the
// channels available like a config would be. It never runs the estimation and leaves the
// engine state untouched; before any run the current estimate is the initial transform.
func (e *Engine) ResidualsFor(ct CorrespondenceType, m Metric) []float64 {
	adj := correct(ct, m, e.dst, e.src)
	cfg := e.cfg
	cfg.CorrespondenceType, cfg.Metric = adj.CorrespondenceType, adj.Metric

	layout := cfg.layout()
	index := e.index
	if index == nil || layout != e.indexLayout {
		var err error
		if index, err = buildIndex(e.dst, layout); err != nil {
			e.logger.Errorw("cannot compute residuals", "error", err)
			return nil
		}
	}
	neighbors, _, err := e.nearest(context.Background(), index, layout, e.transform, math.MaxFloat64)
	if err != nil {
		e.logger.Errorw("cannot compute residuals", "error", err)
		return nil
	}

	srcPoints, dstPoints, dstNormals := e.src.Points(), e.dst.Points(), e.dst.Normals()
	residuals := make([]float64, len(neighbors))
	for i, nb := range neighbors {
		diff := e.transform.Apply(srcPoints[i]).Sub(dstPoints[nb.Index])
		switch cfg.Metric {
		case PointToPlane:
			residuals[i] = utils.Square(diff.Dot(dstNormals[nb.Index]))
		case Combined:
			residuals[i] = cfg.PointToPointWeight*diff.Norm2() +
				cfg.PointToPlaneWeight*utils.Square(diff.Dot(dstNormals[nb.Index]))
		default:
			residuals[i] = diff.Norm2()
		}
	}
	return residuals
}

// Result is the outcome of a single registration run.
type Result struct {
	Transform       spatialmath.RigidTransform
	Status          Status
	Iterations      int
	Converged       bool
	Correspondences []Correspondence
	Residuals       []float64
}

// Register aligns src onto dst with cfg in one call and keeps no state between calls.
func Register(
	ctx context.Context,
	dst, src pointcloud.PointCloud,
	cfg Config,
	logger logging.Logger,
) (Result, Adjustment, error) {
	e, adj, err := NewEngine(dst, src, cfg, logger)
	if err != nil {
		return Result{}, adj, err
	}
	if err := e.Estimate(ctx); err != nil {
		return Result{}, adj, err
	}
	return Result{
		Transform:       e.transform,
		Status:          e.Status(),
		Iterations:      e.iterations,
		Converged:       e.HasConverged(),
		Correspondences: e.correspondences,
		Residuals:       e.Residuals(),
	}, adj, nil
}
