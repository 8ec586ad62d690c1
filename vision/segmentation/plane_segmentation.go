// Package segmentation extracts planar segments from point clouds.
package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/ransac"
	"go.viam.com/cloudfit/utils"
)

const planeSampleSize = 3

// PlaneConfig holds the parameters of plane segmentation.
type PlaneConfig struct {
	// Iterations is the number of ransac trials per plane. For an outlier ratio e and a wanted
	// success probability p, log(1-p)/log(1-(1-e)^3) trials suffice.
	Iterations int `json:"iterations"`
	// Threshold is the largest distance from the plane of a point that belongs to it.
	Threshold float64 `json:"threshold"`
	// MinPoints is the fewest points a segment needs to count as a plane.
	MinPoints int `json:"min_points"`
}

// DefaultPlaneConfig returns 2000 trials per plane with a 1cm threshold.
func DefaultPlaneConfig() PlaneConfig {
	return PlaneConfig{Iterations: 2000, Threshold: 0.01, MinPoints: 100}
}

// CheckValid returns an error describing the first invalid field.
func (cfg PlaneConfig) CheckValid() error {
	if cfg.Iterations < 1 {
		return utils.NewConfigValueError("iterations", cfg.Iterations, "at least 1")
	}
	if !(cfg.Threshold >= 0) {
		return utils.NewConfigValueError("threshold", cfg.Threshold, "non-negative")
	}
	if cfg.MinPoints < planeSampleSize {
		return utils.NewConfigValueError("min_points", cfg.MinPoints, "at least 3")
	}
	return nil
}

// SegmentPlane finds the plane holding the most points of cloud. It returns that plane with
// its points, and the cloud of the remaining points. A cloud too small to define a plane comes
// back whole next to an empty plane. A nil r seeds the sampling from the clock.
func SegmentPlane(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	nIterations int,
	threshold float64,
	r *rand.Rand,
	logger logging.Logger,
) (*pointcloud.Plane, pointcloud.PointCloud, error) {
	return segmentPlane(ctx, ransac.NewPlaneModel(cloud), cloud, nIterations, threshold, r, logger)
}

// SegmentPlaneWRTGround is SegmentPlane restricted to planes whose normal is within
// angleThresh degrees of groundNormal, in either direction.
func SegmentPlaneWRTGround(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	nIterations int,
	angleThresh, threshold float64,
	groundNormal r3.Vector,
	r *rand.Rand,
	logger logging.Logger,
) (*pointcloud.Plane, pointcloud.PointCloud, error) {
	if groundNormal.Norm() == 0 {
		return nil, nil, errors.New("ground normal cannot be zero")
	}
	model := &orientedPlaneModel{
		PlaneModel: ransac.NewPlaneModel(cloud),
		normal:     groundNormal.Normalize(),
		minAbsCos:  math.Cos(utils.DegToRad(math.Abs(angleThresh))),
	}
	plane, rest, err := segmentPlane(ctx, model, cloud, nIterations, threshold, r, logger)
	if err != nil {
		return nil, nil, err
	}
	logging.OrGlobal(logger).Debugw("rejected planes facing away from the ground normal", "count", model.wrongFacing)
	return plane, rest, nil
}

func segmentPlane(
	ctx context.Context,
	model ransac.Model[[4]float64],
	cloud pointcloud.PointCloud,
	nIterations int,
	threshold float64,
	r *rand.Rand,
	logger logging.Logger,
) (*pointcloud.Plane, pointcloud.PointCloud, error) {
	if cloud.Size() <= planeSampleSize {
		return pointcloud.NewEmptyPlane(), cloud, nil
	}
	cfg := ransac.DefaultConfig(planeSampleSize)
	cfg.MaxIterations = nIterations
	cfg.InlierThreshold = threshold
	est, err := ransac.NewEstimator(model, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if r != nil {
		est.SetRand(r)
	}
	if err := est.Estimate(ctx); err != nil {
		return nil, nil, err
	}
	if est.InlierCount() == 0 {
		return pointcloud.NewEmptyPlane(), cloud, nil
	}
	inliers := est.Inliers()
	planeCloud, rest := split(cloud, inliers)
	return pointcloud.NewPlane(planeCloud, est.Parameters()), rest, nil
}

// split returns the points of cloud at the ascending indices and the points at the others.
func split(cloud pointcloud.PointCloud, indices []int) (*pointcloud.Cloud, *pointcloud.Cloud) {
	inside := make([]bool, cloud.Size())
	for _, i := range indices {
		inside[i] = true
	}
	outside := lo.Filter(lo.Range(cloud.Size()), func(i, _ int) bool { return !inside[i] })
	return pointcloud.Subset(cloud, indices), pointcloud.Subset(cloud, outside)
}

// FindPlanes repeatedly segments the largest plane out of cloud until the next one would have
// fewer than cfg.MinPoints points. It returns the planes in the order found and the cloud of
// the points belonging to none of them.
func FindPlanes(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	cfg PlaneConfig,
	r *rand.Rand,
	logger logging.Logger,
) ([]*pointcloud.Plane, pointcloud.PointCloud, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, nil, err
	}
	logger = logging.OrGlobal(logger).Sublogger("segmentation")
	if r == nil {
		r = utils.NewClockSeededRand()
	}

	planes := make([]*pointcloud.Plane, 0)
	rest := cloud
	for {
		plane, nonPlane, err := SegmentPlane(ctx, rest, cfg.Iterations, cfg.Threshold, r, logger)
		if err != nil {
			return nil, nil, err
		}
		if plane.PointCloud().Size() < cfg.MinPoints {
			break
		}
		logger.Debugw("found plane", "equation", plane.Equation(), "points", plane.PointCloud().Size())
		planes = append(planes, plane)
		rest = nonPlane
	}
	return planes, rest, nil
}

// orientedPlaneModel is a plane model that treats planes facing the wrong way as degenerate.
type orientedPlaneModel struct {
	*ransac.PlaneModel
	normal      r3.Vector
	minAbsCos   float64
	wrongFacing int
}

func (m *orientedPlaneModel) EstimateParameters(sample []int) ([4]float64, bool) {
	eq, ok := m.PlaneModel.EstimateParameters(sample)
	if !ok {
		return eq, false
	}
	if math.Abs(r3.Vector{X: eq[0], Y: eq[1], Z: eq[2]}.Dot(m.normal)) < m.minAbsCos {
		m.wrongFacing++
		return eq, false
	}
	return eq, true
}
