package registration

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/spatialmath"
	"go.viam.com/cloudfit/utils"
)

// CorrespondenceType names the channels used to pair source points with destination points.
type CorrespondenceType string

// The correspondence types. A type that names normals or colors needs both clouds to carry them.
const (
	Points              = CorrespondenceType("points")
	Normals             = CorrespondenceType("normals")
	Colors              = CorrespondenceType("colors")
	PointsNormals       = CorrespondenceType("points_normals")
	PointsColors        = CorrespondenceType("points_colors")
	NormalsColors       = CorrespondenceType("normals_colors")
	PointsNormalsColors = CorrespondenceType("points_normals_colors")
)

// CorrespondenceTypes lists every correspondence type.
var CorrespondenceTypes = []CorrespondenceType{
	Points, Normals, Colors, PointsNormals, PointsColors, NormalsColors, PointsNormalsColors,
}

func correspondenceTypeFor(points, normals, colors bool) CorrespondenceType {
	switch {
	case points && normals && colors:
		return PointsNormalsColors
	case points && normals:
		return PointsNormals
	case points && colors:
		return PointsColors
	case normals && colors:
		return NormalsColors
	case normals:
		return Normals
	case colors:
		return Colors
	default:
		return Points
	}
}

// UsesPoints reports whether positions are part of the descriptor.
func (ct CorrespondenceType) UsesPoints() bool {
	return ct == Points || ct == PointsNormals || ct == PointsColors || ct == PointsNormalsColors
}

// UsesNormals reports whether normals are part of the descriptor.
func (ct CorrespondenceType) UsesNormals() bool {
	return ct == Normals || ct == PointsNormals || ct == NormalsColors || ct == PointsNormalsColors
}

// UsesColors reports whether colors are part of the descriptor.
func (ct CorrespondenceType) UsesColors() bool {
	return ct == Colors || ct == PointsColors || ct == NormalsColors || ct == PointsNormalsColors
}

// Valid reports whether ct is one of the known types.
func (ct CorrespondenceType) Valid() bool {
	for _, known := range CorrespondenceTypes {
		if ct == known {
			return true
		}
	}
	return false
}

// Metric is the objective minimized by each refinement step.
type Metric string

// The metrics.
const (
	PointToPoint = Metric("point_to_point")
	PointToPlane = Metric("point_to_plane")
	Combined     = Metric("combined")
)

// RequiresNormals reports whether the metric needs destination normals.
func (m Metric) RequiresNormals() bool {
	return m == PointToPlane || m == Combined
}

// Valid reports whether m is one of the known metrics.
func (m Metric) Valid() bool {
	return m == PointToPoint || m == PointToPlane || m == Combined
}

// Config holds every parameter of a registration run. It is a value: changing a field of a
// copy has no effect on an engine until it is handed back through SetConfig.
type Config struct {
	CorrespondenceType CorrespondenceType `json:"correspondence_type"`
	Metric             Metric             `json:"metric"`

	PointWeight  float64 `json:"point_weight"`
	NormalWeight float64 `json:"normal_weight"`
	ColorWeight  float64 `json:"color_weight"`

	// Term weights of the combined metric.
	PointToPointWeight float64 `json:"point_to_point_weight"`
	PointToPlaneWeight float64 `json:"point_to_plane_weight"`

	// MaxCorrespondenceDistance bounds the descriptor space distance of a correspondence.
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
	// CorrespondenceFraction is the share of the closest correspondences kept each iteration.
	CorrespondenceFraction float64 `json:"correspondence_fraction"`

	ConvergenceTolerance float64 `json:"convergence_tolerance"`
	MaxIterations        int     `json:"max_iterations"`
	MaxInnerIterations   int     `json:"max_inner_iterations"`

	InitialTransform spatialmath.RigidTransform `json:"-"`
}

// DefaultConfig returns the default parameters: position correspondences refined with the
// point to plane metric for at most 15 iterations.
func DefaultConfig() Config {
	return Config{
		CorrespondenceType:        Points,
		Metric:                    PointToPlane,
		PointWeight:               1,
		NormalWeight:              1,
		ColorWeight:               1,
		PointToPointWeight:        0.1,
		PointToPlaneWeight:        1,
		MaxCorrespondenceDistance: math.MaxFloat64,
		CorrespondenceFraction:    1,
		ConvergenceTolerance:      1e-5,
		MaxIterations:             15,
		MaxInnerIterations:        1,
		InitialTransform:          spatialmath.NewIdentityTransform(),
	}
}

// Validate returns an error describing the first invalid field.
func (cfg Config) Validate() error {
	if !cfg.CorrespondenceType.Valid() {
		return utils.NewConfigValueError("correspondence_type", cfg.CorrespondenceType, "a known correspondence type")
	}
	if !cfg.Metric.Valid() {
		return utils.NewConfigValueError("metric", cfg.Metric, "point_to_point, point_to_plane or combined")
	}
	for _, w := range []struct {
		path  string
		value float64
	}{
		{"point_weight", cfg.PointWeight},
		{"normal_weight", cfg.NormalWeight},
		{"color_weight", cfg.ColorWeight},
		{"point_to_point_weight", cfg.PointToPointWeight},
		{"point_to_plane_weight", cfg.PointToPlaneWeight},
	} {
		if w.value < 0 || math.IsNaN(w.value) {
			return utils.NewConfigValueError(w.path, w.value, "non-negative")
		}
	}
	if cfg.Metric == Combined && cfg.PointToPointWeight == 0 && cfg.PointToPlaneWeight == 0 {
		return utils.NewConfigValidationError("point_to_point_weight", errors.New("combined metric needs a non-zero term weight"))
	}
	if !(cfg.MaxCorrespondenceDistance >= 0) {
		return utils.NewConfigValueError("max_correspondence_distance", cfg.MaxCorrespondenceDistance, "non-negative")
	}
	if !(cfg.CorrespondenceFraction > 0 && cfg.CorrespondenceFraction <= 1) {
		return utils.NewConfigValueError("correspondence_fraction", cfg.CorrespondenceFraction, "in (0, 1]")
	}
	if !(cfg.ConvergenceTolerance >= 0) {
		return utils.NewConfigValueError("convergence_tolerance", cfg.ConvergenceTolerance, "non-negative")
	}
	if cfg.MaxIterations < 0 {
		return utils.NewConfigValueError("max_iterations", cfg.MaxIterations, "non-negative")
	}
	if cfg.MaxInnerIterations < 1 {
		return utils.NewConfigValueError("max_inner_iterations", cfg.MaxInnerIterations, "at least 1")
	}
	return nil
}

// layout returns the descriptor layout of the configured correspondence type. Weights of
// channels that do not participate are left zero so equal layouts mean equal descriptors. A
// single channel is never scaled: weights only balance mixed descriptors.
func (cfg Config) layout() pointcloud.DescriptorLayout {
	ct := cfg.CorrespondenceType
	l := pointcloud.DescriptorLayout{Points: ct.UsesPoints(), Normals: ct.UsesNormals(), Colors: ct.UsesColors()}
	if l.Dim() == 3 {
		l.PointWeight, l.NormalWeight, l.ColorWeight = boolWeight(l.Points), boolWeight(l.Normals), boolWeight(l.Colors)
		return l
	}
	if l.Points {
		l.PointWeight = cfg.PointWeight
	}
	if l.Normals {
		l.NormalWeight = cfg.NormalWeight
	}
	if l.Colors {
		l.ColorWeight = cfg.ColorWeight
	}
	return l
}

func boolWeight(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// fitKey zeroes every field that cannot change the result of a run, so that two configs with
// equal keys produce the same estimate.
func (cfg Config) fitKey() Config {
	l := cfg.layout()
	cfg.PointWeight, cfg.NormalWeight, cfg.ColorWeight = l.PointWeight, l.NormalWeight, l.ColorWeight
	if cfg.Metric != Combined {
		cfg.PointToPointWeight, cfg.PointToPlaneWeight = 0, 0
	}
	return cfg
}

// Adjustment reports how a requested correspondence type and metric were changed to fit the
// channels the clouds actually carry.
type Adjustment struct {
	RequestedCorrespondenceType CorrespondenceType
	RequestedMetric             Metric
	CorrespondenceType          CorrespondenceType
	Metric                      Metric
}

// Adjusted reports whether anything was downgraded.
func (a Adjustment) Adjusted() bool {
	return a.RequestedCorrespondenceType != a.CorrespondenceType || a.RequestedMetric != a.Metric
}

// correct drops the channels the clouds cannot provide. Normals and colors are only usable in
// correspondences when both clouds have them, and the plane based metrics need destination normals.
func correct(ct CorrespondenceType, m Metric, dst, src pointcloud.PointCloud) Adjustment {
	adj := Adjustment{RequestedCorrespondenceType: ct, RequestedMetric: m, CorrespondenceType: ct, Metric: m}
	normals := dst.HasNormals() && src.HasNormals()
	colors := dst.HasColors() && src.HasColors()
	if (ct.UsesNormals() && !normals) || (ct.UsesColors() && !colors) {
		adj.CorrespondenceType = correspondenceTypeFor(
			ct.UsesPoints(),
			ct.UsesNormals() && normals,
			ct.UsesColors() && colors,
		)
	}
	if m.RequiresNormals() && !dst.HasNormals() {
		adj.Metric = PointToPoint
	}
	return adj
}
