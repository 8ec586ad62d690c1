package cli

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/registration"
	"go.viam.com/cloudfit/spatialmath"
	"go.viam.com/cloudfit/utils"
)

type registerOutput struct {
	Transform          [][]float64                     `json:"transform"`
	Rotation           spatialmath.R4AA                `json:"rotation"`
	Status             registration.Status             `json:"status"`
	Iterations         int                             `json:"iterations"`
	Converged          bool                            `json:"converged"`
	CorrespondenceType registration.CorrespondenceType `json:"correspondence_type"`
	Metric             registration.Metric             `json:"metric"`
	Correspondences    int                             `json:"correspondences"`
	Residuals          *registration.ResidualSummary   `json:"residuals,omitempty"`
}

// RegisterAction aligns the source cloud onto the destination cloud and prints the result.
func RegisterAction(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	dst, err := readCloud(c.Path(registerFlagDestination))
	if err != nil {
		return err
	}
	src, err := readCloud(c.Path(registerFlagSource))
	if err != nil {
		return err
	}
	if k := c.Int(registerFlagNormalNeighbors); k > 0 {
		if dst, err = withNormals(c, logger, dst, k); err != nil {
			return err
		}
		if src, err = withNormals(c, logger, src, k); err != nil {
			return err
		}
	}

	cfg, err := registerConfig(c)
	if err != nil {
		return err
	}
	engine, adj, err := registration.NewEngine(dst, src, cfg, logger)
	if err != nil {
		return err
	}
	if adj.Adjusted() {
		warningf(c.App.ErrWriter, "requested %s correspondences with the %s metric, using %s with %s",
			adj.RequestedCorrespondenceType, adj.RequestedMetric, adj.CorrespondenceType, adj.Metric)
	}
	if err := engine.Estimate(c.Context); err != nil {
		return err
	}
	tf := engine.Transform()

	if out := c.Path(registerFlagOutput); out != "" {
		if err := pointcloud.WriteToFile(pointcloud.Transform(src, tf), out); err != nil {
			return errors.Wrapf(err, "cannot write aligned cloud %q", out)
		}
	}

	result := registerOutput{
		Status:             engine.Status(),
		Iterations:         engine.Iterations(),
		Converged:          engine.HasConverged(),
		CorrespondenceType: engine.CorrespondenceType(),
		Metric:             engine.Metric(),
		Correspondences:    len(engine.Correspondences()),
		Rotation:           spatialmath.QuatToR4AA(tf.Rotation.Quaternion()),
	}
	dense := tf.Dense()
	for r := 0; r < 4; r++ {
		result.Transform = append(result.Transform, dense.RawRowView(r))
	}
	if summary, err := registration.SummarizeResiduals(engine.Residuals()); err == nil {
		result.Residuals = &summary
	} else {
		logger.Debugw("no residual summary", "error", err)
	}

	if c.Bool(registerFlagJSON) {
		return printJSON(c.App.Writer, result)
	}
	printf(c.App.Writer, "%s", formatTransform(tf))
	rot := result.Rotation
	printf(c.App.Writer, "rotation: %.6f deg about (%.6f, %.6f, %.6f)", utils.RadToDeg(rot.Theta), rot.RX, rot.RY, rot.RZ)
	printf(c.App.Writer, "status: %s after %d iterations", result.Status, result.Iterations)
	printf(c.App.Writer, "correspondences: %d (%s, %s)", result.Correspondences, result.CorrespondenceType, result.Metric)
	if s := result.Residuals; s != nil {
		printf(c.App.Writer, "residuals: rms %g mean %g median %g p95 %g max %g", s.RMS, s.Mean, s.Median, s.P95, s.Max)
	}
	return nil
}

// registerConfig builds the registration config from the config file and the flags set.
func registerConfig(c *cli.Context) (registration.Config, error) {
	cfg := registration.DefaultConfig()
	if path := c.Path(registerFlagConfig); path != "" {
		if err := readJSONFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if c.IsSet(registerFlagCorrespondenceType) {
		cfg.CorrespondenceType = registration.CorrespondenceType(c.String(registerFlagCorrespondenceType))
	}
	if c.IsSet(registerFlagMetric) {
		cfg.Metric = registration.Metric(c.String(registerFlagMetric))
	}
	if c.IsSet(registerFlagMaxIterations) {
		cfg.MaxIterations = c.Int(registerFlagMaxIterations)
	}
	if c.IsSet(registerFlagTolerance) {
		cfg.ConvergenceTolerance = c.Float64(registerFlagTolerance)
	}
	if c.IsSet(registerFlagMaxDistance) {
		cfg.MaxCorrespondenceDistance = c.Float64(registerFlagMaxDistance)
	}
	if c.IsSet(registerFlagFraction) {
		cfg.CorrespondenceFraction = c.Float64(registerFlagFraction)
	}

	switch {
	case c.IsSet(registerFlagInitialTransform) && c.IsSet(registerFlagInitialMatrix):
		return cfg, errors.Errorf("set only one of --%s and --%s", registerFlagInitialTransform, registerFlagInitialMatrix)
	case c.IsSet(registerFlagInitialTransform):
		tf, err := spatialmath.ParseTransform(c.String(registerFlagInitialTransform))
		if err != nil {
			return cfg, errors.Wrapf(err, "invalid --%s", registerFlagInitialTransform)
		}
		cfg.InitialTransform = tf
	case c.IsSet(registerFlagInitialMatrix):
		tf, err := readTransformFile(c.Path(registerFlagInitialMatrix))
		if err != nil {
			return cfg, err
		}
		cfg.InitialTransform = tf
	}
	return cfg, cfg.Validate()
}

func withNormals(c *cli.Context, logger logging.Logger, cloud *pointcloud.Cloud, k int) (*pointcloud.Cloud, error) {
	if cloud.HasNormals() {
		return cloud, nil
	}
	normals, err := pointcloud.EstimateNormals(c.Context, cloud, k, r3.Vector{})
	if err != nil {
		return nil, err
	}
	logger.Debugw("estimated normals", "points", cloud.Size(), "neighbors", k)
	return cloud.WithNormals(normals)
}
