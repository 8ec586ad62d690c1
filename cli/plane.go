package cli

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/utils"
	"go.viam.com/cloudfit/vision/segmentation"
)

type planeSegments struct {
	planes []*pointcloud.Plane
	rest   pointcloud.PointCloud
}

// FitPlaneAction segments the planes out of every cloud named on the command line, one cloud
// per goroutine, and prints them in argument order.
func FitPlaneAction(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return errors.New("need at least one cloud file")
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	cfg := segmentation.PlaneConfig{
		Iterations: c.Int(planeFlagIterations),
		Threshold:  c.Float64(planeFlagThreshold),
		MinPoints:  c.Int(planeFlagMinPoints),
	}
	if err := cfg.CheckValid(); err != nil {
		return err
	}
	seed := c.Int64(planeFlagSeed)
	outDir := c.Path(planeFlagOutputDir)

	paths := c.Args().Slice()
	results := make([]planeSegments, len(paths))
	work := make([]utils.SimpleFunc, len(paths))
	for i, path := range paths {
		i, path := i, path
		work[i] = func(ctx context.Context) error {
			cloud, err := readCloud(path)
			if err != nil {
				return err
			}
			var r *rand.Rand
			if seed != 0 {
				//nolint:gosec
				r = rand.New(rand.NewSource(seed))
			}
			planes, rest, err := segmentation.FindPlanes(ctx, cloud, cfg, r, logger.Sublogger(filepath.Base(path)))
			if err != nil {
				return errors.Wrapf(err, "cannot segment %q", path)
			}
			results[i] = planeSegments{planes: planes, rest: rest}
			return nil
		}
	}
	elapsed, err := utils.RunInParallel(c.Context, work)
	if err != nil {
		return err
	}
	logger.Debugw("segmented clouds", "files", len(paths), "elapsed", elapsed)

	for i, path := range paths {
		res := results[i]
		printf(c.App.Writer, "%s: %d planes, %d leftover points", path, len(res.planes), res.rest.Size())
		if len(res.planes) > 0 {
			printf(c.App.Writer, "%s", planeTable(res.planes))
		}
		if outDir != "" {
			if err := writeSegments(outDir, path, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// planeTable renders one row per plane with its equation a·x + b·y + c·z + d = 0.
func planeTable(planes []*pointcloud.Plane) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "a", "b", "c", "d", "Points"})
	for i, plane := range planes {
		eq := plane.Equation()
		t.AppendRow(table.Row{
			i,
			fmt.Sprintf("%.6f", eq[0]),
			fmt.Sprintf("%.6f", eq[1]),
			fmt.Sprintf("%.6f", eq[2]),
			fmt.Sprintf("%.6f", eq[3]),
			plane.PointCloud().Size(),
		})
	}
	return t.Render()
}

func writeSegments(dir, path string, res planeSegments) error {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for j, plane := range res.planes {
		fn := filepath.Join(dir, fmt.Sprintf("%s_plane%d.pcd", stem, j))
		if err := pointcloud.WriteToFile(plane.PointCloud(), fn); err != nil {
			return err
		}
	}
	return pointcloud.WriteToFile(res.rest, filepath.Join(dir, stem+"_rest.pcd"))
}
