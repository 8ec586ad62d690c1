// Package cli contains the cloudfit command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagDebug    = "debug"
	generalFlagLogLevel = "log-level"

	registerFlagDestination        = "destination"
	registerFlagSource             = "source"
	registerFlagConfig             = "config"
	registerFlagCorrespondenceType = "correspondence-type"
	registerFlagMetric             = "metric"
	registerFlagMaxIterations      = "max-iterations"
	registerFlagTolerance          = "tolerance"
	registerFlagMaxDistance        = "max-distance"
	registerFlagFraction           = "fraction"
	registerFlagInitialTransform   = "initial-transform"
	registerFlagInitialMatrix      = "initial-transform-file"
	registerFlagNormalNeighbors    = "estimate-normals"
	registerFlagOutput             = "output"
	registerFlagJSON               = "json"

	planeFlagIterations = "iterations"
	planeFlagThreshold  = "threshold"
	planeFlagMinPoints  = "min-points"
	planeFlagSeed       = "seed"
	planeFlagOutputDir  = "output-dir"

	convertFlagASCII = "ascii"
)

var app = &cli.App{
	Name:            "cloudfit",
	Usage:           "register and segment point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  generalFlagLogLevel,
			Value: "warn",
			Usage: "log level: debug, info, warn or error",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "register",
			Usage:     "estimate the rigid transform aligning a source cloud to a destination cloud",
			UsageText: "cloudfit register --destination <file> --source <file> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     registerFlagDestination,
					Aliases:  []string{"d"},
					Required: true,
					Usage:    "destination cloud (.pcd, .bin or .txt)",
				},
				&cli.PathFlag{
					Name:     registerFlagSource,
					Aliases:  []string{"s"},
					Required: true,
					Usage:    "source cloud (.pcd, .bin or .txt)",
				},
				&cli.PathFlag{
					Name:  registerFlagConfig,
					Usage: "registration config as JSON, overridden by the flags below",
				},
				&cli.StringFlag{
					Name:  registerFlagCorrespondenceType,
					Usage: "points, normals, colors, points_normals, points_colors, normals_colors or points_normals_colors",
				},
				&cli.StringFlag{
					Name:  registerFlagMetric,
					Usage: "point_to_point, point_to_plane or combined",
				},
				&cli.IntFlag{
					Name:  registerFlagMaxIterations,
					Usage: "maximum number of iterations",
				},
				&cli.Float64Flag{
					Name:  registerFlagTolerance,
					Usage: "convergence tolerance on the incremental update",
				},
				&cli.Float64Flag{
					Name:  registerFlagMaxDistance,
					Usage: "maximum correspondence distance",
				},
				&cli.Float64Flag{
					Name:  registerFlagFraction,
					Usage: "fraction of the closest correspondences kept each iteration",
				},
				&cli.StringFlag{
					Name:  registerFlagInitialTransform,
					Usage: "initial transform as 12 or 16 row major values",
				},
				&cli.PathFlag{
					Name:  registerFlagInitialMatrix,
					Usage: "initial transform as a 4x4 matrix file (.bin or .txt)",
				},
				&cli.IntFlag{
					Name:  registerFlagNormalNeighbors,
					Usage: "estimate missing normals from this many neighbors",
				},
				&cli.PathFlag{
					Name:  registerFlagOutput,
					Usage: "write the aligned source cloud here",
				},
				&cli.BoolFlag{
					Name:  registerFlagJSON,
					Usage: "print the result as JSON",
				},
			},
			Action: RegisterAction,
		},
		{
			Name:      "fit-plane",
			Usage:     "segment the planes out of one or more clouds",
			UsageText: "cloudfit fit-plane [options] <file> [<file>...]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  planeFlagIterations,
					Value: 2000,
					Usage: "ransac trials per plane",
				},
				&cli.Float64Flag{
					Name:  planeFlagThreshold,
					Value: 0.01,
					Usage: "largest distance from a plane of its points",
				},
				&cli.IntFlag{
					Name:  planeFlagMinPoints,
					Value: 100,
					Usage: "fewest points of a plane",
				},
				&cli.Int64Flag{
					Name:  planeFlagSeed,
					Usage: "seed of the sampling, 0 seeds from the clock",
				},
				&cli.PathFlag{
					Name:  planeFlagOutputDir,
					Usage: "write every plane and the leftover points as pcd files here",
				},
			},
			Action: FitPlaneAction,
		},
		{
			Name:      "convert",
			Usage:     "convert a cloud between pcd and matrix files",
			UsageText: "cloudfit convert [--ascii] <input> <output>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  convertFlagASCII,
					Usage: "write pcd output as ascii instead of binary",
				},
			},
			Action: ConvertAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
