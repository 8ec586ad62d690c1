package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/cloudfit/logging"
	"go.viam.com/cloudfit/pointcloud"
	"go.viam.com/cloudfit/spatialmath"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck // we can't do anything with an error from printing.
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

// newLogger returns a logger writing to the app's error writer at the level chosen by the
// global flags.
func newLogger(c *cli.Context) (logging.Logger, error) {
	level, err := logging.LevelFromString(c.String(generalFlagLogLevel))
	if err != nil {
		return nil, err
	}
	if c.Bool(generalFlagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewBlankLogger("cloudfit")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(level)
	return logger, nil
}

func readCloud(path string) (*pointcloud.Cloud, error) {
	cloud, err := pointcloud.NewFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read cloud %q", path)
	}
	return cloud, nil
}

// readTransformFile reads a 3x4 or 4x4 transform from a binary (.bin) or text matrix file.
func readTransformFile(path string) (spatialmath.RigidTransform, error) {
	m, err := pointcloud.ReadMatrixFromFile(path, strings.EqualFold(filepath.Ext(path), ".bin"))
	if err != nil {
		return spatialmath.RigidTransform{}, errors.Wrapf(err, "cannot read transform %q", path)
	}
	return spatialmath.RigidTransformFromDense(m)
}

// readJSONFile parses a JSON5 file, so hand written configs may carry comments and trailing commas.
func readJSONFile(path string, v interface{}) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(json5.Unmarshal(data, v), "cannot parse %q", path)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTransform(tf spatialmath.RigidTransform) string {
	var sb strings.Builder
	dense := tf.Dense()
	for r := 0; r < 4; r++ {
		row := make([]string, 4)
		for c := 0; c < 4; c++ {
			row[c] = fmt.Sprintf("% .9f", dense.At(r, c))
		}
		sb.WriteString(strings.Join(row, " "))
		if r < 3 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
