package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/cloudfit/pointcloud"
)

// ConvertAction converts a cloud between the pcd, binary matrix (.bin) and text matrix (.txt)
// formats, chosen by file extension.
func ConvertAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("need an input and an output file")
	}
	in, out := c.Args().Get(0), c.Args().Get(1)
	cloud, err := readCloud(in)
	if err != nil {
		return err
	}
	if c.Bool(convertFlagASCII) && strings.EqualFold(filepath.Ext(out), ".pcd") {
		err = writeASCIIPCD(cloud, out)
	} else {
		err = pointcloud.WriteToFile(cloud, out)
	}
	if err != nil {
		return errors.Wrapf(err, "cannot write %q", out)
	}
	printf(c.App.Writer, "wrote %d points to %s", cloud.Size(), out)
	return nil
}

func writeASCIIPCD(cloud pointcloud.PointCloud, fn string) (err error) {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return pointcloud.WritePCD(cloud, f, pointcloud.PCDAscii)
}
