package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/cloudfit/utils"
)

// Matrix files hold either a binary layout (int64 rows, int64 cols, then rows*cols float64
// values in row-major order, all little-endian, no padding) or a text layout (one row per line,
// values separated by whitespace).

// WriteMatrixToFile writes m to the named file in the binary or text matrix layout.
func WriteMatrixToFile(fn string, m mat.Matrix, binaryLayout bool) (err error) {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
		if err != nil {
			utils.RemoveFileNoError(fn)
		}
	}()
	w := bufio.NewWriter(f)
	if binaryLayout {
		err = writeBinaryMatrix(w, m)
	} else {
		err = writeTextMatrix(w, m)
	}
	return multierr.Combine(err, w.Flush())
}

func writeBinaryMatrix(w io.Writer, m mat.Matrix) error {
	rows, cols := m.Dims()
	if err := binary.Write(w, binary.LittleEndian, [2]int64{int64(rows), int64(cols)}); err != nil {
		return err
	}
	buf := make([]byte, 8*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint64(buf[8*j:], math.Float64bits(m.At(i, j)))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func writeTextMatrix(w io.Writer, m mat.Matrix) error {
	rows, cols := m.Dims()
	strs := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			strs[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if _, err := io.WriteString(w, strings.Join(strs, " ")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// ReadMatrixFromFile reads a matrix written in the binary or text matrix layout.
func ReadMatrixFromFile(fn string, binaryLayout bool) (*mat.Dense, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if binaryLayout {
		size, err := FileSize(fn)
		if err != nil {
			return nil, err
		}
		return readBinaryMatrix(bufio.NewReader(f), size)
	}
	return readTextMatrix(f)
}

// readBinaryMatrix reads a binary matrix from a stream of size bytes. The header is checked
// against the bytes that follow it before the payload is allocated.
func readBinaryMatrix(r io.Reader, size int64) (*mat.Dense, error) {
	var dims [2]int64
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, errors.Wrap(err, "reading matrix dimensions")
	}
	rows, cols := dims[0], dims[1]
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("invalid matrix dimensions %dx%d", rows, cols)
	}
	payload := (size - 16) / 8
	if rows > math.MaxInt64/cols || rows*cols > payload {
		return nil, errors.Errorf("matrix dimensions %dx%d exceed the %d values in the file", rows, cols, payload)
	}
	data := make([]float64, rows*cols)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, errors.Wrapf(err, "reading %dx%d matrix payload", rows, cols)
	}
	return mat.NewDense(int(rows), int(cols), data), nil
}

func readTextMatrix(r io.Reader) (*mat.Dense, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var data []float64
	rows, cols := 0, -1
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if cols == -1 {
			cols = len(tokens)
		} else if len(tokens) != cols {
			return nil, errors.Errorf("row %d has %d values, expected %d", rows, len(tokens), cols)
		}
		for _, token := range tokens {
			v, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d", rows)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.New("matrix file has no rows")
	}
	return mat.NewDense(rows, cols, data), nil
}

// WriteVectorToFile writes vec as a single column matrix.
func WriteVectorToFile(fn string, vec []float64, binaryLayout bool) error {
	if len(vec) == 0 {
		return errors.New("cannot write an empty vector")
	}
	return WriteMatrixToFile(fn, mat.NewVecDense(len(vec), vec), binaryLayout)
}

// ReadVectorFromFile reads every entry of a matrix file, in row-major order.
func ReadVectorFromFile(fn string, binaryLayout bool) ([]float64, error) {
	m, err := ReadMatrixFromFile(fn, binaryLayout)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out, nil
}

// FileSize returns the size of the named file in bytes.
func FileSize(fn string) (int64, error) {
	info, err := os.Stat(fn)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRawDataFromFile fills data from the start of the file. When numBytes is zero the whole
// file is read. It returns the number of bytes read.
func ReadRawDataFromFile(fn string, data []byte, numBytes int) (int, error) {
	f, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if numBytes == 0 {
		size, err := FileSize(fn)
		if err != nil {
			return 0, err
		}
		numBytes = int(size)
	}
	if numBytes > len(data) {
		return 0, errors.Errorf("buffer holds %d bytes, need %d", len(data), numBytes)
	}
	return io.ReadFull(f, data[:numBytes])
}

// WriteRawDataToFile writes data to the named file, replacing it.
func WriteRawDataToFile(fn string, data []byte) (err error) {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	_, err = f.Write(data)
	return err
}

// CloudToMatrix returns an N x 3, N x 6 or N x 9 matrix of points, then normals, then colors.
func CloudToMatrix(cloud PointCloud) *mat.Dense {
	cols := 3
	if cloud.HasNormals() {
		cols += 3
	}
	if cloud.HasColors() {
		cols += 3
	}
	out := mat.NewDense(cloud.Size(), cols, nil)
	for i, p := range cloud.Points() {
		row := []float64{p.X, p.Y, p.Z}
		if cloud.HasNormals() {
			n := cloud.Normals()[i]
			row = append(row, n.X, n.Y, n.Z)
		}
		if cloud.HasColors() {
			c := cloud.Colors()[i]
			row = append(row, c.X, c.Y, c.Z)
		}
		out.SetRow(i, row)
	}
	return out
}

// MatrixToCloud is the inverse of CloudToMatrix. Six columns are read as points and normals.
func MatrixToCloud(m mat.Matrix) (*Cloud, error) {
	rows, cols := m.Dims()
	if cols != 3 && cols != 6 && cols != 9 {
		return nil, errors.Errorf("point matrix must have 3, 6 or 9 columns, got %d", cols)
	}
	row := func(i, from int) r3.Vector {
		return r3.Vector{X: m.At(i, from), Y: m.At(i, from+1), Z: m.At(i, from+2)}
	}
	points := make([]r3.Vector, rows)
	var normals, colors []r3.Vector
	if cols >= 6 {
		normals = make([]r3.Vector, rows)
	}
	if cols == 9 {
		colors = make([]r3.Vector, rows)
	}
	for i := 0; i < rows; i++ {
		points[i] = row(i, 0)
		if normals != nil {
			normals[i] = row(i, 3)
		}
		if colors != nil {
			colors[i] = row(i, 6)
		}
	}
	return New(points, normals, colors)
}

// NewFromFile reads a cloud based on the file extension: .pcd, .bin (binary matrix) or
// .txt (text matrix).
func NewFromFile(fn string) (*Cloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pcd":
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer goutils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	case ".bin":
		m, err := ReadMatrixFromFile(fn, true)
		if err != nil {
			return nil, err
		}
		return MatrixToCloud(m)
	case ".txt", ".xyz":
		m, err := ReadMatrixFromFile(fn, false)
		if err != nil {
			return nil, err
		}
		return MatrixToCloud(m)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes a cloud based on the file extension, see NewFromFile.
func WriteToFile(cloud PointCloud, fn string) (err error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pcd":
		var f *os.File
		f, err = os.Create(fn)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		return WritePCD(cloud, f, PCDBinary)
	case ".bin":
		return WriteMatrixToFile(fn, CloudToMatrix(cloud), true)
	case ".txt", ".xyz":
		return WriteMatrixToFile(fn, CloudToMatrix(cloud), false)
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}
