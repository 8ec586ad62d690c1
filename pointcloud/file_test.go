package pointcloud

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestMatrixFiles(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2.5, -3, 4e-7, 5, 6})
	for _, binaryLayout := range []bool{true, false} {
		fn := filepath.Join(t.TempDir(), "m")
		test.That(t, WriteMatrixToFile(fn, m, binaryLayout), test.ShouldBeNil)
		back, err := ReadMatrixFromFile(fn, binaryLayout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.Equal(m, back), test.ShouldBeTrue)
	}
}

func TestBinaryMatrixLayout(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "m.bin")
	test.That(t, WriteMatrixToFile(fn, mat.NewDense(2, 2, []float64{1, 2, 3, 4}), true), test.ShouldBeNil)

	size, err := FileSize(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldEqual, int64(16+4*8))

	raw, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, binary.LittleEndian.Uint64(raw[0:]), test.ShouldEqual, uint64(2))
	test.That(t, binary.LittleEndian.Uint64(raw[8:]), test.ShouldEqual, uint64(2))

	// row-major payload: the second value is row 0, column 1
	var second float64
	test.That(t, binary.Read(bytes.NewReader(raw[24:32]), binary.LittleEndian, &second), test.ShouldBeNil)
	test.That(t, second, test.ShouldEqual, 2.)

	truncated := filepath.Join(t.TempDir(), "short.bin")
	test.That(t, WriteRawDataToFile(truncated, raw[:30]), test.ShouldBeNil)
	_, err = ReadMatrixFromFile(truncated, true)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBinaryMatrixCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	for i, dims := range [][2]int64{
		{1 << 40, 1 << 40}, // product overflows int64
		{1 << 31, 4},
		{3, 2},
		{-1, 2},
	} {
		var buf bytes.Buffer
		test.That(t, binary.Write(&buf, binary.LittleEndian, dims), test.ShouldBeNil)
		// room for exactly four values
		test.That(t, binary.Write(&buf, binary.LittleEndian, []float64{1, 2, 3, 4}), test.ShouldBeNil)
		fn := filepath.Join(dir, fmt.Sprintf("corrupt%d.bin", i))
		test.That(t, WriteRawDataToFile(fn, buf.Bytes()), test.ShouldBeNil)

		m, err := ReadMatrixFromFile(fn, true)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, m, test.ShouldBeNil)
	}
}

func TestTextMatrixLayout(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "m.txt")
	test.That(t, os.WriteFile(fn, []byte("1 2 3\n\n4\t5   6\n"), 0o600), test.ShouldBeNil)
	m, err := ReadMatrixFromFile(fn, false)
	test.That(t, err, test.ShouldBeNil)
	r, c := m.Dims()
	test.That(t, r, test.ShouldEqual, 2)
	test.That(t, c, test.ShouldEqual, 3)
	test.That(t, m.At(1, 2), test.ShouldEqual, 6.)

	test.That(t, os.WriteFile(fn, []byte("1 2 3\n4 5\n"), 0o600), test.ShouldBeNil)
	_, err = ReadMatrixFromFile(fn, false)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(fn, []byte(""), 0o600), test.ShouldBeNil)
	_, err = ReadMatrixFromFile(fn, false)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(fn, []byte("1 x\n"), 0o600), test.ShouldBeNil)
	_, err = ReadMatrixFromFile(fn, false)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadMatrixFromFile(filepath.Join(dir, "missing.txt"), false)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestVectorAndRawFiles(t *testing.T) {
	dir := t.TempDir()
	vec := []float64{3, 1, 4, 1, 5}
	for _, binaryLayout := range []bool{true, false} {
		fn := filepath.Join(dir, "v")
		test.That(t, WriteVectorToFile(fn, vec, binaryLayout), test.ShouldBeNil)
		back, err := ReadVectorFromFile(fn, binaryLayout)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back, test.ShouldResemble, vec)
	}
	test.That(t, WriteVectorToFile(filepath.Join(dir, "empty"), nil, true), test.ShouldNotBeNil)

	fn := filepath.Join(dir, "raw")
	test.That(t, WriteRawDataToFile(fn, []byte("hello world")), test.ShouldBeNil)
	buf := make([]byte, 32)
	n, err := ReadRawDataFromFile(fn, buf, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "hello world")

	n, err = ReadRawDataFromFile(fn, buf, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "hello")

	_, err = ReadRawDataFromFile(fn, make([]byte, 2), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloudFiles(t *testing.T) {
	cloud, err := New(
		[]r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 2, Z: 3}},
		[]r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 0}},
		nil,
	)
	test.That(t, err, test.ShouldBeNil)
	m := CloudToMatrix(cloud)
	_, cols := m.Dims()
	test.That(t, cols, test.ShouldEqual, 6)

	dir := t.TempDir()
	for _, name := range []string{"c.bin", "c.txt", "c.pcd"} {
		fn := filepath.Join(dir, name)
		test.That(t, WriteToFile(cloud, fn), test.ShouldBeNil)
		back, err := NewFromFile(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.Size(), test.ShouldEqual, 2)
		test.That(t, back.HasNormals(), test.ShouldBeTrue)
		test.That(t, back.HasColors(), test.ShouldBeFalse)
		test.That(t, back.Points()[1], test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
		test.That(t, back.Normals()[1], test.ShouldResemble, r3.Vector{X: 0, Y: 1, Z: 0})
	}

	_, err = NewFromFile(filepath.Join(dir, "c.ply"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, strings.Contains(WriteToFile(cloud, filepath.Join(dir, "c.ply")).Error(), "c.ply"), test.ShouldBeTrue)

	_, err = MatrixToCloud(mat.NewDense(1, 4, nil))
	test.That(t, err, test.ShouldNotBeNil)
}
