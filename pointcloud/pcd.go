package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
	// PCDCompressed binary format for pcd.
	PCDCompressed
)

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []int
	types  []pcdValType
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func (h *pcdHeader) index(field string) int {
	for i, f := range h.fields {
		if f == field {
			return i
		}
	}
	return -1
}

func (h *pcdHeader) hasNormals() bool {
	return h.index("normal_x") >= 0 && h.index("normal_y") >= 0 && h.index("normal_z") >= 0
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
		for _, axis := range []string{"x", "y", "z"} {
			if header.index(axis) < 0 {
				return errors.Errorf("pcd fields %q missing %s", value, axis)
			}
		}
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.Atoi(token)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			header.types[i] = pcdValType(token)
			switch {
			case header.types[i] == pcdValFloat && (header.size[i] == 4 || header.size[i] == 8):
			case (header.types[i] == pcdValInt || header.types[i] == pcdValUInt) && header.size[i] == 4:
			default:
				return errors.Errorf("unsupported pcd field %s of type %s and size %d", header.fields[i], token, header.size[i])
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		for _, token := range tokens {
			if token != "1" {
				return errors.Errorf("unsupported COUNT %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads a cloud from a PCD stream. Recognized fields are x y z, normal_x normal_y normal_z
// and rgb; other fields are skipped.
func ReadPCD(inRaw io.Reader) (*Cloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	values := make([][]float64, header.points)
	var err error
	switch header.data {
	case PCDAscii:
		err = readPCDAscii(in, header, values)
	case PCDBinary:
		err = readPCDBinary(in, header, values)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return pcdValuesToCloud(header, values)
}

func readPCDAscii(in *bufio.Reader, header pcdHeader, values [][]float64) error {
	for i := range values {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in point %d", i)
		}
		values[i] = make([]float64, len(tokens))
		for j, token := range tokens {
			values[i][j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
	}
	return nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader, values [][]float64) error {
	stride := 0
	for _, s := range header.size {
		stride += s
	}
	buf := make([]byte, stride)
	for i := range values {
		if _, err := io.ReadFull(in, buf); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		values[i] = make([]float64, len(header.fields))
		offset := 0
		for j, size := range header.size {
			chunk := buf[offset : offset+size]
			switch {
			case header.types[j] == pcdValFloat && size == 8:
				values[i][j] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
			case header.types[j] == pcdValFloat:
				values[i][j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
			case header.types[j] == pcdValInt:
				values[i][j] = float64(int32(binary.LittleEndian.Uint32(chunk)))
			default:
				values[i][j] = float64(binary.LittleEndian.Uint32(chunk))
			}
			offset += size
		}
	}
	return nil
}

func pcdValuesToCloud(header pcdHeader, values [][]float64) (*Cloud, error) {
	x, y, z := header.index("x"), header.index("y"), header.index("z")
	rgb := header.index("rgb")
	hasNormals := header.hasNormals()
	nx, ny, nz := header.index("normal_x"), header.index("normal_y"), header.index("normal_z")

	points := make([]r3.Vector, len(values))
	var normals, colors []r3.Vector
	if hasNormals {
		normals = make([]r3.Vector, len(values))
	}
	if rgb >= 0 {
		colors = make([]r3.Vector, len(values))
	}
	for i, v := range values {
		points[i] = r3.Vector{X: v[x], Y: v[y], Z: v[z]}
		if hasNormals {
			normals[i] = r3.Vector{X: v[nx], Y: v[ny], Z: v[nz]}
		}
		if rgb >= 0 {
			colors[i] = pcdIntToColor(header.types[rgb], v[rgb])
		}
	}
	return New(points, normals, colors)
}

// rgb is stored as a packed 0x00RRGGBB integer, or as the float with the same bits.
func pcdIntToColor(typ pcdValType, v float64) r3.Vector {
	var c uint32
	if typ == pcdValFloat {
		c = math.Float32bits(float32(v))
	} else {
		c = uint32(int64(v))
	}
	r := float64(0xFF & (c >> 16))
	g := float64(0xFF & (c >> 8))
	b := float64(0xFF & c)
	return r3.Vector{X: r / 255, Y: g / 255, Z: b / 255}
}

func colorToPCDInt(c r3.Vector) uint32 {
	to255 := func(v float64) uint32 {
		return uint32(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return to255(c.X)<<16 | to255(c.Y)<<8 | to255(c.Z)
}

// WritePCD writes the cloud as an unorganized PCD with float32 coordinates.
func WritePCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	fields := []string{"x", "y", "z"}
	if cloud.HasNormals() {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
	}
	if cloud.HasColors() {
		fields = append(fields, "rgb")
	}
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		sizes[i], types[i], counts[i] = "4", string(pcdValFloat), "1"
		if f == "rgb" {
			types[i] = string(pcdValUInt)
		}
	}

	var dataType string
	switch outputType {
	case PCDAscii:
		dataType = "ascii"
	case PCDBinary:
		dataType = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}

	w := bufio.NewWriter(out)
	_, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(fields, " "), strings.Join(sizes, " "), strings.Join(types, " "), strings.Join(counts, " "),
		cloud.Size(), cloud.Size(), dataType)
	if err != nil {
		return err
	}
	if err := writePCDData(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	normals, colors := cloud.Normals(), cloud.Colors()
	row := make([]float64, 0, 6)
	buf := make([]byte, 0, 28)
	for i, p := range cloud.Points() {
		row = append(row[:0], p.X, p.Y, p.Z)
		if normals != nil {
			row = append(row, normals[i].X, normals[i].Y, normals[i].Z)
		}
		var err error
		switch pcdtype {
		case PCDBinary:
			buf = buf[:0]
			for _, v := range row {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
			if colors != nil {
				buf = binary.LittleEndian.AppendUint32(buf, colorToPCDInt(colors[i]))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			strs := make([]string, 0, len(row)+1)
			for _, v := range row {
				strs = append(strs, strconv.FormatFloat(float64(float32(v)), 'g', -1, 32))
			}
			if colors != nil {
				strs = append(strs, strconv.FormatUint(uint64(colorToPCDInt(colors[i])), 10))
			}
			_, err = fmt.Fprintln(out, strings.Join(strs, " "))
		case PCDCompressed:
			err = errors.New("compressed PCD not yet implemented")
		}
		if err != nil {
			return err
		}
	}
	return nil
}
