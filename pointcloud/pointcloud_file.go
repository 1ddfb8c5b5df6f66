package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd, stored field by field and compressed with LZF.
	PCDCompressed PCDType = 2
)

type pcdField struct {
	name string
	size int
	kind byte
}

var pcdLayouts = map[Schema][]pcdField{
	SchemaSurfel: {
		{"x", 4, 'F'}, {"y", 4, 'F'}, {"z", 4, 'F'},
		{"normal_x", 4, 'F'}, {"normal_y", 4, 'F'}, {"normal_z", 4, 'F'},
		{"rgb", 4, 'U'},
	},
	SchemaSurfelLabel: {
		{"x", 4, 'F'}, {"y", 4, 'F'}, {"z", 4, 'F'},
		{"normal_x", 4, 'F'}, {"normal_y", 4, 'F'}, {"normal_z", 4, 'F'},
		{"rgb", 4, 'U'},
		{"instance_label", 4, 'U'}, {"semantic_label", 1, 'U'},
	},
	SchemaXYZL: {
		{"x", 4, 'F'}, {"y", 4, 'F'}, {"z", 4, 'F'},
		{"label", 4, 'U'},
	},
}

func _colorToPCDInt(p Point) int {
	x := 0
	x |= (int(p.R) << 16)
	x |= (int(p.G) << 8)
	x |= (int(p.B) << 0)
	return x
}

func _pcdIntToColor(c int) (uint8, uint8, uint8) {
	return uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & (c >> 0))
}

func fieldValues(schema Schema, p Point) []float64 {
	pos := []float64{p.Position.X, p.Position.Y, p.Position.Z}
	switch schema {
	case SchemaSurfel:
		return append(pos, p.Normal.X, p.Normal.Y, p.Normal.Z, float64(_colorToPCDInt(p)))
	case SchemaSurfelLabel:
		return append(pos, p.Normal.X, p.Normal.Y, p.Normal.Z, float64(_colorToPCDInt(p)),
			float64(p.InstanceLabel), float64(p.SemanticLabel))
	default:
		return append(pos, float64(p.Label))
	}
}

// ToPCD writes cloud to out in the PCD v0.7 format. The header's frame and stamp are not part of
// the format; transports carry them separately.
func ToPCD(cloud *Cloud, out io.Writer, outputType PCDType) error {
	layout, ok := pcdLayouts[cloud.Schema]
	if !ok {
		return errors.Errorf("no PCD layout for schema %s", cloud.Schema)
	}
	names := make([]string, len(layout))
	sizes := make([]string, len(layout))
	kinds := make([]string, len(layout))
	counts := make([]string, len(layout))
	for i, f := range layout {
		names[i] = f.name
		sizes[i] = strconv.Itoa(f.size)
		kinds[i] = string(f.kind)
		counts[i] = "1"
	}

	var dataType string
	switch outputType {
	case PCDBinary:
		dataType = "binary"
	case PCDCompressed:
		dataType = "binary_compressed"
	case PCDAscii:
		dataType = "ascii"
	default:
		return errors.Errorf("unsupported PCD type %d", outputType)
	}

	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(names, " "), strings.Join(sizes, " "), strings.Join(kinds, " "), strings.Join(counts, " "),
		cloud.Size(), 1, cloud.Size(), dataType); err != nil {
		return err
	}
	var err error
	if outputType == PCDCompressed {
		err = writeCompressedPCDData(cloud, layout, w)
	} else {
		err = writePCDData(cloud, layout, w, outputType)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

func layoutStride(layout []pcdField) int {
	stride := 0
	for _, f := range layout {
		stride += f.size
	}
	return stride
}

func writePCDData(cloud *Cloud, layout []pcdField, out io.Writer, pcdtype PCDType) error {
	buf := make([]byte, layoutStride(layout))
	for _, p := range cloud.Points {
		values := fieldValues(cloud.Schema, p)
		var err error
		switch pcdtype {
		case PCDBinary:
			offset := 0
			for i, f := range layout {
				putField(buf[offset:], f, values[i])
				offset += f.size
			}
			_, err = out.Write(buf)
		case PCDAscii:
			parts := make([]string, len(layout))
			for i, f := range layout {
				if f.kind == 'F' {
					parts[i] = strconv.FormatFloat(values[i], 'f', 6, 64)
				} else {
					parts[i] = strconv.FormatInt(int64(values[i]), 10)
				}
			}
			_, err = fmt.Fprintln(out, strings.Join(parts, " "))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeCompressedPCDData stores every x, then every y and so on, and writes the compressed and
// uncompressed sizes as little-endian uint32s ahead of the LZF block.
func writeCompressedPCDData(cloud *Cloud, layout []pcdField, out io.Writer) error {
	values := make([][]float64, cloud.Size())
	for i, p := range cloud.Points {
		values[i] = fieldValues(cloud.Schema, p)
	}
	raw := make([]byte, layoutStride(layout)*cloud.Size())
	offset := 0
	for j, f := range layout {
		for i := range cloud.Points {
			putField(raw[offset:], f, values[i][j])
			offset += f.size
		}
	}

	var compressed []byte
	if len(raw) > 0 {
		// LZF output can exceed its input on data it cannot compress.
		compressed = make([]byte, len(raw)+len(raw)/16+64)
		n, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing PCD data")
		}
		compressed = compressed[:n]
	}
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(len(compressed)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

func readCompressedPCDData(in io.Reader, schema Schema, layout []pcdField, points int, cloud *Cloud) error {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return errors.Wrap(err, "reading compressed PCD sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes)
	rawSize := int(binary.LittleEndian.Uint32(sizes[4:]))
	if want := layoutStride(layout) * points; rawSize != want {
		return errors.Errorf("compressed PCD holds %d bytes, %d points need %d", rawSize, points, want)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return errors.Wrap(err, "reading compressed PCD data")
	}
	raw := make([]byte, rawSize)
	if rawSize > 0 {
		n, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return errors.Wrap(err, "decompressing PCD data")
		}
		if n != rawSize {
			return errors.Errorf("decompressed %d PCD bytes, expected %d", n, rawSize)
		}
	}

	values := make([]float64, len(layout))
	for i := 0; i < points; i++ {
		column := 0
		for j, f := range layout {
			values[j] = readField(raw[column+i*f.size:], f)
			column += f.size * points
		}
		cloud.Add(pointFromValues(schema, values))
	}
	return nil
}

func putField(buf []byte, f pcdField, v float64) {
	switch {
	case f.kind == 'F':
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case f.size == 1:
		buf[0] = uint8(v)
	default:
		binary.LittleEndian.PutUint32(buf, uint32(int64(v)))
	}
}

func readField(buf []byte, f pcdField) float64 {
	switch {
	case f.kind == 'F':
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case f.size == 1:
		return float64(buf[0])
	default:
		return float64(binary.LittleEndian.Uint32(buf))
	}
}

func schemaFromFields(fields []string) (Schema, error) {
	joined := strings.Join(fields, " ")
	for schema, layout := range pcdLayouts {
		names := make([]string, len(layout))
		for i, f := range layout {
			names[i] = f.name
		}
		if strings.Join(names, " ") == joined {
			return schema, nil
		}
	}
	return 0, errors.Errorf("unsupported PCD fields %q", joined)
}

func pointFromValues(schema Schema, v []float64) Point {
	p := Point{Position: r3.Vector{X: v[0], Y: v[1], Z: v[2]}}
	if schema == SchemaXYZL {
		p.Label = uint32(v[3])
		return p
	}
	p.Normal = r3.Vector{X: v[3], Y: v[4], Z: v[5]}
	p.R, p.G, p.B = _pcdIntToColor(int(v[6]))
	if schema == SchemaSurfelLabel {
		p.InstanceLabel = uint32(v[7])
		p.SemanticLabel = uint8(v[8])
	}
	return p
}

// ReadPCD reads a cloud written by ToPCD.
func ReadPCD(inRaw io.Reader) (*Cloud, error) {
	in := bufio.NewReader(inRaw)
	var (
		schema    Schema
		points    = -1
		dataType  string
		haveField bool
	)
	for dataType == "" {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading PCD header")
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}
		switch tokens[0] {
		case "FIELDS":
			if schema, err = schemaFromFields(tokens[1:]); err != nil {
				return nil, err
			}
			haveField = true
		case "POINTS":
			if len(tokens) != 2 {
				return nil, errors.Errorf("bad PCD line %q", strings.TrimSpace(line))
			}
			if points, err = strconv.Atoi(tokens[1]); err != nil {
				return nil, errors.Wrap(err, "parsing POINTS")
			}
		case "DATA":
			if len(tokens) != 2 {
				return nil, errors.Errorf("bad PCD line %q", strings.TrimSpace(line))
			}
			dataType = tokens[1]
		}
	}
	if !haveField || points < 0 {
		return nil, errors.New("PCD header is missing FIELDS or POINTS")
	}

	layout := pcdLayouts[schema]
	cloud := &Cloud{Schema: schema, Points: make([]Point, 0, points)}
	switch dataType {
	case "binary":
		buf := make([]byte, layoutStride(layout))
		values := make([]float64, len(layout))
		for i := 0; i < points; i++ {
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			offset := 0
			for j, f := range layout {
				values[j] = readField(buf[offset:], f)
				offset += f.size
			}
			cloud.Add(pointFromValues(schema, values))
		}
	case "ascii":
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			tokens := strings.Fields(string(line))
			if len(tokens) != len(layout) {
				return nil, errors.Errorf("PCD point has %d values, expected %d", len(tokens), len(layout))
			}
			values := make([]float64, len(tokens))
			for j, tok := range tokens {
				v, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing %q", tok)
				}
				values[j] = v
			}
			cloud.Add(pointFromValues(schema, values))
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		if cloud.Size() != points {
			return nil, errors.Errorf("PCD has %d points, header says %d", cloud.Size(), points)
		}
	case "binary_compressed":
		if err := readCompressedPCDData(in, schema, layout, points, cloud); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unsupported PCD data type %q", dataType)
	}
	return cloud, nil
}
