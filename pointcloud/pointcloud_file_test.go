package pointcloud

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func labeledCloud() *Cloud {
	c := New(Header{FrameID: "camera"}, SchemaSurfelLabel)
	c.Add(Point{
		Position:      r3.Vector{X: 0.25, Y: -0.5, Z: 1},
		Normal:        r3.Vector{Z: -1},
		R:             10,
		G:             20,
		B:             30,
		InstanceLabel: 70000,
		SemanticLabel: 3,
	})
	c.Add(Point{Position: r3.Vector{X: 1, Y: 2, Z: 3}, R: 255, InstanceLabel: 1, SemanticLabel: 255})
	return c
}

func TestPCDHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	test.That(t, ToPCD(labeledCloud(), &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(buf.String(), "\n")
	test.That(t, lines[0], test.ShouldEqual, "VERSION .7")
	test.That(t, lines[1], test.ShouldEqual, "FIELDS x y z normal_x normal_y normal_z rgb instance_label semantic_label")
	test.That(t, lines[2], test.ShouldEqual, "SIZE 4 4 4 4 4 4 4 4 1")
	test.That(t, lines[3], test.ShouldEqual, "TYPE F F F F F F U U U")
	test.That(t, lines[5], test.ShouldEqual, "WIDTH 2")
	test.That(t, lines[6], test.ShouldEqual, "HEIGHT 1")
	test.That(t, lines[8], test.ShouldEqual, "POINTS 2")
	test.That(t, lines[9], test.ShouldEqual, "DATA ascii")
	test.That(t, lines[10], test.ShouldEqual, "0.250000 -0.500000 1.000000 0.000000 0.000000 -1.000000 660510 70000 3")
}

func TestPCDBinaryLayout(t *testing.T) {
	t.Parallel()
	c := New(Header{}, SchemaXYZL)
	c.Add(Point{Position: r3.Vector{X: 1}, Label: 9})
	var buf bytes.Buffer
	test.That(t, ToPCD(c, &buf, PCDBinary), test.ShouldBeNil)

	data := buf.Bytes()
	idx := bytes.Index(data, []byte("DATA binary\n"))
	test.That(t, idx, test.ShouldBeGreaterThan, 0)
	payload := data[idx+len("DATA binary\n"):]
	test.That(t, payload, test.ShouldResemble, []byte{
		0x00, 0x00, 0x80, 0x3f, // 1.0
		0, 0, 0, 0,
		0, 0, 0, 0,
		9, 0, 0, 0,
	})
}

func TestPCDCompressed(t *testing.T) {
	t.Parallel()
	c := New(Header{}, SchemaXYZL)
	for i := 0; i < 500; i++ {
		c.Add(Point{Position: r3.Vector{X: 1, Y: 2, Z: float64(i % 4)}, Label: 7})
	}
	var buf bytes.Buffer
	test.That(t, ToPCD(c, &buf, PCDCompressed), test.ShouldBeNil)

	data := buf.Bytes()
	idx := bytes.Index(data, []byte("DATA binary_compressed\n"))
	test.That(t, idx, test.ShouldBeGreaterThan, 0)
	payload := data[idx+len("DATA binary_compressed\n"):]
	compressedSize := binary.LittleEndian.Uint32(payload)
	test.That(t, binary.LittleEndian.Uint32(payload[4:]), test.ShouldEqual, uint32(500*16))
	test.That(t, compressedSize, test.ShouldBeLessThan, uint32(500*16))
	test.That(t, payload[8:], test.ShouldHaveLength, int(compressedSize))

	read, err := ReadPCD(bytes.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 500)
	test.That(t, read.Points[3].Position, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, read.Points[499].Label, test.ShouldEqual, uint32(7))

	// a header that disagrees with the uncompressed size
	bad := bytes.Replace(data, []byte("POINTS 500"), []byte("POINTS 499"), 1)
	_, err = ReadPCD(bytes.NewReader(bad))
	test.That(t, err, test.ShouldNotBeNil)

	empty := New(Header{}, SchemaSurfel)
	buf.Reset()
	test.That(t, ToPCD(empty, &buf, PCDCompressed), test.ShouldBeNil)
	read, err = ReadPCD(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 0)
}

func TestReadPCD(t *testing.T) {
	t.Parallel()
	for _, pcdType := range []PCDType{PCDAscii, PCDBinary, PCDCompressed} {
		var buf bytes.Buffer
		original := labeledCloud()
		test.That(t, ToPCD(original, &buf, pcdType), test.ShouldBeNil)

		read, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Schema, test.ShouldEqual, SchemaSurfelLabel)
		test.That(t, read.Size(), test.ShouldEqual, 2)
		for i, p := range read.Points {
			want := original.Points[i]
			test.That(t, p.Position.X, test.ShouldAlmostEqual, want.Position.X, 1e-6)
			test.That(t, p.Position.Z, test.ShouldAlmostEqual, want.Position.Z, 1e-6)
			test.That(t, p.R, test.ShouldEqual, want.R)
			test.That(t, p.B, test.ShouldEqual, want.B)
			test.That(t, p.InstanceLabel, test.ShouldEqual, want.InstanceLabel)
			test.That(t, p.SemanticLabel, test.ShouldEqual, want.SemanticLabel)
		}
	}

	_, err := ReadPCD(strings.NewReader("VERSION .7\nFIELDS x y\nPOINTS 0\nDATA ascii\n"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFillColor(t *testing.T) {
	t.Parallel()
	r, g, b := FillColor(r3.Vector{X: 1, Y: 128, Z: 255})
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{1, 128, 255})

	for _, c := range []r3.Vector{{X: 0, Y: 10, Z: 10}, {X: 10, Y: 256, Z: 10}, {X: 10, Y: 10, Z: -3}} {
		r, g, b = FillColor(c)
		test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 0, 0})
	}
}
