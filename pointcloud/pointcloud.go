// Package pointcloud defines the point clouds published for segments and scenes, and their PCD
// encoding.
package pointcloud

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"
)

// Schema selects which fields the points of a cloud carry.
type Schema int

const (
	// SchemaSurfel points carry position, normal and color.
	SchemaSurfel Schema = iota
	// SchemaSurfelLabel points add an instance and a semantic label to SchemaSurfel.
	SchemaSurfelLabel
	// SchemaXYZL points carry position and one label.
	SchemaXYZL
)

func (s Schema) String() string {
	switch s {
	case SchemaSurfel:
		return "surfel"
	case SchemaSurfelLabel:
		return "surfel_label"
	case SchemaXYZL:
		return "xyzl"
	}
	return fmt.Sprintf("Schema(%d)", int(s))
}

// Header stamps a cloud with the time and frame of the depth frame it came from.
type Header struct {
	Seq     uint32
	Stamp   time.Time
	FrameID string
}

// Point is one point of a cloud. Fields the cloud's schema does not carry are left zero.
type Point struct {
	Position r3.Vector
	Normal   r3.Vector
	R, G, B  uint8

	InstanceLabel uint32
	SemanticLabel uint8
	// Label is the single label of SchemaXYZL points.
	Label uint32
}

// Cloud is an unordered set of points sharing one schema.
type Cloud struct {
	Header Header
	Schema Schema
	Points []Point
}

// New returns an empty cloud.
func New(header Header, schema Schema) *Cloud {
	return &Cloud{Header: header, Schema: schema}
}

// Size returns the number of points.
func (c *Cloud) Size() int {
	return len(c.Points)
}

// Add appends p.
func (c *Cloud) Add(p Point) {
	c.Points = append(c.Points, p)
}

// FillColor converts a 0-255 float color to channels. Colors with any channel outside the open
// interval (0, 256) are replaced by pure red.
func FillColor(c r3.Vector) (uint8, uint8, uint8) {
	in := func(v float64) bool { return v > 0 && v < 256 }
	if in(c.X) && in(c.Y) && in(c.Z) {
		return uint8(c.X), uint8(c.Y), uint8(c.Z)
	}
	return 255, 0, 0
}
