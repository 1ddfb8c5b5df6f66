package rimage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// DepthEncoding names the pixel layout of a raw depth frame.
type DepthEncoding string

// The depth encodings a depth frame can arrive in.
const (
	// Depth16UC1 holds unsigned 16-bit samples in sensor units, scaled to meters by a depth scale.
	Depth16UC1 = DepthEncoding("16UC1")
	// Depth32FC1 holds 32-bit float samples already in meters.
	Depth32FC1 = DepthEncoding("32FC1")
)

// DefaultDepthScale converts millimeter 16-bit samples to meters.
const DefaultDepthScale = 0.001

// UnsupportedEncodingError is returned when a depth frame has an encoding the pipeline cannot read.
// Nothing downstream can run without depth, so callers treat it as fatal.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported depth encoding %q, expected %s or %s", e.Encoding, Depth16UC1, Depth32FC1)
}

// NewUnsupportedEncodingError returns an UnsupportedEncodingError for encoding.
func NewUnsupportedEncodingError(encoding string) error {
	return &UnsupportedEncodingError{Encoding: encoding}
}

// RawDepth is an undecoded depth frame as it came off the sensor.
type RawDepth struct {
	Encoding    string
	Width       int
	Height      int
	Step        int
	IsBigEndian bool
	Data        []byte
}

func (raw *RawDepth) byteOrder() binary.ByteOrder {
	if raw.IsBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (raw *RawDepth) checkSize(bytesPerPixel int) (int, error) {
	step := raw.Step
	if step == 0 {
		step = raw.Width * bytesPerPixel
	}
	if raw.Width <= 0 || raw.Height <= 0 {
		return 0, errors.Errorf("invalid depth frame size (%d, %d)", raw.Width, raw.Height)
	}
	if step < raw.Width*bytesPerPixel {
		return 0, errors.Errorf("depth row step %d shorter than %d pixels of %d bytes", step, raw.Width, bytesPerPixel)
	}
	if len(raw.Data) < step*(raw.Height-1)+raw.Width*bytesPerPixel {
		return 0, errors.Errorf("depth frame has %d bytes, expected %d", len(raw.Data), step*raw.Height)
	}
	return step, nil
}

// DecodeDepth converts a raw frame into meters. 16-bit frames are multiplied by depthScale; float
// frames are copied as they are, NaNs included.
func DecodeDepth(raw *RawDepth, depthScale float64) (*FloatDepthMap, error) {
	var bytesPerPixel int
	switch DepthEncoding(raw.Encoding) {
	case Depth16UC1:
		bytesPerPixel = 2
	case Depth32FC1:
		bytesPerPixel = 4
	default:
		return nil, NewUnsupportedEncodingError(raw.Encoding)
	}
	step, err := raw.checkSize(bytesPerPixel)
	if err != nil {
		return nil, err
	}

	order := raw.byteOrder()
	dm := NewEmptyFloatDepthMap(raw.Width, raw.Height)
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*step:]
		for x := 0; x < raw.Width; x++ {
			offset := x * bytesPerPixel
			if bytesPerPixel == 2 {
				dm.Set(x, y, float32(float64(order.Uint16(row[offset:]))*depthScale))
			} else {
				dm.Set(x, y, math.Float32frombits(order.Uint32(row[offset:])))
			}
		}
	}
	return dm, nil
}
