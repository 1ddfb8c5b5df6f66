// Package transform holds the camera models used to move between pixels and 3D points.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewIntrinsicsFromK builds intrinsics from the row-major 3x3 camera matrix of a camera info message.
func NewIntrinsicsFromK(width, height int, k []float64) (*PinholeCameraIntrinsics, error) {
	if len(k) != 9 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("camera matrix has %d entries, expected 9", len(k)))
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k[0],
		Fy:     k[4],
		Ppx:    k[2],
		Ppy:    k[5],
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	byteValue, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON file")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, intrinsics.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point.
// The intrinsics parameters should be the ones of the sensor used to obtain the image that
// contains the pixel.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	if params == nil {
		return r3.Vector{}
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return r3.Vector{X: xOverZ * z, Y: yOverZ * z, Z: z}
}

// PointToPixel projects a 3D point to a pixel in an image plane.
// The intrinsics parameters should be the ones of the sensor we want to project to.
func (params *PinholeCameraIntrinsics) PointToPixel(pt r3.Vector) (float64, float64) {
	if pt.Z != 0. {
		xPx := math.Round((pt.X/pt.Z)*params.Fx + params.Ppx)
		yPx := math.Round((pt.Y/pt.Z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	// if depth is zero at this pixel, return negative coordinates so that the cropping to image bounds will filter it out
	return -1.0, -1.0
}

// CameraModels pairs the depth and color camera intrinsics latched from the first camera info.
type CameraModels struct {
	Depth *PinholeCameraIntrinsics
	Color *PinholeCameraIntrinsics
}

// CheckValid checks both intrinsics.
func (models CameraModels) CheckValid() error {
	if err := models.Depth.CheckValid(); err != nil {
		return errors.Wrap(err, "depth camera")
	}
	if err := models.Color.CheckValid(); err != nil {
		return errors.Wrap(err, "color camera")
	}
	return nil
}
