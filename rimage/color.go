package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// The color encodings DecodeColor understands.
const (
	EncodingRGB8  = "rgb8"
	EncodingBGR8  = "bgr8"
	EncodingRGBA8 = "rgba8"
	EncodingBGRA8 = "bgra8"
	EncodingMono8 = "mono8"
)

// RawImage is an undecoded 8-bit image frame.
type RawImage struct {
	Encoding string
	Width    int
	Height   int
	Step     int
	Data     []byte
}

func channelsOf(encoding string) (int, error) {
	switch encoding {
	case EncodingRGB8, EncodingBGR8:
		return 3, nil
	case EncodingRGBA8, EncodingBGRA8:
		return 4, nil
	case EncodingMono8:
		return 1, nil
	default:
		return 0, errors.Errorf("unsupported color encoding %q", encoding)
	}
}

func (raw *RawImage) rows(channels int) (int, error) {
	step := raw.Step
	if step == 0 {
		step = raw.Width * channels
	}
	if raw.Width <= 0 || raw.Height <= 0 {
		return 0, errors.Errorf("invalid image size (%d, %d)", raw.Width, raw.Height)
	}
	if step < raw.Width*channels || len(raw.Data) < step*(raw.Height-1)+raw.Width*channels {
		return 0, errors.Errorf("image has %d bytes, expected %d rows of %d", len(raw.Data), raw.Height, step)
	}
	return step, nil
}

// DecodeColor converts a raw 8-bit frame into an RGB image. BGR layouts are swapped so the result
// is always RGB ordered; mono frames are replicated to all three channels.
func DecodeColor(raw *RawImage) (*image.NRGBA, error) {
	channels, err := channelsOf(raw.Encoding)
	if err != nil {
		return nil, err
	}
	step, err := raw.rows(channels)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*step:]
		for x := 0; x < raw.Width; x++ {
			px := row[x*channels:]
			var c color.NRGBA
			switch raw.Encoding {
			case EncodingRGB8:
				c = color.NRGBA{px[0], px[1], px[2], 255}
			case EncodingBGR8:
				c = color.NRGBA{px[2], px[1], px[0], 255}
			case EncodingRGBA8:
				c = color.NRGBA{px[0], px[1], px[2], px[3]}
			case EncodingBGRA8:
				c = color.NRGBA{px[2], px[1], px[0], px[3]}
			default:
				c = color.NRGBA{px[0], px[0], px[0], 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}

// DecodeMono8 converts a single channel 8-bit frame, such as an instance mask, into a gray image.
func DecodeMono8(raw *RawImage) (*image.Gray, error) {
	if raw.Encoding != EncodingMono8 && raw.Encoding != "8UC1" {
		return nil, errors.Errorf("mask encoding %q is not single channel 8-bit", raw.Encoding)
	}
	step, err := raw.rows(1)
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, raw.Width, raw.Height))
	for y := 0; y < raw.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+raw.Width], raw.Data[y*step:y*step+raw.Width])
	}
	return img, nil
}
