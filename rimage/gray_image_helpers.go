package rimage

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImageRange is the full-scale value of an 8-bit channel. Masks filled with it mark every pixel valid.
const ImageRange = 255

// SameImgSize compares image.Grays to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	if (g1.Bounds().Max.X != g2.Bounds().Max.X) || (g1.Bounds().Max.Y != g2.Bounds().Max.Y) {
		return false
	}
	return true
}

// ToGray converts a color image to 8-bit luminance.
func ToGray(img image.Image) *image.Gray {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			// grayscale output has equal channels
			out.Pix[y*out.Stride+x] = gray.Pix[y*gray.Stride+x*4]
		}
	}
	return out
}

// NewFilledMask returns a width x height mask with every pixel set to ImageRange.
func NewFilledMask(width, height int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	for i := range mask.Pix {
		mask.Pix[i] = ImageRange
	}
	return mask
}
