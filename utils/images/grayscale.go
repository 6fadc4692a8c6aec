package images

import (
	"image"
	"image/color"
)

// IsGrayscale reports whether every pixel has R==G==B. Covers scanned from
// print are often grayscale JPEGs stored in color models; resampling such an
// image introduces color noise unless it is kept gray. Walks every pixel, so
// large covers pay for it.
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				return false
			}
		}
	}
	return true
}
