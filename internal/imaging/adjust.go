package imaging

import (
	"image"
	"image/draw"
	"math"
)

// NeedsAdjustment reports whether brightness and contrast change any pixel
func NeedsAdjustment(brightness, contrast float64) bool {
	return brightness != 0 || contrast != 1
}

// Adjust applies out = contrast*in + brightness to a single channel value,
// clamped to the valid channel range
func Adjust(c uint8, brightness, contrast float64) uint8 {
	v := math.Round(contrast*float64(c) + brightness)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// AdjustImage applies the brightness/contrast transform to the red, green and
// blue channels of every pixel. Alpha is copied unchanged.
func AdjustImage(img image.Image, brightness, contrast float64) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	var table [256]uint8
	for i := range table {
		table[i] = Adjust(uint8(i), brightness, contrast)
	}

	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = table[out.Pix[i]]
		out.Pix[i+1] = table[out.Pix[i+1]]
		out.Pix[i+2] = table[out.Pix[i+2]]
	}
	return out
}
