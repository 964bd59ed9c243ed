package augment

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
)

// gaussianKernel returns a normalized 1-D kernel truncated at 4 sigma
func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * d * d / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// gaussianFilter smooths an h x w plane with a separable gaussian, mirroring
// pixels past the border.
func gaussianFilter(plane []float64, h, w int, sigma float64) []float64 {
	if sigma <= 0 {
		out := make([]float64, len(plane))
		copy(out, plane)
		return out
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	window := make([]float64, len(kernel))

	rows := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for k := range window {
				window[k] = plane[y*w+reflect(x+k-radius, w)]
			}
			rows[y*w+x] = floats.Dot(kernel, window)
		}
	}

	out := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for k := range window {
				window[k] = rows[reflect(y+k-radius, h)*w+x]
			}
			out[y*w+x] = floats.Dot(kernel, window)
		}
	}
	return out
}

// toGray quantizes a plane to 8 bits
func toGray(plane []float64, h, w int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = clampByte(plane[y*w+x])
		}
	}
	return img
}

// fromRGBA reads the red channel of a 4-byte-per-pixel buffer back into a plane
func fromRGBA(pix []uint8, stride, h, w int) []float64 {
	plane := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = float64(pix[y*stride+x*4])
		}
	}
	return plane
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// adjustBrightness scales every pixel of an 8-bit plane by factor
func adjustBrightness(plane []float64, h, w int, factor float64) []float64 {
	scale := func(v uint8) uint8 { return clampByte(float64(v) * factor) }
	out := imaging.AdjustFunc(toGray(plane, h, w), func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
	})
	return fromRGBA(out.Pix, out.Stride, h, w)
}

// medianFilter applies a size x size median to an 8-bit plane
func medianFilter(plane []float64, h, w, size int) []float64 {
	out := effect.Median(toGray(plane, h, w), float64(size-1)/2)
	return fromRGBA(out.Pix, out.Stride, h, w)
}
