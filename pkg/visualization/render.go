package visualization

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"segprep/internal/models"
)

// DisplayScale returns the factor that brings data into the 0-255 range:
// 1 for raw 8-bit data, 255 for normalized data and masks.
func DisplayScale(data []float64) float64 {
	if len(data) > 0 && floats.Max(data) > 1 {
		return 1
	}
	return 255
}

func toByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// PlaneToGray renders an h x w plane as an 8-bit grayscale image
func PlaneToGray(plane []float64, h, w int, scale float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = toByte(plane[y*w+x] * scale)
		}
	}
	return img
}

// ToNRGBA renders img for display. Single-channel images are replicated
// to gray, images with three or more channels use the first three as RGB.
func ToNRGBA(img *models.Image, scale float64) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.W, img.H))
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			var r, g, b uint8
			if img.C >= 3 {
				r = toByte(img.At(y, x, 0) * scale)
				g = toByte(img.At(y, x, 1) * scale)
				b = toByte(img.At(y, x, 2) * scale)
			} else {
				r = toByte(img.At(y, x, 0) * scale)
				g, b = r, r
			}
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}

// SavePNG writes img to path, creating the parent directory
func SavePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

// SaveImage renders and saves a sample, choosing the display scale from
// its values.
func SaveImage(img *models.Image, path string) error {
	return SavePNG(ToNRGBA(img, DisplayScale(img.Data)), path)
}

// MarkPoint fills the square of half-size half centred on (y, x)
func MarkPoint(img *image.NRGBA, y, x, half int, c color.Color) {
	b := img.Bounds()
	for yy := max(y-half, b.Min.Y); yy <= min(y+half, b.Max.Y-1); yy++ {
		for xx := max(x-half, b.Min.X); xx <= min(x+half, b.Max.X-1); xx++ {
			img.Set(xx, yy, c)
		}
	}
}

// DrawRect outlines the h x w rectangle whose top-left corner is (y, x)
func DrawRect(img *image.NRGBA, y, x, h, w int, c color.Color) {
	for k := 0; k < w; k++ {
		img.Set(x+k, y, c)
		img.Set(x+k, y+h-1, c)
	}
	for k := 0; k < h; k++ {
		img.Set(x, y+k, c)
		img.Set(x+w-1, y+k, c)
	}
}
