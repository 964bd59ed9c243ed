package augment

import (
	"math"

	"segprep/internal/models"
)

// FlipVertical mirrors img upside down
func FlipVertical(img *models.Image) *models.Image {
	out := models.NewImage(img.H, img.W, img.C)
	rowLen := img.W * img.C
	for y := 0; y < img.H; y++ {
		src := (img.H - 1 - y) * rowLen
		copy(out.Data[y*rowLen:(y+1)*rowLen], img.Data[src:src+rowLen])
	}
	return out
}

// FlipHorizontal mirrors img left to right
func FlipHorizontal(img *models.Image) *models.Image {
	out := models.NewImage(img.H, img.W, img.C)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			src := img.Index(y, img.W-1-x, 0)
			dst := out.Index(y, x, 0)
			copy(out.Data[dst:dst+img.C], img.Data[src:src+img.C])
		}
	}
	return out
}

// Rot90 rotates img counter-clockwise by k quarter turns. Odd k swaps H and W.
func Rot90(img *models.Image, k int) *models.Image {
	k = ((k % 4) + 4) % 4
	h, w := img.H, img.W
	if k%2 == 1 {
		h, w = w, h
	}
	out := models.NewImage(h, w, img.C)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sy, sx int
			switch k {
			case 0:
				sy, sx = y, x
			case 1:
				sy, sx = x, img.W-1-y
			case 2:
				sy, sx = img.H-1-y, img.W-1-x
			case 3:
				sy, sx = img.H-1-x, y
			}
			src := img.Index(sy, sx, 0)
			dst := out.Index(y, x, 0)
			copy(out.Data[dst:dst+img.C], img.Data[src:src+img.C])
		}
	}
	return out
}

// Rotate turns img by degrees about its centre keeping the geometry
// unchanged. Pixels brought in from outside the image are mirrored.
// Linear interpolation is used for images, nearest neighbour (interpolate
// false) for label masks so no new label values appear.
func Rotate(img *models.Image, degrees float64, interpolate bool) *models.Image {
	sample := nearest
	if interpolate {
		sample = bilinear
	}

	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cy := float64(img.H-1) / 2
	cx := float64(img.W-1) / 2

	out := models.NewImage(img.H, img.W, img.C)
	planes := make([][]float64, img.C)
	for c := range planes {
		planes[c] = img.Plane(c)
	}
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			dy, dx := float64(y)-cy, float64(x)-cx
			sy := cos*dy - sin*dx + cy
			sx := sin*dy + cos*dx + cx
			for c, plane := range planes {
				out.Set(y, x, c, sample(plane, img.H, img.W, sy, sx, reflect))
			}
		}
	}
	return out
}
