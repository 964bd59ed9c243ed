package augment

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"

	"segprep/internal/models"
)

// CropResult is one random sub-window of an image/mask pair
type CropResult struct {
	Image *models.Image
	Mask  *models.Image

	// Point is the (row, col) drawn from the probability map. It equals
	// Origin when no probability map was used.
	Point [2]int

	// Origin is the (row, col) of the top-left corner of the crop
	Origin [2]int
}

// Cropper extracts fixed-size windows from image/mask pairs.
//
// In validation mode every crop starts at (0, 0) so that validation batches
// are identical across epochs. Otherwise the origin is either drawn uniformly
// or, when a probability map is supplied, centred on a pixel sampled from it.
type Cropper struct {
	Height, Width int
	Validation    bool

	rng *rand.Rand
}

// NewCropper returns a Cropper drawing from rng. A nil rng uses a
// time-seeded source.
func NewCropper(height, width int, validation bool, rng *rand.Rand) *Cropper {
	if rng == nil {
		rng = newRand(0)
	}
	return &Cropper{Height: height, Width: width, Validation: validation, rng: rng}
}

// Crop cuts a Height x Width window out of img and mask. probMap, when not
// nil, must hold img.H*img.W non-negative weights.
func (c *Cropper) Crop(img, mask *models.Image, probMap []float64) (*CropResult, error) {
	if c.Height <= 0 || c.Width <= 0 || c.Height > img.H || c.Width > img.W {
		return nil, errors.Wrapf(models.ErrConfig, "crop %dx%d does not fit image %s", c.Height, c.Width, img)
	}
	if mask != nil && (mask.H != img.H || mask.W != img.W) {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "mask %s does not match image %s", mask, img)
	}

	var y, x, py, px int
	switch {
	case c.Validation:
		// fixed origin
	case probMap != nil:
		var err error
		py, px, err = c.samplePoint(probMap, img.H, img.W)
		if err != nil {
			return nil, err
		}
		y = cropOrigin(py, c.Height, img.H)
		x = cropOrigin(px, c.Width, img.W)
	default:
		y = c.rng.Intn(img.H - c.Height + 1)
		x = c.rng.Intn(img.W - c.Width + 1)
		py, px = y, x
	}

	res := &CropResult{
		Image:  img.Window(y, x, c.Height, c.Width),
		Point:  [2]int{py, px},
		Origin: [2]int{y, x},
	}
	if mask != nil {
		res.Mask = mask.Window(y, x, c.Height, c.Width)
	}
	return res, nil
}

// samplePoint draws a linear index weighted by probMap and converts it to
// (row, col).
func (c *Cropper) samplePoint(probMap []float64, h, w int) (int, int, error) {
	if len(probMap) != h*w {
		return 0, 0, errors.Wrapf(models.ErrShapeMismatch,
			"probability map has %d values, image has %d pixels", len(probMap), h*w)
	}
	if floats.HasNaN(probMap) || floats.Min(probMap) < 0 {
		return 0, 0, errors.Wrap(models.ErrConfig, "probability map has negative or NaN weights")
	}
	if sum := floats.Sum(probMap); sum <= 0 || math.IsInf(sum, 0) {
		return 0, 0, errors.Wrapf(models.ErrDegenerateProbMap, "weights sum to %v", sum)
	}

	idx, ok := sampleuv.NewWeighted(probMap, c.rng).Take()
	if !ok {
		return 0, 0, errors.Wrap(models.ErrDegenerateProbMap, "no weight left to sample")
	}
	return idx / w, idx % w, nil
}

// cropOrigin places a crop of size crop around point p on an axis of length
// dim. Points within half a crop of an edge snap the crop to that edge.
func cropOrigin(p, crop, dim int) int {
	half := crop / 2
	var o int
	switch {
	case p < half:
		o = 0
	case p > dim-half:
		o = dim - crop
	default:
		o = p - half
	}
	// odd crop sizes can overshoot the far edge by one
	if o > dim-crop {
		o = dim - crop
	}
	return o
}
