package augment

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"segprep/internal/models"
)

// ElasticParams scales the deformation to the image width
type ElasticParams struct {
	// Alpha multiplies the smoothed displacement field
	Alpha float64

	// Sigma is the gaussian standard deviation used to smooth the field
	Sigma float64

	// AlphaAffine bounds the perturbation of the affine control points
	AlphaAffine float64
}

// DefaultElasticParams derives the deformation strength from the image width
func DefaultElasticParams(width int) ElasticParams {
	w := float64(width)
	return ElasticParams{Alpha: w * 2, Sigma: w * 0.08, AlphaAffine: w * 0.08}
}

// ElasticTransform applies a random affine warp followed by a smooth random
// displacement field to every channel of img. All channels share the same
// deformation, so a mask concatenated to the image stays aligned with it.
func ElasticTransform(img *models.Image, p ElasticParams, rng *rand.Rand) (*models.Image, error) {
	warped, err := randomAffine(img, p.AlphaAffine, rng)
	if err != nil {
		return nil, err
	}

	dy := displacementField(img.H, img.W, p, rng)
	dx := displacementField(img.H, img.W, p, rng)

	out := models.NewImage(img.H, img.W, img.C)
	for c := 0; c < img.C; c++ {
		plane := warped.Plane(c)
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				i := y*img.W + x
				out.Set(y, x, c, bilinear(plane, img.H, img.W, float64(y)+dy[i], float64(x)+dx[i], reflect))
			}
		}
	}
	return out, nil
}

// displacementField is uniform noise in [-1, 1) smoothed and scaled by Alpha
func displacementField(h, w int, p ElasticParams, rng *rand.Rand) []float64 {
	noise := make([]float64, h*w)
	for i := range noise {
		noise[i] = rng.Float64()*2 - 1
	}
	field := gaussianFilter(noise, h, w, p.Sigma)
	for i := range field {
		field[i] *= p.Alpha
	}
	return field
}

// randomAffine perturbs three control points around the image centre by up
// to alphaAffine pixels and warps img with the resulting affine map.
func randomAffine(img *models.Image, alphaAffine float64, rng *rand.Rand) (*models.Image, error) {
	square := min(img.H, img.W) / 3
	if square == 0 || alphaAffine <= 0 {
		return img.Clone(), nil
	}
	cx, cy := float64(img.W/2), float64(img.H/2)
	s := float64(square)
	src := [3][2]float64{{cx + s, cy + s}, {cx + s, cy - s}, {cx - s, cy - s}}

	noise := distuv.Uniform{Min: -alphaAffine, Max: alphaAffine, Src: rng}
	var dst [3][2]float64
	for i, pt := range src {
		dst[i] = [2]float64{pt[0] + noise.Rand(), pt[1] + noise.Rand()}
	}

	inv, err := inverseAffine(src, dst)
	if err != nil {
		// collinear control points leave the image untouched
		return img.Clone(), nil
	}

	out := models.NewImage(img.H, img.W, img.C)
	for c := 0; c < img.C; c++ {
		plane := img.Plane(c)
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				fx, fy := float64(x), float64(y)
				sx := inv.At(0, 0)*fx + inv.At(0, 1)*fy + inv.At(0, 2)
				sy := inv.At(1, 0)*fx + inv.At(1, 1)*fy + inv.At(1, 2)
				out.Set(y, x, c, bilinear(plane, img.H, img.W, sy, sx, reflect101))
			}
		}
	}
	return out, nil
}

// inverseAffine solves the affine map taking src onto dst, in (x, y)
// coordinates, and returns its 3x3 homogeneous inverse. Warping samples the
// source at inverse(dst pixel).
func inverseAffine(src, dst [3][2]float64) (*mat.Dense, error) {
	a := mat.NewDense(3, 3, nil)
	b := mat.NewDense(3, 2, nil)
	for i := 0; i < 3; i++ {
		a.SetRow(i, []float64{src[i][0], src[i][1], 1})
		b.SetRow(i, []float64{dst[i][0], dst[i][1]})
	}

	var coef mat.Dense
	if err := coef.Solve(a, b); err != nil {
		return nil, errors.Wrap(err, "failed to solve affine transform")
	}

	m := mat.NewDense(3, 3, []float64{
		coef.At(0, 0), coef.At(1, 0), coef.At(2, 0),
		coef.At(0, 1), coef.At(1, 1), coef.At(2, 1),
		0, 0, 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, errors.Wrap(err, "affine transform is not invertible")
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if v := inv.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("affine transform is not invertible")
			}
		}
	}
	return &inv, nil
}
