// Package dataset loads image stacks and their masks from directories of
// image files into volumes ready for tiling and training.
package dataset

import (
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"segprep/internal/models"
)

// Shape is the declared geometry of every image of a directory
type Shape struct {
	H int `yaml:"height"`
	W int `yaml:"width"`
	C int `yaml:"channels"`
}

// ReadDir returns the names of the regular files in dir, sorted so that
// images and masks pair up by position.
func ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadVolume decodes every file of dir into a zero-filled volume of the
// declared shape. Smaller images are pasted at the top-left corner; larger
// ones are rejected. Only the first shape.C channels are kept, so a single
// channel volume takes the red (or gray) channel of colour files. Samples
// are reduced to 8 bits: 16-bit files such as Gray16 TIFF stacks keep only
// their high byte, so every volume shares the [0, 255] range that mask
// rescaling and PNG rendering expect.
func LoadVolume(dir string, shape Shape) (*models.Volume, error) {
	if shape.H <= 0 || shape.W <= 0 || shape.C <= 0 {
		return nil, errors.Wrapf(models.ErrConfig, "invalid shape %+v for %s", shape, dir)
	}
	names, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}

	vol := models.NewVolume(len(names), shape.H, shape.W, shape.C)
	for n, name := range names {
		img, err := imaging.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load image %s", name)
		}
		if err := paste(vol, n, img); err != nil {
			return nil, errors.Wrapf(err, "image %s", name)
		}
	}
	return vol, nil
}

// paste copies img into image n of vol at the origin
func paste(vol *models.Volume, n int, img image.Image) error {
	b := img.Bounds()
	if b.Dy() > vol.H || b.Dx() > vol.W {
		return errors.Wrapf(models.ErrShapeMismatch,
			"%dx%d image does not fit declared shape %dx%d", b.Dy(), b.Dx(), vol.H, vol.W)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rgb := [3]float64{float64(r >> 8), float64(g >> 8), float64(bl >> 8)}
			for c := 0; c < vol.C && c < 3; c++ {
				vol.Set(n, y, x, c, rgb[c])
			}
		}
	}
	return nil
}

// CheckBinaryMasks samples up to four files of dir and fails with ErrConfig
// if any of them does not hold exactly two distinct values.
func CheckBinaryMasks(dir string, rng *rand.Rand, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	logger.WithFields(logrus.Fields{"component": "dataset", "dir": dir}).
		Info("Checking whether the masks are binary")

	names, err := ReadDir(dir)
	if err != nil {
		return err
	}
	sample := rng.Perm(len(names))
	if len(sample) > 4 {
		sample = sample[:4]
	}
	for _, i := range sample {
		img, err := imaging.Open(filepath.Join(dir, names[i]))
		if err != nil {
			return errors.Wrapf(err, "failed to load mask %s", names[i])
		}
		if n := distinctValues(img); n != 2 {
			return errors.Wrapf(models.ErrConfig,
				"mask %s is not binary, it has %d distinct values", names[i], n)
		}
	}
	return nil
}

// distinctValues counts the distinct pixel values of img
func distinctValues(img image.Image) int {
	seen := map[[4]uint32]struct{}{}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			seen[[4]uint32{r, g, bl, a}] = struct{}{}
		}
	}
	return len(seen)
}
