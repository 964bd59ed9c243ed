package generator

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/colornames"

	"segprep/internal/models"
	"segprep/pkg/augment"
	"segprep/pkg/visualization"
)

// markSize is the half-size of the square painted on the sampled point
const markSize = 6

// SampleParams configures TransformedSamples
type SampleParams struct {
	Num int

	// SaveDir receives the PNG files under SaveDir/JobID. Empty skips saving.
	SaveDir string
	JobID   string
	Prefix  string

	// OriginalElastic also saves the untransformed sample when the elastic
	// step fired.
	OriginalElastic bool

	// RandomImages draws source samples at random instead of in order
	RandomImages bool
}

// TransformedSamples runs the transform pipeline over Num samples with the
// grid overlay enabled and optionally writes them to disk for inspection.
// Files are named <prefix>x_<pos><transforms>.png and
// <prefix>y_<pos><transforms>.png. When crops are centred on probability map
// points the source image and mask are also saved with the point marked in
// red and the crop outlined in blue.
func (g *Generator) TransformedSamples(p SampleParams) (*models.Volume, *models.Volume, error) {
	if p.Num > 0 && g.x.N == 0 {
		return nil, nil, errors.Wrap(models.ErrConfig, "no samples to transform")
	}
	h, w := g.SampleShape()
	bx := models.NewVolume(p.Num, h, w, g.x.C)
	by := models.NewVolume(p.Num, h, w, g.y.C)

	dir := filepath.Join(p.SaveDir, p.JobID)
	g.log.WithFields(logrus.Fields{"examples": p.Num, "dir": dir}).Info("Creating the examples of data augmentation")

	rng := g.pipeline.Rand()
	for i := 0; i < p.Num; i++ {
		pos := i % g.x.N
		if p.RandomImages {
			pos = rng.Intn(g.x.N)
		}

		img, mask, crop, err := g.crop(pos)
		if err != nil {
			return nil, nil, err
		}
		tImg, tMask, rec, err := g.pipeline.Apply(img, mask, true)
		if err != nil {
			return nil, nil, err
		}
		if err := bx.SetImage(i, tImg); err != nil {
			return nil, nil, err
		}
		if err := by.SetImage(i, tMask); err != nil {
			return nil, nil, err
		}

		if p.SaveDir == "" {
			continue
		}
		name := fmt.Sprintf("%d%s", pos, rec)
		if err := saveXY(dir, p.Prefix, name, tImg, tMask); err != nil {
			return nil, nil, err
		}
		if crop != nil && g.opts.ProbMaps != nil {
			if err := g.saveMarked(dir, p.Prefix, name, pos, crop); err != nil {
				return nil, nil, err
			}
		}
		if p.OriginalElastic && rec.Applied("_e") {
			if err := saveXY(dir, p.Prefix, name+"_original", img, mask); err != nil {
				return nil, nil, err
			}
		}
	}
	return bx, by, nil
}

func saveXY(dir, prefix, name string, img, mask *models.Image) error {
	if err := visualization.SaveImage(img, filepath.Join(dir, prefix+"x_"+name+".png")); err != nil {
		return err
	}
	return visualization.SavePNG(visualization.ToNRGBA(mask, 255), filepath.Join(dir, prefix+"y_"+name+".png"))
}

// saveMarked writes the full source sample with the crop point and window
func (g *Generator) saveMarked(dir, prefix, name string, pos int, crop *augment.CropResult) error {
	src := g.x.Image(pos)
	targets := []struct {
		tag   string
		img   *models.Image
		scale float64
	}{
		{"mark_x_", src, visualization.DisplayScale(src.Data)},
		{"mark_y_", g.y.Image(pos), 255},
	}
	for _, t := range targets {
		canvas := visualization.ToNRGBA(t.img, t.scale)
		visualization.MarkPoint(canvas, crop.Point[0], crop.Point[1], markSize, colornames.Red)
		visualization.DrawRect(canvas, crop.Origin[0], crop.Origin[1], crop.Image.H, crop.Image.W, colornames.Blue)
		if err := visualization.SavePNG(canvas, filepath.Join(dir, prefix+t.tag+name+".png")); err != nil {
			return err
		}
	}
	return nil
}
