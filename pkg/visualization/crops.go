package visualization

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"segprep/internal/models"
	"segprep/pkg/tiling"
)

// CheckParams configures CheckCrops
type CheckParams struct {
	// OutH and OutW are the size of the images the crops came from
	OutH, OutW int

	NumExamples  int
	IncludeCrops bool

	// Files go to OutDir/JobID
	OutDir string
	JobID  string

	// Suffix is inserted in every file name, e.g. "_x_" or "_y_"
	Suffix string

	Grid bool

	Logger *logrus.Logger
}

// CheckCrops writes crops and the mosaics rebuilt from them so that a
// cropping run can be inspected by eye. Crops are saved as c<suffix><i>.png
// and mosaics as f<suffix><i>.png.
//
// When there are not enough crops for NumExamples full mosaics the number of
// examples is lowered to what the data can fill.
func CheckCrops(data *models.Volume, p CheckParams) error {
	log := p.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if data.N == 0 {
		return errors.Wrap(models.ErrConfig, "no crops to check")
	}
	if p.OutH < data.H && p.OutW < data.W {
		return errors.Wrapf(models.ErrConfig,
			"output size %dx%d must not be smaller than the crops %s", p.OutH, p.OutW, data)
	}

	dir := filepath.Join(p.OutDir, p.JobID)
	scale := DisplayScale(data.Data)

	layout := tiling.GridLayout(p.OutH, p.OutW, data.H, data.W)
	num := p.NumExamples
	total := layout.Count() * num
	if total > data.N {
		num = (data.N + layout.Count() - 1) / layout.Count()
		total = data.N
		log.WithFields(logrus.Fields{"component": "visualization", "examples": num}).
			Warn("Requested number of examples too high for data")
	}

	entry := log.WithFields(logrus.Fields{
		"component": "visualization",
		"dir":       dir,
		"suffix":    p.Suffix,
	})

	if p.IncludeCrops {
		entry.WithField("crops", total).Info("Saving cropped data images")
		for i := 0; i < total; i++ {
			img := ToNRGBA(data.Image(i), scale)
			if err := SavePNG(img, filepath.Join(dir, fmt.Sprintf("c%s%d.png", p.Suffix, i))); err != nil {
				return err
			}
		}
	}

	entry.WithFields(logrus.Fields{
		"examples": num,
		"from":     [2]int{data.H, data.W},
		"into":     [2]int{data.H * layout.Rows, data.W * layout.Cols},
	}).Info("Reconstructing images from crops")

	mosaics := tiling.MergeWithoutOverlap(data, num, layout, p.Grid)
	for i := 0; i < num; i++ {
		img := PlaneToGray(mosaics.Plane(i, 0), mosaics.H, mosaics.W, scale)
		if err := SavePNG(img, filepath.Join(dir, fmt.Sprintf("f%s%d.png", p.Suffix, i))); err != nil {
			return err
		}
	}
	return nil
}
