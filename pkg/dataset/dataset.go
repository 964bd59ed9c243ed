package dataset

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"segprep/internal/models"
	"segprep/pkg/tiling"
	"segprep/pkg/visualization"
)

// ExtraDataset is an additional training set appended to the main one
type ExtraDataset struct {
	ImagePath string `yaml:"images"`
	MaskPath  string `yaml:"masks"`
	Shape     Shape  `yaml:"shape"`

	// DiscardPercentage applies to this dataset's crops
	DiscardPercentage float64 `yaml:"discardPercentage"`
}

// Params configures Load
type Params struct {
	TrainPath     string
	TrainMaskPath string
	TestPath      string
	TestMaskPath  string

	TrainShape Shape
	TestShape  Shape

	// ValSplit is the fraction of training samples moved to validation.
	// Zero disables the split.
	ValSplit   float64
	ShuffleVal bool
	Seed       uint64

	// NumCropsPerDataset truncates the training set, and every extra
	// dataset after cropping, to this many samples. Zero keeps all.
	NumCropsPerDataset int

	// CropH and CropW enable grid cropping of every set when non-zero
	CropH, CropW int

	// DiscardPercentage drops training crops with too little foreground
	DiscardPercentage float64
	ClassTag          float64

	// CheckCrops writes crop and mosaic examples under CheckDir/JobID
	CheckCrops bool
	CheckDir   string
	JobID      string

	Extra []ExtraDataset

	Logger *logrus.Logger
}

// Dataset is the result of Load. Masks are scaled to [0, 1].
type Dataset struct {
	XTrain, YTrain *models.Volume
	XVal, YVal     *models.Volume
	XTest, YTest   *models.Volume

	// Norm is the mean intensity of the training images
	Norm float64

	// CropMade reports whether the sets hold grid crops
	CropMade bool

	// TestLayout is the grid of crops per test image, needed to reassemble
	// test predictions. Zero when no crops were made.
	TestLayout models.Layout
}

// Load reads the training and test sets, optionally crops them into
// tiles, appends extra datasets and splits off a validation set.
//
// Steps:
//  0. train images and masks, truncated to NumCropsPerDataset
//  1. test images and masks
//  2. grid cropping (train with discard, test without) and crop checks
//  3. extra datasets
//  4. validation split and normalization value
func Load(p Params) (*Dataset, error) {
	log := p.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "dataset")

	if p.ValSplit < 0 || p.ValSplit >= 1 {
		return nil, errors.Wrapf(models.ErrConfig, "validation split %v outside [0, 1)", p.ValSplit)
	}
	if (p.CropH > 0) != (p.CropW > 0) {
		return nil, errors.Wrapf(models.ErrConfig, "crop shape %dx%d must set both sides", p.CropH, p.CropW)
	}

	entry.Info("0) Loading train images and masks")
	xTrain, yTrain, err := loadPair(p.TrainPath, p.TrainMaskPath, p.TrainShape)
	if err != nil {
		return nil, errors.Wrap(err, "train set")
	}
	if p.NumCropsPerDataset > 0 {
		xTrain = xTrain.Slice(0, p.NumCropsPerDataset)
		yTrain = yTrain.Slice(0, p.NumCropsPerDataset)
	}

	entry.Info("1) Loading test images and masks")
	xTest, yTest, err := loadPair(p.TestPath, p.TestMaskPath, p.TestShape)
	if err != nil {
		return nil, errors.Wrap(err, "test set")
	}

	ds := &Dataset{}
	testShape := p.TestShape
	if p.CropH > 0 {
		entry.WithField("crop", [2]int{p.CropH, p.CropW}).Info("2) Cropping train and test data")
		train, err := tiling.CropGrid(xTrain, yTrain, tiling.GridParams{
			TileH: p.CropH, TileW: p.CropW,
			DiscardPercentage: p.DiscardPercentage, ClassTag: p.ClassTag,
			Logger: log,
		})
		if err != nil {
			return nil, err
		}
		xTrain, yTrain = train.Images, train.Masks

		test, err := tiling.CropGrid(xTest, yTest, tiling.GridParams{TileH: p.CropH, TileW: p.CropW, Logger: log})
		if err != nil {
			return nil, err
		}
		xTest, yTest = test.Images, test.Masks
		ds.TestLayout = test.Layout

		if p.CheckCrops {
			if err := checkCrops(xTrain, yTrain, p.TrainShape, "", p, log); err != nil {
				return nil, err
			}
		}
		testShape.H, testShape.W = p.CropH, p.CropW
		ds.CropMade = true
	}

	for i, extra := range p.Extra {
		entry.WithFields(logrus.Fields{"index": i, "path": extra.ImagePath}).Info("3) Loading extra dataset")
		ex, ey, err := loadPair(extra.ImagePath, extra.MaskPath, extra.Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "extra dataset %d", i)
		}
		if !ds.CropMade {
			if extra.Shape.H != testShape.H || extra.Shape.W != testShape.W {
				return nil, errors.Wrapf(models.ErrShapeMismatch,
					"extra dataset shape %dx%d is not equal the original dataset shape %dx%d",
					extra.Shape.H, extra.Shape.W, testShape.H, testShape.W)
			}
		} else {
			res, err := tiling.CropGrid(ex, ey, tiling.GridParams{
				TileH: p.CropH, TileW: p.CropW,
				DiscardPercentage: extra.DiscardPercentage, ClassTag: p.ClassTag,
				Logger: log,
			})
			if err != nil {
				return nil, err
			}
			ex, ey = res.Images, res.Masks
			if p.NumCropsPerDataset > 0 {
				ex = ex.Slice(0, p.NumCropsPerDataset)
				ey = ey.Slice(0, p.NumCropsPerDataset)
			}
			if p.CheckCrops {
				if err := checkCrops(ex, ey, extra.Shape, fmt.Sprintf("_e%d", i), p, log); err != nil {
					return nil, err
				}
			}
		}

		if xTrain, err = models.Concat(xTrain, ex); err != nil {
			return nil, errors.Wrapf(err, "extra dataset %d", i)
		}
		if yTrain, err = models.Concat(yTrain, ey); err != nil {
			return nil, errors.Wrapf(err, "extra dataset %d masks", i)
		}
	}

	if p.ValSplit > 0 {
		trainIdx, valIdx := splitIndexes(xTrain.N, p.ValSplit, p.ShuffleVal, p.Seed)
		ds.XVal, ds.YVal = xTrain.Select(valIdx), yTrain.Select(valIdx)
		xTrain, yTrain = xTrain.Select(trainIdx), yTrain.Select(trainIdx)
	}

	ds.XTrain, ds.YTrain = xTrain, yTrain
	ds.XTest, ds.YTest = xTest, yTest
	if len(xTrain.Data) > 0 {
		ds.Norm = stat.Mean(xTrain.Data, nil)
	}

	fields := logrus.Fields{
		"train": ds.XTrain.String(),
		"test":  ds.XTest.String(),
		"norm":  ds.Norm,
	}
	if ds.XVal != nil {
		fields["val"] = ds.XVal.String()
	}
	entry.WithFields(fields).Info("4) Data loaded")
	return ds, nil
}

// loadPair reads an image directory and its mask directory with the same
// declared shape. Masks are rescaled from 0-255 to 0-1.
func loadPair(imgPath, maskPath string, shape Shape) (*models.Volume, *models.Volume, error) {
	x, err := LoadVolume(imgPath, shape)
	if err != nil {
		return nil, nil, err
	}
	y, err := LoadVolume(maskPath, Shape{H: shape.H, W: shape.W, C: 1})
	if err != nil {
		return nil, nil, err
	}
	if x.N != y.N {
		return nil, nil, errors.Wrapf(models.ErrShapeMismatch,
			"%d images but %d masks", x.N, y.N)
	}
	y.Scale(1.0 / 255)
	return x, y, nil
}

// splitIndexes separates ceil(split*n) validation indexes from the rest.
// Without shuffling the validation samples are the last ones.
func splitIndexes(n int, split float64, shuffle bool, seed uint64) (train, val []int) {
	nVal := int(math.Ceil(split * float64(n)))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order[:n-nVal], order[n-nVal:]
}

func checkCrops(x, y *models.Volume, shape Shape, tag string, p Params, log *logrus.Logger) error {
	if x.N == 0 {
		return nil
	}
	for _, set := range []struct {
		v      *models.Volume
		suffix string
	}{{x, tag + "_x_"}, {y, tag + "_y_"}} {
		err := visualization.CheckCrops(set.v, visualization.CheckParams{
			OutH: shape.H, OutW: shape.W,
			NumExamples:  3,
			IncludeCrops: true,
			OutDir:       p.CheckDir,
			JobID:        p.JobID,
			Suffix:       set.suffix,
			Grid:         true,
			Logger:       log,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
