// Package generator produces training batches on demand, combining random
// cropping and the augmentation pipeline over a shuffled sample order.
package generator

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"segprep/internal/models"
	"segprep/pkg/augment"
	"segprep/pkg/dataset"
)

// Options configures a Generator
type Options struct {
	BatchSize int
	Shuffle   bool

	// Augment enables the transform pipeline
	Augment  bool
	Pipeline augment.Options

	// RandomCrop cuts a CropLength x CropLength window from every sample
	// before the transforms run.
	RandomCrop bool
	CropLength int

	// Val makes every crop start at the origin
	Val bool

	// ProbMaps holds one H*W weight map per sample. When set, crops are
	// centred on points drawn from the sample's map.
	ProbMaps [][]float64

	Logger *logrus.Logger
}

// Params selects the data a Generator iterates over: either in-memory
// volumes or directories loaded with the given shape.
type Params struct {
	X, Y *models.Volume

	DataDir, MaskDir string
	Shape            dataset.Shape
}

// Generator is a pull-based batch iterator. It is not safe for concurrent
// use; the permutation and the augmentation counters are mutated by every
// call.
type Generator struct {
	x, y *models.Volume
	opts Options

	pipeline *augment.Pipeline
	cropper  *augment.Cropper

	indexes []int
	log     *logrus.Entry
}

// New builds a generator and draws the first epoch's order
func New(p Params, opts Options) (*Generator, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	x, y := p.X, p.Y
	if x == nil {
		if p.DataDir == "" || p.MaskDir == "" {
			return nil, errors.Wrap(models.ErrConfig, "either volumes or data and mask directories are required")
		}
		var err error
		if x, err = dataset.LoadVolume(p.DataDir, p.Shape); err != nil {
			return nil, err
		}
		if y, err = dataset.LoadVolume(p.MaskDir, dataset.Shape{H: p.Shape.H, W: p.Shape.W, C: 1}); err != nil {
			return nil, err
		}
		y.Scale(1.0 / 255)
	}
	if y == nil {
		return nil, errors.Wrap(models.ErrConfig, "mask volume is required")
	}
	if x.N != y.N || x.H != y.H || x.W != y.W {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "masks %s do not match data %s", y, x)
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Wrapf(models.ErrConfig, "invalid batch size %d", opts.BatchSize)
	}
	if opts.RandomCrop && (opts.CropLength <= 0 || opts.CropLength > x.H || opts.CropLength > x.W) {
		return nil, errors.Wrapf(models.ErrConfig, "crop length %d does not fit data %s", opts.CropLength, x)
	}
	if opts.ProbMaps != nil && len(opts.ProbMaps) != x.N {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"%d probability maps for %d samples", len(opts.ProbMaps), x.N)
	}

	pipeline, err := augment.NewPipeline(opts.Pipeline, log)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		x:        x,
		y:        y,
		opts:     opts,
		pipeline: pipeline,
		cropper:  augment.NewCropper(opts.CropLength, opts.CropLength, opts.Val, pipeline.Rand()),
		log:      log.WithField("component", "generator"),
	}
	if opts.Pipeline.Rotation90 && x.H != x.W && !opts.RandomCrop {
		g.log.Warn("Images not square, only 180 rotations will be done")
	}
	g.OnEpochEnd()
	return g, nil
}

// Len is the number of full batches per epoch
func (g *Generator) Len() int {
	return g.x.N / g.opts.BatchSize
}

// OnEpochEnd resets the sample order, shuffling it when enabled
func (g *Generator) OnEpochEnd() {
	g.indexes = make([]int, g.x.N)
	for i := range g.indexes {
		g.indexes[i] = i
	}
	if g.opts.Shuffle {
		rng := g.pipeline.Rand()
		rng.Shuffle(len(g.indexes), func(i, j int) {
			g.indexes[i], g.indexes[j] = g.indexes[j], g.indexes[i]
		})
	}
}

// Indexes returns a copy of the current sample order
func (g *Generator) Indexes() []int {
	return append([]int(nil), g.indexes...)
}

// SampleShape is the (H, W) of the samples the generator emits
func (g *Generator) SampleShape() (int, int) {
	if g.opts.RandomCrop {
		return g.opts.CropLength, g.opts.CropLength
	}
	return g.x.H, g.x.W
}

// Batch builds batch index of the current epoch
func (g *Generator) Batch(index int) (*models.Volume, *models.Volume, error) {
	if index < 0 || index >= g.Len() {
		return nil, nil, errors.Wrapf(models.ErrConfig, "batch %d out of range [0, %d)", index, g.Len())
	}
	h, w := g.SampleShape()
	bx := models.NewVolume(g.opts.BatchSize, h, w, g.x.C)
	by := models.NewVolume(g.opts.BatchSize, h, w, g.y.C)

	for i, j := range g.indexes[index*g.opts.BatchSize : (index+1)*g.opts.BatchSize] {
		img, mask, _, _, err := g.sample(j, false)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "sample %d", j)
		}
		if err := bx.SetImage(i, img); err != nil {
			return nil, nil, err
		}
		if err := by.SetImage(i, mask); err != nil {
			return nil, nil, err
		}
	}
	return bx, by, nil
}

// sample produces one (image, mask) pair from sample j
func (g *Generator) sample(j int, grid bool) (*models.Image, *models.Image, *augment.CropResult, augment.Record, error) {
	img, mask, crop, err := g.crop(j)
	if err != nil || !g.opts.Augment {
		return img, mask, crop, augment.Record{}, err
	}
	img, mask, rec, err := g.pipeline.Apply(img, mask, grid)
	return img, mask, crop, rec, err
}

// crop returns sample j, cut to CropLength when random cropping is enabled
func (g *Generator) crop(j int) (*models.Image, *models.Image, *augment.CropResult, error) {
	img, mask := g.x.Image(j), g.y.Image(j)
	if !g.opts.RandomCrop {
		return img, mask, nil, nil
	}
	var prob []float64
	if g.opts.ProbMaps != nil {
		prob = g.opts.ProbMaps[j]
	}
	crop, err := g.cropper.Crop(img, mask, prob)
	if err != nil {
		return nil, nil, nil, err
	}
	return crop.Image, crop.Mask, crop, nil
}

// Counters returns the transform counters accumulated so far
func (g *Generator) Counters() augment.Counters {
	return g.pipeline.Counters()
}

// LogStats writes the transform counters as one structured entry
func (g *Generator) LogStats() {
	g.pipeline.LogCounters()
}
