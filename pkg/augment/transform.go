// Package augment implements the on-the-fly data augmentation applied to
// training samples: random cropping, optionally biased by a probability map,
// and a fixed-order pipeline of randomly gated transforms.
package augment

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"segprep/internal/models"
)

// Tag written when no transform fired
const NoTransform = "_none"

// gridSpacing is the distance between the grid lines drawn before the
// elastic step when a grid overlay is requested.
const gridSpacing = 50

// Options selects which transforms the pipeline may apply
type Options struct {
	Elastic     bool
	ElasticProb float64

	VFlip bool
	HFlip bool

	// RotationRange bounds the free rotation angle in degrees. Zero disables it.
	RotationRange float64

	Rotation90 bool

	// BrightnessRange is the [low, high] brightness factor. [1, 1] and the
	// zero value disable the step.
	BrightnessRange [2]float64

	// MedianFilterSize is the [low, high) kernel size range. [0, 0] disables
	// the step.
	MedianFilterSize [2]int

	// Seed makes the pipeline reproducible. Zero seeds from the clock.
	Seed uint64
}

// Validate rejects ranges the pipeline cannot sample from
func (o Options) Validate() error {
	if o.ElasticProb < 0 || o.ElasticProb > 1 {
		return errors.Wrapf(models.ErrConfig, "elastic probability %v outside [0, 1]", o.ElasticProb)
	}
	if o.RotationRange < 0 {
		return errors.Wrapf(models.ErrConfig, "negative rotation range %v", o.RotationRange)
	}
	if o.brightnessEnabled() {
		if b := o.BrightnessRange; b[0] <= 0 || b[1] < b[0] {
			return errors.Wrapf(models.ErrConfig, "invalid brightness range %v", b)
		}
	}
	if o.medianEnabled() {
		if m := o.MedianFilterSize; m[0] < 1 || m[1] <= m[0] {
			return errors.Wrapf(models.ErrConfig, "invalid median filter size range %v", m)
		}
	}
	return nil
}

func (o Options) brightnessEnabled() bool {
	b := o.BrightnessRange
	return !(b == [2]float64{1, 1} || b == [2]float64{})
}

func (o Options) medianEnabled() bool {
	return o.MedianFilterSize != [2]int{}
}

// Counters tallies how many times each transform was applied
type Counters struct {
	Elastic    int
	VFlip      int
	HFlip      int
	Rotation   int
	Rot90      int
	Rot180     int
	Rot270     int
	Brightness int
	Median     int
}

// Fields renders the counters for a structured log entry
func (c Counters) Fields() logrus.Fields {
	return logrus.Fields{
		"elastic":    c.Elastic,
		"vflip":      c.VFlip,
		"hflip":      c.HFlip,
		"rotation":   c.Rotation,
		"rot90":      c.Rot90,
		"rot180":     c.Rot180,
		"rot270":     c.Rot270,
		"brightness": c.Brightness,
		"median":     c.Median,
	}
}

// Record lists the tags of the transforms applied to one sample, in order
type Record struct {
	Tags []string
}

// Applied reports whether the named tag prefix appears in the record
func (r Record) Applied(prefix string) bool {
	for _, t := range r.Tags {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// String concatenates the tags, or returns NoTransform for an empty record
func (r Record) String() string {
	if len(r.Tags) == 0 {
		return NoTransform
	}
	return strings.Join(r.Tags, "")
}

// Pipeline applies randomly gated transforms to image/mask pairs.
//
// A Pipeline owns its random source and counters and is not safe for
// concurrent use.
type Pipeline struct {
	opts     Options
	rng      *rand.Rand
	counters Counters
	log      *logrus.Entry
}

// NewPipeline validates opts and returns a pipeline seeded from opts.Seed
func NewPipeline(opts Options, logger *logrus.Logger) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{
		opts: opts,
		rng:  newRand(opts.Seed),
		log:  logger.WithField("component", "augment"),
	}, nil
}

// Rand exposes the pipeline's source so related samplers can share it
func (p *Pipeline) Rand() *rand.Rand {
	return p.rng
}

// Counters returns a copy of the running counters
func (p *Pipeline) Counters() Counters {
	return p.counters
}

// Apply transforms one sample. The mask receives every geometric transform
// the image receives but never the intensity ones. When grid is set a grid
// is painted on both before the elastic step so its effect is visible.
func (p *Pipeline) Apply(img, mask *models.Image, grid bool) (*models.Image, *models.Image, Record, error) {
	var rec Record
	if mask == nil {
		mask = models.NewImage(img.H, img.W, 1)
	}
	if mask.H != img.H || mask.W != img.W {
		return nil, nil, rec, errors.Wrapf(models.ErrShapeMismatch, "mask %s does not match image %s", mask, img)
	}
	img, mask = img.Clone(), mask.Clone()

	// 1. elastic, the draw is consumed even when the step is disabled
	prob := p.rng.Float64()
	if p.opts.Elastic && prob < p.opts.ElasticProb {
		if grid {
			DrawGrid(img, gridSpacing, 255)
			DrawGrid(mask, gridSpacing, 1)
		}
		joint := joinChannels(img, mask)
		deformed, err := ElasticTransform(joint, DefaultElasticParams(img.W), p.rng)
		if err != nil {
			return nil, nil, rec, err
		}
		img, mask = splitChannels(deformed, img.C)
		rec.Tags = append(rec.Tags, "_e")
		p.counters.Elastic++
	}

	// 2. flips
	prob = p.rng.Float64()
	switch {
	case p.opts.VFlip && prob < 0.25:
		img, mask = FlipVertical(img), FlipVertical(mask)
		rec.Tags = append(rec.Tags, "_vf")
		p.counters.VFlip++
	case p.opts.HFlip && prob >= 0.25 && prob < 0.5:
		img, mask = FlipHorizontal(img), FlipHorizontal(mask)
		rec.Tags = append(rec.Tags, "_hf")
		p.counters.HFlip++
	case p.opts.VFlip && p.opts.HFlip && prob >= 0.5 && prob < 0.75:
		img = FlipHorizontal(FlipVertical(img))
		mask = FlipHorizontal(FlipVertical(mask))
		rec.Tags = append(rec.Tags, "_hfvf")
		p.counters.HFlip++
		p.counters.VFlip++
	}

	// 3. free rotation
	if p.opts.RotationRange != 0 {
		theta := distuv.Uniform{Min: -p.opts.RotationRange, Max: p.opts.RotationRange, Src: p.rng}.Rand()
		img = Rotate(img, theta, true)
		mask = Rotate(mask, theta, false)
		rec.Tags = append(rec.Tags, "_rRange"+strconv.Itoa(int(theta)))
		p.counters.Rotation++
	}

	// 4. quarter turns, only 180 degrees keeps a non-square shape
	if p.opts.Rotation90 {
		prob = p.rng.Float64()
		if img.H == img.W {
			switch {
			case prob < 0.25:
				img, mask = Rot90(img, 1), Rot90(mask, 1)
				rec.Tags = append(rec.Tags, "_r90")
				p.counters.Rot90++
			case prob < 0.5:
				img, mask = Rot90(img, 2), Rot90(mask, 2)
				rec.Tags = append(rec.Tags, "_r180")
				p.counters.Rot180++
			case prob < 0.75:
				img, mask = Rot90(img, 3), Rot90(mask, 3)
				rec.Tags = append(rec.Tags, "_r270")
				p.counters.Rot270++
			}
		} else if prob < 0.5 {
			img, mask = Rot90(img, 2), Rot90(mask, 2)
			rec.Tags = append(rec.Tags, "_r180")
			p.counters.Rot180++
		}
	}

	// 5. brightness, image only
	if p.opts.brightnessEnabled() {
		lo, hi := p.opts.BrightnessRange[0], p.opts.BrightnessRange[1]
		factor := lo
		if hi > lo {
			factor = distuv.Uniform{Min: lo, Max: hi, Src: p.rng}.Rand()
		}
		for c := 0; c < img.C; c++ {
			img.SetPlane(c, adjustBrightness(img.Plane(c), img.H, img.W, factor))
		}
		rec.Tags = append(rec.Tags, "_b"+strconv.FormatFloat(math.Round(factor*100)/100, 'f', -1, 64))
		p.counters.Brightness++
	}

	// 6. median filter, image only
	if p.opts.medianEnabled() {
		lo, hi := p.opts.MedianFilterSize[0], p.opts.MedianFilterSize[1]
		size := lo + p.rng.Intn(hi-lo)
		if size%2 == 0 {
			size++
		}
		for c := 0; c < img.C; c++ {
			img.SetPlane(c, medianFilter(img.Plane(c), img.H, img.W, size))
		}
		rec.Tags = append(rec.Tags, "_mf"+strconv.Itoa(size))
		p.counters.Median++
	}

	return img, mask, rec, nil
}

// LogCounters writes the running counters as one structured entry
func (p *Pipeline) LogCounters() {
	p.log.WithFields(p.counters.Fields()).Info("Transform statistics")
}

// DrawGrid paints every spacing-th row and column of img with value v
func DrawGrid(img *models.Image, spacing int, v float64) {
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			if y%spacing != 0 && x%spacing != 0 {
				continue
			}
			for c := 0; c < img.C; c++ {
				img.Set(y, x, c, v)
			}
		}
	}
}

// joinChannels stacks the channels of b after those of a
func joinChannels(a, b *models.Image) *models.Image {
	out := models.NewImage(a.H, a.W, a.C+b.C)
	for i := 0; i < a.H*a.W; i++ {
		copy(out.Data[i*out.C:i*out.C+a.C], a.Data[i*a.C:(i+1)*a.C])
		copy(out.Data[i*out.C+a.C:(i+1)*out.C], b.Data[i*b.C:(i+1)*b.C])
	}
	return out
}

// splitChannels undoes joinChannels, the first n channels going to the image
func splitChannels(m *models.Image, n int) (*models.Image, *models.Image) {
	a := models.NewImage(m.H, m.W, n)
	b := models.NewImage(m.H, m.W, m.C-n)
	for i := 0; i < m.H*m.W; i++ {
		copy(a.Data[i*n:(i+1)*n], m.Data[i*m.C:i*m.C+n])
		copy(b.Data[i*b.C:(i+1)*b.C], m.Data[i*m.C+n:(i+1)*m.C])
	}
	return a, b
}
