package augment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"segprep/internal/models"
)

func binaryMask(h, w int) *models.Image {
	mask := models.NewImage(h, w, 1)
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			mask.Set(y, x, 0, 1)
		}
	}
	return mask
}

func noisyImage(h, w int, seed uint64) *models.Image {
	rng := rand.New(rand.NewSource(seed))
	img := models.NewImage(h, w, 1)
	for i := range img.Data {
		img.Data[i] = float64(rng.Intn(256))
	}
	return img
}

func TestRecordString(t *testing.T) {
	require.Equal(t, NoTransform, Record{}.String())
	r := Record{Tags: []string{"_e", "_vf", "_b1.2"}}
	require.Equal(t, "_e_vf_b1.2", r.String())
	require.True(t, r.Applied("_e"))
	require.False(t, r.Applied("_r90"))
}

func TestPipelineNoTransform(t *testing.T) {
	p, err := NewPipeline(Options{Seed: 1}, nil)
	require.NoError(t, err)

	img := noisyImage(8, 8, 2)
	mask := binaryMask(8, 8)
	outImg, outMask, rec, err := p.Apply(img, mask, false)
	require.NoError(t, err)
	require.Equal(t, NoTransform, rec.String())
	require.Equal(t, img.Data, outImg.Data)
	require.Equal(t, mask.Data, outMask.Data)
	require.Equal(t, Counters{}, p.Counters())
}

func TestPipelineElasticAlwaysCounts(t *testing.T) {
	p, err := NewPipeline(Options{Elastic: true, ElasticProb: 1, Seed: 9}, nil)
	require.NoError(t, err)

	img := noisyImage(24, 24, 4)
	mask := binaryMask(24, 24)
	for i := 1; i <= 3; i++ {
		outImg, outMask, rec, err := p.Apply(img, mask, false)
		require.NoError(t, err)
		require.Equal(t, "_e", rec.String())
		require.Equal(t, i, p.Counters().Elastic)
		require.Equal(t, img.String(), outImg.String())
		require.Equal(t, mask.String(), outMask.String())
	}
	// input is never modified in place
	require.Equal(t, noisyImage(24, 24, 4).Data, img.Data)
}

func TestPipelineElasticProbabilityZero(t *testing.T) {
	p, err := NewPipeline(Options{Elastic: true, ElasticProb: 0, Seed: 9}, nil)
	require.NoError(t, err)
	_, _, rec, err := p.Apply(noisyImage(8, 8, 1), binaryMask(8, 8), false)
	require.NoError(t, err)
	require.Equal(t, NoTransform, rec.String())
}

func TestPipelineFlipsKeepMaskAligned(t *testing.T) {
	p, err := NewPipeline(Options{VFlip: true, HFlip: true, Seed: 21}, nil)
	require.NoError(t, err)

	// the image equals the mask so any misalignment would show
	mask := binaryMask(8, 6)
	mask.Set(0, 0, 0, 1)
	img := mask.Clone()

	total := Counters{}
	for i := 0; i < 200; i++ {
		outImg, outMask, rec, err := p.Apply(img, mask, false)
		require.NoError(t, err)
		require.Equal(t, outMask.Data, outImg.Data)
		switch rec.String() {
		case "_vf":
			total.VFlip++
			require.Equal(t, 1.0, outImg.At(7, 0, 0))
		case "_hf":
			total.HFlip++
			require.Equal(t, 1.0, outImg.At(0, 5, 0))
		case "_hfvf":
			total.VFlip++
			total.HFlip++
			require.Equal(t, 1.0, outImg.At(7, 5, 0))
		default:
			require.Equal(t, NoTransform, rec.String())
			require.Equal(t, img.Data, outImg.Data)
		}
	}
	require.Equal(t, total, p.Counters())
	require.Positive(t, total.VFlip)
	require.Positive(t, total.HFlip)
}

func TestPipelineRot90NonSquareOnlyHalfTurn(t *testing.T) {
	p, err := NewPipeline(Options{Rotation90: true, Seed: 5}, nil)
	require.NoError(t, err)
	img := noisyImage(6, 10, 3)
	for i := 0; i < 100; i++ {
		outImg, outMask, rec, err := p.Apply(img, nil, false)
		require.NoError(t, err)
		require.Contains(t, []string{"_r180", NoTransform}, rec.String())
		require.Equal(t, "[6 10 1]", outImg.String())
		require.Equal(t, "[6 10 1]", outMask.String())
	}
	c := p.Counters()
	require.Zero(t, c.Rot90)
	require.Zero(t, c.Rot270)
	require.Positive(t, c.Rot180)
}

func TestPipelineRot90Square(t *testing.T) {
	p, err := NewPipeline(Options{Rotation90: true, Seed: 8}, nil)
	require.NoError(t, err)
	img := sequentialImage(5, 5, 1)
	for i := 0; i < 100; i++ {
		outImg, _, rec, err := p.Apply(img, nil, false)
		require.NoError(t, err)
		switch rec.String() {
		case "_r90":
			require.Equal(t, Rot90(img, 1).Data, outImg.Data)
		case "_r180":
			require.Equal(t, Rot90(img, 2).Data, outImg.Data)
		case "_r270":
			require.Equal(t, Rot90(img, 3).Data, outImg.Data)
		default:
			require.Equal(t, img.Data, outImg.Data)
		}
	}
	c := p.Counters()
	require.Positive(t, c.Rot90)
	require.Positive(t, c.Rot180)
	require.Positive(t, c.Rot270)
}

func TestPipelineIntensityStepsSkipMask(t *testing.T) {
	p, err := NewPipeline(Options{
		BrightnessRange:  [2]float64{0.5, 1.5},
		MedianFilterSize: [2]int{3, 7},
		Seed:             17,
	}, nil)
	require.NoError(t, err)

	img := noisyImage(16, 16, 6)
	mask := binaryMask(16, 16)
	mask.Set(0, 0, 0, 1) // isolated pixel a median filter would remove
	for i := 0; i < 20; i++ {
		_, outMask, rec, err := p.Apply(img, mask, false)
		require.NoError(t, err)
		require.Equal(t, mask.Data, outMask.Data)
		require.True(t, strings.HasPrefix(rec.String(), "_b"), rec.String())
		require.True(t, rec.Applied("_mf3") || rec.Applied("_mf5") || rec.Applied("_mf7"), rec.String())
	}
	c := p.Counters()
	require.Equal(t, 20, c.Brightness)
	require.Equal(t, 20, c.Median)
}

func TestPipelineRotationKeepsLabels(t *testing.T) {
	p, err := NewPipeline(Options{RotationRange: 30, Seed: 2}, nil)
	require.NoError(t, err)
	mask := binaryMask(12, 12)
	for i := 0; i < 10; i++ {
		outImg, outMask, rec, err := p.Apply(noisyImage(12, 12, 1), mask, false)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(rec.String(), "_rRange"))
		require.Equal(t, "[12 12 1]", outImg.String())
		for _, v := range outMask.Data {
			require.True(t, v == 0 || v == 1, "mask value %v", v)
		}
	}
	require.Equal(t, 10, p.Counters().Rotation)
}

func TestPipelineSeedReproducible(t *testing.T) {
	opts := Options{Elastic: true, ElasticProb: 0.5, VFlip: true, HFlip: true, Rotation90: true, RotationRange: 10, Seed: 33}
	a, err := NewPipeline(opts, nil)
	require.NoError(t, err)
	b, err := NewPipeline(opts, nil)
	require.NoError(t, err)

	img := noisyImage(16, 16, 7)
	mask := binaryMask(16, 16)
	for i := 0; i < 5; i++ {
		ia, ma, ra, err := a.Apply(img, mask, false)
		require.NoError(t, err)
		ib, mb, rb, err := b.Apply(img, mask, false)
		require.NoError(t, err)
		require.Equal(t, ra, rb)
		require.Equal(t, ia.Data, ib.Data)
		require.Equal(t, ma.Data, mb.Data)
	}
	require.Equal(t, a.Counters(), b.Counters())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"elastic prob", Options{ElasticProb: 1.5}},
		{"negative rotation", Options{RotationRange: -1}},
		{"brightness inverted", Options{BrightnessRange: [2]float64{1.2, 0.8}}},
		{"median empty range", Options{MedianFilterSize: [2]int{3, 3}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPipeline(tc.opts, nil)
			require.ErrorIs(t, err, models.ErrConfig)
		})
	}
}

func TestPipelineShapeMismatch(t *testing.T) {
	p, err := NewPipeline(Options{}, nil)
	require.NoError(t, err)
	_, _, _, err = p.Apply(noisyImage(4, 4, 1), models.NewImage(4, 5, 1), false)
	require.ErrorIs(t, err, models.ErrShapeMismatch)
}
