package generator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"segprep/internal/models"
	"segprep/pkg/augment"
)

// indexedVolumes returns n images whose pixels all equal the image index
// and binary masks with the left half set.
func indexedVolumes(n, h, w int) (*models.Volume, *models.Volume) {
	x := models.NewVolume(n, h, w, 1)
	y := models.NewVolume(n, h, w, 1)
	for i := 0; i < n; i++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				x.Set(i, r, c, 0, float64(i))
				if c < w/2 {
					y.Set(i, r, c, 0, 1)
				}
			}
		}
	}
	return x, y
}

func TestGeneratorLenAndPassThrough(t *testing.T) {
	x, y := indexedVolumes(10, 4, 4)
	g, err := New(Params{X: x, Y: y}, Options{BatchSize: 3})
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	bx, by, err := g.Batch(1)
	require.NoError(t, err)
	require.Equal(t, "[3 4 4 1]", bx.String())
	require.Equal(t, []float64{3, 4, 5}, []float64{bx.At(0, 0, 0, 0), bx.At(1, 0, 0, 0), bx.At(2, 0, 0, 0)})
	require.Equal(t, y.Slice(3, 6).Data, by.Data)

	_, _, err = g.Batch(3)
	require.ErrorIs(t, err, models.ErrConfig)
}

func TestGeneratorShuffleIsPermutation(t *testing.T) {
	x, y := indexedVolumes(12, 2, 2)
	g, err := New(Params{X: x, Y: y}, Options{BatchSize: 4, Shuffle: true, Pipeline: augment.Options{Seed: 3}})
	require.NoError(t, err)

	first := g.Indexes()
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, first)

	seen := map[float64]bool{}
	for b := 0; b < g.Len(); b++ {
		bx, _, err := g.Batch(b)
		require.NoError(t, err)
		for i := 0; i < bx.N; i++ {
			seen[bx.At(i, 0, 0, 0)] = true
		}
	}
	require.Len(t, seen, 12)

	g.OnEpochEnd()
	require.ElementsMatch(t, first, g.Indexes())
	require.NotEqual(t, first, g.Indexes())
}

func TestGeneratorValidationCropsAreStable(t *testing.T) {
	x, y := indexedVolumes(4, 8, 8)
	for i := range x.Data {
		x.Data[i] += float64(i % 8)
	}
	opts := Options{BatchSize: 2, RandomCrop: true, CropLength: 4, Val: true}
	g, err := New(Params{X: x, Y: y}, opts)
	require.NoError(t, err)

	a, _, err := g.Batch(0)
	require.NoError(t, err)
	b, _, err := g.Batch(0)
	require.NoError(t, err)
	require.Equal(t, "[2 4 4 1]", a.String())
	require.Equal(t, a.Data, b.Data)
	require.Equal(t, x.Image(0).Window(0, 0, 4, 4).Data, a.Image(0).Data)
}

func TestGeneratorAugmentCountsTransforms(t *testing.T) {
	x, y := indexedVolumes(6, 8, 8)
	g, err := New(Params{X: x, Y: y}, Options{
		BatchSize: 3,
		Augment:   true,
		Pipeline:  augment.Options{VFlip: true, HFlip: true, Rotation90: true, Seed: 5},
	})
	require.NoError(t, err)

	for b := 0; b < g.Len(); b++ {
		_, by, err := g.Batch(b)
		require.NoError(t, err)
		// masks stay binary under flips and quarter turns
		for _, v := range by.Data {
			require.True(t, v == 0 || v == 1)
		}
	}
	c := g.Counters()
	require.Positive(t, c.VFlip+c.HFlip+c.Rot90+c.Rot180+c.Rot270)
}

func TestGeneratorProbabilityMapCrops(t *testing.T) {
	x, y := indexedVolumes(2, 10, 10)
	maps := make([][]float64, 2)
	for i := range maps {
		maps[i] = make([]float64, 100)
		maps[i][9*10+9] = 1
	}
	g, err := New(Params{X: x, Y: y}, Options{BatchSize: 2, RandomCrop: true, CropLength: 4, ProbMaps: maps})
	require.NoError(t, err)

	_, by, err := g.Batch(0)
	require.NoError(t, err)
	// the crop snaps to the bottom-right corner where the mask is empty
	for _, v := range by.Data {
		require.Equal(t, 0.0, v)
	}
}

func TestGeneratorErrors(t *testing.T) {
	x, y := indexedVolumes(4, 4, 4)

	_, err := New(Params{}, Options{BatchSize: 1})
	require.ErrorIs(t, err, models.ErrConfig)

	_, err = New(Params{X: x, Y: y}, Options{BatchSize: 0})
	require.ErrorIs(t, err, models.ErrConfig)

	_, err = New(Params{X: x, Y: y.Slice(0, 3)}, Options{BatchSize: 1})
	require.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = New(Params{X: x, Y: y}, Options{BatchSize: 1, RandomCrop: true, CropLength: 5})
	require.ErrorIs(t, err, models.ErrConfig)

	_, err = New(Params{X: x, Y: y}, Options{BatchSize: 1, ProbMaps: make([][]float64, 2)})
	require.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = New(Params{X: x, Y: y}, Options{BatchSize: 1, Pipeline: augment.Options{ElasticProb: 2}})
	require.ErrorIs(t, err, models.ErrConfig)
}

func TestTransformedSamples(t *testing.T) {
	x, y := indexedVolumes(3, 12, 12)
	for i := range x.Data {
		x.Data[i] = float64(i % 200)
	}
	maps := make([][]float64, 3)
	for i := range maps {
		maps[i] = make([]float64, 144)
		maps[i][6*12+6] = 1
	}
	g, err := New(Params{X: x, Y: y}, Options{
		BatchSize:  1,
		RandomCrop: true,
		CropLength: 8,
		ProbMaps:   maps,
		Augment:    true,
		Pipeline:   augment.Options{Elastic: true, ElasticProb: 1, Seed: 11},
	})
	require.NoError(t, err)

	dir := t.TempDir()
	bx, by, err := g.TransformedSamples(SampleParams{
		Num: 2, SaveDir: dir, JobID: "job", Prefix: "p_", OriginalElastic: true,
	})
	require.NoError(t, err)
	require.Equal(t, "[2 8 8 1]", bx.String())
	require.Equal(t, "[2 8 8 1]", by.String())
	require.Equal(t, 2, g.Counters().Elastic)

	entries, err := os.ReadDir(filepath.Join(dir, "job"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// x, y, mark_x, mark_y, x original and y original per sample
	require.Len(t, names, 12)
	require.Contains(t, names, "p_x_0_e.png")
	require.Contains(t, names, "p_mark_y_1_e.png")
	require.Contains(t, names, "p_y_1_e_original.png")
	for _, n := range names {
		require.True(t, strings.HasPrefix(n, "p_"))
	}
}

func TestTransformedSamplesWithoutData(t *testing.T) {
	x := models.NewVolume(0, 8, 8, 1)
	y := models.NewVolume(0, 8, 8, 1)
	g, err := New(Params{X: x, Y: y}, Options{BatchSize: 2, Augment: true})
	require.NoError(t, err)
	require.Equal(t, 0, g.Len())

	_, _, err = g.TransformedSamples(SampleParams{Num: 2})
	require.ErrorIs(t, err, models.ErrConfig)

	_, _, err = g.TransformedSamples(SampleParams{Num: 2, RandomImages: true})
	require.ErrorIs(t, err, models.ErrConfig)

	bx, by, err := g.TransformedSamples(SampleParams{Num: 0})
	require.NoError(t, err)
	require.Equal(t, 0, bx.N)
	require.Equal(t, 0, by.N)
}
