package tiling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"segprep/internal/models"
)

// sequentialVolume fills a volume with 1, 2, 3, ... so every element is unique
func sequentialVolume(n, h, w, c int) *models.Volume {
	v := models.NewVolume(n, h, w, c)
	for i := range v.Data {
		v.Data[i] = float64(i + 1)
	}
	return v
}

func TestForegroundPercentage(t *testing.T) {
	mask := []float64{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	}
	require.Equal(t, 25.0, ForegroundPercentage(mask, 1))
	require.Equal(t, 0.0, ForegroundPercentage(make([]float64, 16), 1))
	require.Equal(t, 0.0, ForegroundPercentage(nil, 1))
}

func TestGridLayoutCoverage(t *testing.T) {
	for h := 1; h <= 40; h++ {
		for th := 1; th <= 12; th++ {
			l := GridLayout(h, h+3, th, th+1)
			require.GreaterOrEqual(t, l.Rows*th, h)
			require.Less(t, l.Rows*th-th, h, "no wasted extra tile")
			require.GreaterOrEqual(t, l.Cols*(th+1), h+3)
			require.Less(t, l.Cols*(th+1)-(th+1), h+3)
		}
	}
}

func TestCropGridPadsHighSide(t *testing.T) {
	// 5 rows cropped with 2-row tiles needs 3 tile rows, the last one half padding
	data := sequentialVolume(1, 5, 2, 1)
	res, err := CropGrid(data, nil, GridParams{TileH: 2, TileW: 2})
	require.NoError(t, err)
	require.Equal(t, models.Layout{Rows: 3, Cols: 1}, res.Layout)
	require.Equal(t, 3, res.Images.N)
	require.Nil(t, res.Masks)

	require.Equal(t, []float64{1, 2, 3, 4}, res.Images.Image(0).Data)
	require.Equal(t, []float64{5, 6, 7, 8}, res.Images.Image(1).Data)
	require.Equal(t, []float64{9, 10, 0, 0}, res.Images.Image(2).Data)
}

func TestCropGridOrder(t *testing.T) {
	data := sequentialVolume(2, 4, 4, 1)
	res, err := CropGrid(data, nil, GridParams{TileH: 2, TileW: 2})
	require.NoError(t, err)
	require.Equal(t, 8, res.Images.N)

	// image outermost, then tile row, then tile column
	firsts := make([]float64, res.Images.N)
	for i := range firsts {
		firsts[i] = res.Images.At(i, 0, 0, 0)
	}
	require.Equal(t, []float64{1, 3, 9, 11, 17, 19, 25, 27}, firsts)
}

func TestCropGridForcedLayout(t *testing.T) {
	data := sequentialVolume(1, 4, 4, 1)
	res, err := CropGrid(data, nil, GridParams{TileH: 2, TileW: 2, Layout: models.Layout{Rows: 1, Cols: 3}})
	require.NoError(t, err)
	require.Equal(t, models.Layout{Rows: 1, Cols: 3}, res.Layout)
	require.Equal(t, 3, res.Images.N)
	require.Equal(t, []float64{0, 0, 0, 0}, res.Images.Image(2).Data)
}

func TestCropGridDiscard(t *testing.T) {
	data := sequentialVolume(1, 2, 6, 1)
	mask := models.NewVolume(1, 2, 6, 1)
	// tile 0: 100% foreground, tile 1: 50%, tile 2: 25%
	for _, p := range [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {0, 2}, {1, 2}, {0, 4}} {
		mask.Set(0, p[0], p[1], 0, 1)
	}

	tests := []struct {
		name      string
		threshold float64
		kept      []float64 // first pixel of every kept tile
	}{
		{"disabled", 0, []float64{1, 3, 5}},
		{"exclusive at 50", 50, []float64{1}},
		{"just below 50", 49.9, []float64{1, 3}},
		{"just below 25", 24, []float64{1, 3, 5}},
		{"nothing kept", 100, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := CropGrid(data, mask, GridParams{TileH: 2, TileW: 2, DiscardPercentage: tc.threshold, ClassTag: 1})
			require.NoError(t, err)
			require.Equal(t, len(tc.kept), res.Images.N)
			require.Equal(t, res.Images.N, res.Masks.N)
			require.Equal(t, 3-len(tc.kept), res.Discarded)
			for i, want := range tc.kept {
				require.Equal(t, want, res.Images.At(i, 0, 0, 0))
			}
		})
	}
}

func TestCropGridDiscardIsDeterministic(t *testing.T) {
	data := sequentialVolume(3, 8, 8, 1)
	mask := models.NewVolume(3, 8, 8, 1)
	for i := range mask.Data {
		if i%3 == 0 {
			mask.Data[i] = 1
		}
	}
	p := GridParams{TileH: 4, TileW: 4, DiscardPercentage: 30, ClassTag: 1}
	a, err := CropGrid(data, mask, p)
	require.NoError(t, err)
	b, err := CropGrid(data, mask, p)
	require.NoError(t, err)
	require.Equal(t, a.Images.Data, b.Images.Data)
	require.Equal(t, a.Masks.Data, b.Masks.Data)
}

func TestCropGridErrors(t *testing.T) {
	data := sequentialVolume(1, 4, 4, 1)

	_, err := CropGrid(data, nil, GridParams{TileH: 0, TileW: 2})
	require.ErrorIs(t, err, models.ErrConfig)

	_, err = CropGrid(data, models.NewVolume(2, 4, 4, 1), GridParams{TileH: 2, TileW: 2})
	require.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestMergeWithoutOverlap(t *testing.T) {
	data := sequentialVolume(1, 4, 6, 1)
	res, err := CropGrid(data, nil, GridParams{TileH: 2, TileW: 3})
	require.NoError(t, err)

	mosaic := MergeWithoutOverlap(res.Images, 1, res.Layout, false)
	require.Equal(t, data.Data, mosaic.Data)

	gridded := MergeWithoutOverlap(res.Images, 1, res.Layout, true)
	// values exceed 1, so borders use 255
	require.Equal(t, 255.0, gridded.At(0, 0, 0, 0))
	require.Equal(t, 255.0, gridded.At(0, 1, 2, 0))
	require.Equal(t, 255.0, gridded.At(0, 3, 5, 0))
}

func TestMergeWithoutOverlapMaskGridAndEarlyStop(t *testing.T) {
	tiles := models.NewVolume(3, 3, 3, 1)
	mosaic := MergeWithoutOverlap(tiles, 2, models.Layout{Rows: 2, Cols: 2}, true)
	require.Equal(t, 2, mosaic.N)

	// normalized data gets 1-valued borders
	require.Equal(t, 1.0, mosaic.At(0, 0, 0, 0))
	require.Equal(t, 0.0, mosaic.At(0, 1, 1, 0))
	// the fourth slot of the first mosaic was never filled
	require.Equal(t, 0.0, mosaic.At(0, 3, 3, 0))
	require.Equal(t, 0.0, mosaic.At(0, 5, 5, 0))
	// the second mosaic is empty
	for _, v := range mosaic.Plane(1, 0) {
		require.Equal(t, 0.0, v)
	}
}

func TestReassembleTrimsPadding(t *testing.T) {
	data := sequentialVolume(2, 5, 7, 2)
	res, err := CropGrid(data, nil, GridParams{TileH: 2, TileW: 3})
	require.NoError(t, err)

	back, err := Reassemble(res.Images, res.Layout, data.H, data.W)
	require.NoError(t, err)
	require.Equal(t, data.String(), back.String())
	require.Equal(t, data.Data, back.Data)

	_, err = Reassemble(res.Images.Slice(0, 5), res.Layout, data.H, data.W)
	require.ErrorIs(t, err, models.ErrShapeMismatch)
}
