package visualization

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"segprep/internal/models"
)

// testVolume builds a stack where every image z holds the constant z/(n)
func testVolume(n, h, w int) *models.Volume {
	v := models.NewVolume(n, h, w, 1)
	for z := 0; z < n; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v.Set(z, y, x, 0, float64(z)/float64(n))
			}
		}
	}
	return v
}

// TestExtractSlice verifies slice geometry and values along every axis
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(testVolume(5, 6, 8), 0)

	for z := 0; z < 5; z++ {
		img, err := viewer.ExtractSlice("z", z)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
		want := uint8(float64(z) / 5 * 255)
		got := img.(*image.Gray).GrayAt(3, 2).Y
		require.InDelta(t, want, got, 1)
	}

	img, err := viewer.ExtractSlice("y", 2)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 8, 5), img.Bounds())
	// row z of the y slice comes from image z
	require.Equal(t, uint8(0), img.(*image.Gray).GrayAt(0, 0).Y)
	require.Equal(t, uint8(204), img.(*image.Gray).GrayAt(0, 4).Y)

	img, err = viewer.ExtractSlice("x", 7)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 5, 6), img.Bounds())
	require.Equal(t, uint8(204), img.(*image.Gray).GrayAt(4, 0).Y)
}

// TestExtractSliceErrors verifies invalid positions and axes are rejected
func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(testVolume(2, 3, 4), 0)

	tests := []struct {
		axis string
		pos  int
	}{
		{"z", -1},
		{"z", 2},
		{"y", 3},
		{"x", 4},
		{"w", 0},
	}
	for _, tc := range tests {
		_, err := viewer.ExtractSlice(tc.axis, tc.pos)
		require.ErrorIs(t, err, models.ErrConfig, "%s %d", tc.axis, tc.pos)
	}
}

// TestSaveSliceSequence verifies one file is written per position
func TestSaveSliceSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "slices")
	viewer := NewViewer(testVolume(3, 4, 5), 0)

	require.NoError(t, viewer.SaveSliceSequence("z", dir))
	require.NoError(t, viewer.SaveSliceSequence("x", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3+5)
	require.FileExists(t, filepath.Join(dir, "slice_z_000.png"))
	require.FileExists(t, filepath.Join(dir, "slice_x_004.png"))

	require.ErrorIs(t, viewer.SaveSliceSequence("q", dir), models.ErrConfig)
}
