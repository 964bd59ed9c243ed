// Package visualization renders volumes, crops and augmented samples as
// PNG files for manual inspection.
package visualization

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/pkg/errors"

	"segprep/internal/models"
)

// Viewer extracts orthogonal slices from one channel of a volume. The batch
// axis of the volume is the z axis of the stack.
type Viewer struct {
	// volume holds the [N, H, W, C] stack
	volume *models.Volume

	// channel is the channel rendered
	channel int

	// scale brings values into 0-255
	scale float64
}

// NewViewer creates a viewer over channel of volume
func NewViewer(volume *models.Volume, channel int) *Viewer {
	return &Viewer{
		volume:  volume,
		channel: channel,
		scale:   DisplayScale(volume.Data),
	}
}

// ExtractSlice extracts a 2D slice along the given axis:
//   - "z" is image position of the stack (H x W)
//   - "y" is row position across the stack (N x W)
//   - "x" is column position across the stack (H x N)
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, errors.Wrap(models.ErrConfig, "position must be non-negative")
	}
	vol := v.volume

	var plane []float64
	var h, w int
	switch axis {
	case "x", "X":
		if position >= vol.W {
			return nil, errors.Wrapf(models.ErrConfig, "position %d exceeds width %d", position, vol.W)
		}
		h, w = vol.H, vol.N
		plane = make([]float64, h*w)
		for y := 0; y < vol.H; y++ {
			for z := 0; z < vol.N; z++ {
				plane[y*w+z] = vol.At(z, y, position, v.channel)
			}
		}

	case "y", "Y":
		if position >= vol.H {
			return nil, errors.Wrapf(models.ErrConfig, "position %d exceeds height %d", position, vol.H)
		}
		h, w = vol.N, vol.W
		plane = make([]float64, h*w)
		for z := 0; z < vol.N; z++ {
			for x := 0; x < vol.W; x++ {
				plane[z*w+x] = vol.At(z, position, x, v.channel)
			}
		}

	case "z", "Z":
		if position >= vol.N {
			return nil, errors.Wrapf(models.ErrConfig, "position %d exceeds depth %d", position, vol.N)
		}
		h, w = vol.H, vol.W
		plane = vol.Plane(position, v.channel)

	default:
		return nil, errors.Wrapf(models.ErrConfig, "invalid axis: %s (must be x, y, or z)", axis)
	}

	return PlaneToGray(plane, h, w, v.scale), nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return SavePNG(img, filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.W
	case "y", "Y":
		maxPos = v.volume.H
	case "z", "Z":
		maxPos = v.volume.N
	default:
		return errors.Wrapf(models.ErrConfig, "invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
