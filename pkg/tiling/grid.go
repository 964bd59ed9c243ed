// Package tiling splits image volumes into fixed-size tiles and merges tiles
// (or model predictions made on them) back into the original geometry.
//
// Two layouts are supported. The grid layout pads every image on the high
// side up to a whole number of tiles and never overlaps. The overlap layout
// produces a fixed number of tiles per image, spreading the unavoidable
// overlap as evenly as possible so that the tiles exactly cover images whose
// size is not a multiple of the tile size.
package tiling

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"segprep/internal/models"
)

// ForegroundPercentage returns the percentage (0-100) of pixels in a 2D
// mask plane that are equal to classTag. An empty plane has ratio 0.
func ForegroundPercentage(plane []float64, classTag float64) float64 {
	if len(plane) == 0 {
		return 0
	}
	c := 0
	for _, v := range plane {
		if v == classTag {
			c++
		}
	}
	return float64(c*100) / float64(len(plane))
}

// GridParams configures CropGrid
type GridParams struct {
	// TileH and TileW are the tile dimensions
	TileH, TileW int

	// Layout forces the number of tiles per axis. When zero it is derived
	// from the image size with GridLayout.
	Layout models.Layout

	// DiscardPercentage drops tiles whose mask foreground ratio does not
	// exceed it. Zero disables discarding. Only used when a mask is given.
	DiscardPercentage float64

	// ClassTag is the mask value counted as foreground
	ClassTag float64

	Logger *logrus.Logger
}

// GridResult holds the output of CropGrid
type GridResult struct {
	Images *models.Volume

	// Masks is nil when no mask volume was supplied
	Masks *models.Volume

	// Layout is the (rows, cols) used, for reuse in later calls
	Layout models.Layout

	Discarded int
}

// GridLayout returns the number of tiles needed to cover an h x w image
// with tileH x tileW tiles.
func GridLayout(h, w, tileH, tileW int) models.Layout {
	return models.Layout{
		Rows: (h + tileH - 1) / tileH,
		Cols: (w + tileW - 1) / tileW,
	}
}

// CropGrid splits every image of data (and mask, if not nil) into a regular
// grid of non-overlapping tiles. Images are zero-padded on the high side so
// that the grid fits exactly. Tiles are emitted image by image, row by row.
func CropGrid(data, mask *models.Volume, p GridParams) (*GridResult, error) {
	log := loggerOrDefault(p.Logger)

	if p.TileH <= 0 || p.TileW <= 0 {
		return nil, errors.Wrapf(models.ErrConfig, "invalid tile size %dx%d", p.TileH, p.TileW)
	}
	if p.DiscardPercentage < 0 || p.DiscardPercentage > 100 {
		return nil, errors.Wrapf(models.ErrConfig, "discard percentage %v out of [0, 100]", p.DiscardPercentage)
	}
	if mask != nil && (mask.N != data.N || mask.H != data.H || mask.W != data.W) {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "mask %s does not match data %s", mask, data)
	}

	layout := p.Layout
	if layout.IsZero() {
		layout = GridLayout(data.H, data.W, p.TileH, p.TileW)
	} else {
		log.WithFields(logrus.Fields{
			"component": "tiling",
			"rows":      layout.Rows,
			"cols":      layout.Cols,
		}).Info("Forcing crop layout")
	}
	if layout.Rows <= 0 || layout.Cols <= 0 {
		return nil, errors.Wrapf(models.ErrConfig, "invalid layout %dx%d", layout.Rows, layout.Cols)
	}

	log.WithFields(logrus.Fields{
		"component": "tiling",
		"from":      data.String(),
		"tile":      [2]int{p.TileH, p.TileW},
		"padded":    [2]int{layout.Rows * p.TileH, layout.Cols * p.TileW},
	}).Info("Cropping images into grid tiles")

	total := data.N * layout.Count()
	keep := make([]bool, total)
	kept := 0
	discard := mask != nil && p.DiscardPercentage > 0

	cont := 0
	for n := 0; n < data.N; n++ {
		for i := 0; i < layout.Rows; i++ {
			for j := 0; j < layout.Cols; j++ {
				keep[cont] = true
				if discard {
					tile := extractWindow(mask, n, i*p.TileH, j*p.TileW, p.TileH, p.TileW)
					keep[cont] = ForegroundPercentage(tile.Plane(0), p.ClassTag) > p.DiscardPercentage
				}
				if keep[cont] {
					kept++
				}
				cont++
			}
		}
	}

	result := &GridResult{
		Images:    models.NewVolume(kept, p.TileH, p.TileW, data.C),
		Layout:    layout,
		Discarded: total - kept,
	}
	if mask != nil {
		result.Masks = models.NewVolume(kept, p.TileH, p.TileW, mask.C)
	}

	cont = 0
	out := 0
	for n := 0; n < data.N; n++ {
		for i := 0; i < layout.Rows; i++ {
			for j := 0; j < layout.Cols; j++ {
				if keep[cont] {
					y0, x0 := i*p.TileH, j*p.TileW
					// Geometry is guaranteed by construction
					_ = result.Images.SetImage(out, extractWindow(data, n, y0, x0, p.TileH, p.TileW))
					if mask != nil {
						_ = result.Masks.SetImage(out, extractWindow(mask, n, y0, x0, p.TileH, p.TileW))
					}
					out++
				}
				cont++
			}
		}
	}

	fields := logrus.Fields{"component": "tiling", "shape": result.Images.String()}
	if discard {
		fields["discarded"] = result.Discarded
	}
	log.WithFields(fields).Info("Grid cropping finished")

	return result, nil
}

// extractWindow copies an h x w window of image n starting at (y0, x0).
// Pixels outside the image read as zero.
func extractWindow(v *models.Volume, n, y0, x0, h, w int) *models.Image {
	out := models.NewImage(h, w, v.C)
	for y := 0; y < h; y++ {
		sy := y0 + y
		if sy < 0 || sy >= v.H {
			continue
		}
		for x := 0; x < w; x++ {
			sx := x0 + x
			if sx < 0 || sx >= v.W {
				continue
			}
			src := v.Index(n, sy, sx, 0)
			copy(out.Data[out.Index(y, x, 0):out.Index(y, x, 0)+v.C], v.Data[src:src+v.C])
		}
	}
	return out
}

func loggerOrDefault(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
