package tiling

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"segprep/internal/models"
)

// MergeWithoutOverlap pastes grid tiles back into num mosaics of
// layout.Rows x layout.Cols tiles each. It is the visual inverse of CropGrid.
//
// When grid is set a 1-pixel border is drawn around every tile, using 255 for
// image data and 1 for normalized mask data (decided by the maximum value of
// the input). Pasting stops as soon as the tiles run out, so the last mosaic
// may be partially filled.
func MergeWithoutOverlap(data *models.Volume, num int, layout models.Layout, grid bool) *models.Volume {
	th, tw := data.H, data.W
	out := models.NewVolume(num, layout.Rows*th, layout.Cols*tw, data.C)

	v := 1.0
	if grid && len(data.Data) > 0 && floats.Max(data.Data) > 1 {
		v = 255
	}

	cont := 0
	for n := 0; n < num; n++ {
		for i := 0; i < layout.Rows; i++ {
			for j := 0; j < layout.Cols; j++ {
				if cont == data.N {
					return out
				}
				pasteTile(out, n, i*th, j*tw, data, cont)
				if grid {
					drawBorder(out, n, i*th, j*tw, th, tw, v)
				}
				cont++
			}
		}
	}
	return out
}

// Reassemble rebuilds the original h x w images from grid tiles produced by
// CropGrid without discarding, dropping the zero padding.
func Reassemble(tiles *models.Volume, layout models.Layout, h, w int) (*models.Volume, error) {
	if layout.Count() == 0 || tiles.N%layout.Count() != 0 {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"%d tiles do not form whole %dx%d mosaics", tiles.N, layout.Rows, layout.Cols)
	}
	if layout.Rows*tiles.H < h || layout.Cols*tiles.W < w {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"layout %dx%d of %dx%d tiles cannot cover %dx%d", layout.Rows, layout.Cols, tiles.H, tiles.W, h, w)
	}
	num := tiles.N / layout.Count()
	mosaic := MergeWithoutOverlap(tiles, num, layout, false)

	out := models.NewVolume(num, h, w, tiles.C)
	for n := 0; n < num; n++ {
		_ = out.SetImage(n, extractWindow(mosaic, n, 0, 0, h, w))
	}
	return out, nil
}

func pasteTile(dst *models.Volume, n, y0, x0 int, src *models.Volume, t int) {
	rowLen := src.W * src.C
	for y := 0; y < src.H; y++ {
		s := src.Index(t, y, 0, 0)
		d := dst.Index(n, y0+y, x0, 0)
		copy(dst.Data[d:d+rowLen], src.Data[s:s+rowLen])
	}
}

func drawBorder(dst *models.Volume, n, y0, x0, h, w int, v float64) {
	for k := 0; k < h; k++ {
		for c := 0; c < dst.C; c++ {
			dst.Set(n, y0+k, x0, c, v)
			dst.Set(n, y0+k, x0+w-1, c, v)
		}
	}
	for k := 0; k < w; k++ {
		for c := 0; c < dst.C; c++ {
			dst.Set(n, y0, x0+k, c, v)
			dst.Set(n, y0+h-1, x0+k, c, v)
		}
	}
}
