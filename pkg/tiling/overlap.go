package tiling

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"segprep/internal/models"
)

// AxisGeometry describes how Count windows of size Window are placed along
// one axis of length Dim.
//
// With a single window the step is the whole axis and there is no overlap.
// Otherwise the excess |Dim - Window*Count| is shared between the Count-1
// gaps: each gap overlaps by Overlap pixels and the Remainder that does not
// divide evenly is absorbed by the last window, which is shifted back so that
// it ends exactly at Dim.
type AxisGeometry struct {
	Dim       int
	Window    int
	Count     int
	Overlap   int
	Remainder int
	Step      int
}

// NewAxisGeometry computes the placement of k windows along an axis
func NewAxisGeometry(dim, window, k int) AxisGeometry {
	g := AxisGeometry{Dim: dim, Window: window, Count: k}
	if k == 1 {
		g.Step = dim
		return g
	}
	excess := dim - window*k
	if excess < 0 {
		excess = -excess
	}
	g.Overlap = excess / (k - 1)
	g.Remainder = excess % (k - 1)
	g.Step = window - g.Overlap
	return g
}

// Origin returns the start of window m. Every window but the last sits at
// m*Step; the last one is pulled back by Remainder, which places it at
// Dim-Window. When the window nearly fills the axis the remainder can exceed
// the step, so no origin is allowed past Dim-Window.
func (g AxisGeometry) Origin(m int) int {
	origin := m * g.Step
	if g.Count > 1 && m == g.Count-1 {
		origin -= g.Remainder
	}
	if limit := g.Dim - g.Window; origin > limit {
		origin = limit
	}
	return origin
}

// Origins returns the start of every window in order
func (g AxisGeometry) Origins() []int {
	origins := make([]int, g.Count)
	for m := range origins {
		origins[m] = g.Origin(m)
	}
	return origins
}

// MinimalOverlapLayout factors subdivision into rows*cols choosing the pair
// with the smallest |cols-rows|. Ties keep the smallest number of rows.
func MinimalOverlapLayout(subdivision int) models.Layout {
	layout := models.Layout{Rows: 1, Cols: 1}
	minD := math.MaxInt
	for i := 1; i <= subdivision/2; i++ {
		if subdivision%i != 0 {
			continue
		}
		d := subdivision/i - i
		if d < 0 {
			d = -d
		}
		if d < minD {
			minD = d
			layout = models.Layout{Rows: i, Cols: subdivision / i}
		}
	}
	return layout
}

// OverlapGeometry is the full placement of overlapping tiles over an image
type OverlapGeometry struct {
	Layout models.Layout
	Y      AxisGeometry
	X      AxisGeometry
	Window int
}

// NewOverlapGeometry validates the request and computes the placement of
// subdivision square tiles of side window over an h x w image.
func NewOverlapGeometry(h, w, window, subdivision int) (OverlapGeometry, error) {
	if subdivision < 1 || (subdivision != 1 && subdivision%2 != 0) {
		return OverlapGeometry{}, errors.Wrapf(models.ErrConfig,
			"subdivision must be 1 or an even number, got %d", subdivision)
	}
	if window <= 0 {
		return OverlapGeometry{}, errors.Wrapf(models.ErrConfig, "invalid window size %d", window)
	}
	if window > h {
		return OverlapGeometry{}, errors.Wrapf(models.ErrConfig,
			"window size %d greater than data height %d", window, h)
	}
	if window > w {
		return OverlapGeometry{}, errors.Wrapf(models.ErrConfig,
			"window size %d greater than data width %d", window, w)
	}

	layout := MinimalOverlapLayout(subdivision)
	if subdivision != 1 {
		if err := checkCoverage(layout, h, w, window); err != nil {
			return OverlapGeometry{}, err
		}
	}

	return OverlapGeometry{
		Layout: layout,
		Y:      NewAxisGeometry(h, window, layout.Rows),
		X:      NewAxisGeometry(w, window, layout.Cols),
		Window: window,
	}, nil
}

// checkCoverage fails unless the layout of windows spans an h x w image.
// A single window smaller than the image is a valid crop but cannot be
// merged back, since part of the output would have no tile.
func checkCoverage(layout models.Layout, h, w, window int) error {
	if window*layout.Rows < h {
		return errors.Wrapf(models.ErrConfig,
			"%d rows of %d pixels cannot cover height %d", layout.Rows, window, h)
	}
	if window*layout.Cols < w {
		return errors.Wrapf(models.ErrConfig,
			"%d columns of %d pixels cannot cover width %d", layout.Cols, window, w)
	}
	return nil
}

// Origins returns the (row, col) origin of every tile of one image, rows
// outermost.
func (g OverlapGeometry) Origins() [][2]int {
	origins := make([][2]int, 0, g.Layout.Count())
	for _, y := range g.Y.Origins() {
		for _, x := range g.X.Origins() {
			origins = append(origins, [2]int{y, x})
		}
	}
	return origins
}

// Coverage counts, for every pixel of one image, how many tiles include it
func (g OverlapGeometry) Coverage() []float64 {
	h, w := g.Y.Dim, g.X.Dim
	counts := make([]float64, h*w)
	for _, o := range g.Origins() {
		for y := o[0]; y < o[0]+g.Window; y++ {
			for x := o[1]; x < o[1]+g.Window; x++ {
				counts[y*w+x]++
			}
		}
	}
	return counts
}

// CropWithOverlap splits every image of data (and mask, when not nil) into
// exactly subdivision square tiles of side window with minimal, evenly
// spread overlap. The output holds data.N*subdivision tiles ordered by image,
// then tile row, then tile column.
func CropWithOverlap(data, mask *models.Volume, window, subdivision int, logger *logrus.Logger) (*models.Volume, *models.Volume, error) {
	log := loggerOrDefault(logger)

	if mask != nil && (mask.N != data.N || mask.H != data.H || mask.W != data.W) {
		return nil, nil, errors.Wrapf(models.ErrShapeMismatch, "mask %s does not match data %s", mask, data)
	}
	geom, err := NewOverlapGeometry(data.H, data.W, window, subdivision)
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"component": "tiling",
		"from":      data.String(),
		"window":    window,
		"rows":      geom.Layout.Rows,
		"cols":      geom.Layout.Cols,
		"overlap":   [2]int{geom.Y.Overlap, geom.X.Overlap},
	}).Info("Cropping data with the minimum overlap")

	origins := geom.Origins()
	images := models.NewVolume(data.N*subdivision, window, window, data.C)
	var masks *models.Volume
	if mask != nil {
		masks = models.NewVolume(data.N*subdivision, window, window, mask.C)
	}

	cont := 0
	for n := 0; n < data.N; n++ {
		for _, o := range origins {
			_ = images.SetImage(cont, extractWindow(data, n, o[0], o[1], window, window))
			if mask != nil {
				_ = masks.SetImage(cont, extractWindow(mask, n, o[0], o[1], window, window))
			}
			cont++
		}
	}

	log.WithFields(logrus.Fields{"component": "tiling", "shape": images.String()}).Info("Overlap cropping finished")
	return images, masks, nil
}

// MergeParams configures MergeWithOverlap
type MergeParams struct {
	// Height and Width of the original images
	Height, Width int

	Window      int
	Subdivision int

	// OverlapMap enables the diagnostic overlap map of image MapImage
	OverlapMap bool
	MapImage   int

	// OutDir receives merged_ov_map.png when OverlapMap is set. Empty keeps
	// the map in memory only.
	OutDir string

	Logger *logrus.Logger
}

// MergeResult holds the output of MergeWithOverlap
type MergeResult struct {
	Merged *models.Volume

	// Counts is the per-pixel number of tiles covering each output pixel
	Counts []float64

	// Map is the rendered overlap map, nil unless requested
	Map *OverlapMap
}

// MergeWithOverlap undoes CropWithOverlap: tiles are accumulated at their
// origin and every pixel is divided by the number of tiles that covered it.
func MergeWithOverlap(tiles *models.Volume, p MergeParams) (*MergeResult, error) {
	log := loggerOrDefault(p.Logger)

	geom, err := NewOverlapGeometry(p.Height, p.Width, p.Window, p.Subdivision)
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(geom.Layout, p.Height, p.Width, p.Window); err != nil {
		return nil, err
	}
	if tiles.H != p.Window || tiles.W != p.Window {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"tiles %s do not match window size %d", tiles, p.Window)
	}
	if tiles.N%p.Subdivision != 0 {
		return nil, errors.Wrapf(models.ErrShapeMismatch,
			"%d tiles is not a multiple of subdivision %d", tiles.N, p.Subdivision)
	}

	total := tiles.N / p.Subdivision
	log.WithFields(logrus.Fields{
		"component": "tiling",
		"tiles":     tiles.String(),
		"into":      [2]int{p.Height, p.Width},
		"images":    total,
	}).Info("Merging overlapping crops")

	counts := geom.Coverage()
	origins := geom.Origins()
	merged := models.NewVolume(total, p.Height, p.Width, tiles.C)

	cont := 0
	for n := 0; n < total; n++ {
		for _, o := range origins {
			for y := 0; y < p.Window; y++ {
				for x := 0; x < p.Window; x++ {
					src := tiles.Index(cont, y, x, 0)
					dst := merged.Index(n, o[0]+y, o[1]+x, 0)
					for c := 0; c < tiles.C; c++ {
						merged.Data[dst+c] += tiles.Data[src+c]
					}
				}
			}
			cont++
		}
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				count := counts[y*p.Width+x]
				dst := merged.Index(n, y, x, 0)
				for c := 0; c < tiles.C; c++ {
					merged.Data[dst+c] /= count
				}
			}
		}
	}

	result := &MergeResult{Merged: merged, Counts: counts}

	if p.OverlapMap && total > 0 {
		img := p.MapImage
		if img < 0 || img >= total {
			img = 0
		}
		result.Map = NewOverlapMap(merged.Plane(img, 0), counts, geom)
		if p.OutDir != "" {
			if err := result.Map.Save(p.OutDir); err != nil {
				return nil, err
			}
			log.WithFields(logrus.Fields{"component": "tiling", "dir": p.OutDir}).Info("Saved overlap map")
		}
	}

	log.WithFields(logrus.Fields{"component": "tiling", "shape": merged.String()}).Info("Overlap merge finished")
	return result, nil
}
