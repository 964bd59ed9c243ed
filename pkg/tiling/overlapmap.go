package tiling

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/colornames"
)

// OverlapMapFile is the name of the overlap map written by OverlapMap.Save
const OverlapMapFile = "merged_ov_map.png"

// OverlapBand classifies a pixel by how many tiles cover it
type OverlapBand int

const (
	BandSingle OverlapBand = iota // covered once, no overlap
	BandDouble                    // 2 tiles
	BandFew                       // 3 to 7 tiles
	BandMany                      // 8 or more tiles
	BandBorder                    // lies on a tile boundary
)

// BandOf returns the overlap band of a coverage count
func BandOf(count float64) OverlapBand {
	switch {
	case count >= 8:
		return BandMany
	case count >= 3:
		return BandFew
	case count >= 2:
		return BandDouble
	default:
		return BandSingle
	}
}

// Tints for overlap bands, indexed by [band][foreground]
var bandPalette = map[OverlapBand][2]color.RGBA{
	BandDouble: {{0, 74, 0, 255}, {73, 100, 73, 255}},
	BandFew:    {{74, 74, 0, 255}, {100, 100, 73, 255}},
	BandMany:   {{74, 0, 0, 255}, {100, 73, 73, 255}},
}

// OverlapMap is a diagnostic rendering of overlap density over one merged
// image.
type OverlapMap struct {
	Bands []OverlapBand
	H, W  int
	Image *image.RGBA
}

// NewOverlapMap classifies every pixel by its coverage count, marks the
// 1-pixel border of every tile and renders the result over the merged plane.
func NewOverlapMap(merged, counts []float64, geom OverlapGeometry) *OverlapMap {
	h, w := geom.Y.Dim, geom.X.Dim
	bands := ClassifyOverlap(counts, h, w, geom.Origins(), geom.Window)
	return &OverlapMap{
		Bands: bands,
		H:     h,
		W:     w,
		Image: RenderOverlapMap(merged, bands, h, w),
	}
}

// ClassifyOverlap returns the band of every pixel, with tile borders taking
// precedence over coverage.
func ClassifyOverlap(counts []float64, h, w int, origins [][2]int, window int) []OverlapBand {
	bands := make([]OverlapBand, h*w)
	for i, c := range counts {
		bands[i] = BandOf(c)
	}
	last := window - 1
	for _, o := range origins {
		for k := 0; k < window; k++ {
			bands[(o[0]+k)*w+o[1]] = BandBorder
			bands[(o[0]+k)*w+o[1]+last] = BandBorder
			bands[o[0]*w+o[1]+k] = BandBorder
			bands[(o[0]+last)*w+o[1]+k] = BandBorder
		}
	}
	return bands
}

// RenderOverlapMap maps every (band, foreground) pair to a fixed colour.
// Single-coverage pixels keep the merged value as gray, borders are white and
// overlapping pixels are tinted green, yellow or red, lighter when the merged
// value is foreground (>= 0.5).
func RenderOverlapMap(merged []float64, bands []OverlapBand, h, w int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			switch bands[i] {
			case BandBorder:
				img.SetRGBA(x, y, colornames.White)
			case BandSingle:
				g := toUint8(merged[i] * 255)
				img.SetRGBA(x, y, color.RGBA{g, g, g, 255})
			default:
				fg := 0
				if merged[i] >= 0.5 {
					fg = 1
				}
				img.SetRGBA(x, y, bandPalette[bands[i]][fg])
			}
		}
	}
	return img
}

// Save writes the map as OverlapMapFile under dir
func (m *OverlapMap) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create overlap map directory")
	}
	if err := imaging.Save(m.Image, filepath.Join(dir, OverlapMapFile)); err != nil {
		return errors.Wrap(err, "failed to save overlap map")
	}
	return nil
}

func toUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
