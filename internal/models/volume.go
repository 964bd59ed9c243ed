package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfig marks invalid parameters detected before any work starts.
	ErrConfig = errors.New("configuration error")

	// ErrShapeMismatch marks arrays whose geometry disagrees with what the
	// caller declared.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDegenerateProbMap is returned when a probability map has no positive
	// weight to sample from.
	ErrDegenerateProbMap = errors.New("degenerate probability map")
)

// Volume is a dense [N, H, W, C] array stored in row-major order
// (batch, height, width, channel).
type Volume struct {
	// Data holds N*H*W*C samples
	Data []float64

	// N is the number of images in the batch
	N int

	// H and W are the spatial dimensions shared by every image
	H, W int

	// C is the number of channels
	C int
}

// NewVolume allocates a zero-filled volume
func NewVolume(n, h, w, c int) *Volume {
	return &Volume{
		Data: make([]float64, n*h*w*c),
		N:    n,
		H:    h,
		W:    w,
		C:    c,
	}
}

// Index returns the flat offset of element (n, y, x, c)
func (v *Volume) Index(n, y, x, c int) int {
	return ((n*v.H+y)*v.W+x)*v.C + c
}

func (v *Volume) At(n, y, x, c int) float64 {
	return v.Data[v.Index(n, y, x, c)]
}

func (v *Volume) Set(n, y, x, c int, value float64) {
	v.Data[v.Index(n, y, x, c)] = value
}

// ImageSize is the number of samples in a single [H, W, C] image
func (v *Volume) ImageSize() int {
	return v.H * v.W * v.C
}

// Image returns a copy of image n
func (v *Volume) Image(n int) *Image {
	size := v.ImageSize()
	img := NewImage(v.H, v.W, v.C)
	copy(img.Data, v.Data[n*size:(n+1)*size])
	return img
}

// SetImage overwrites image n with img, which must share the volume geometry
func (v *Volume) SetImage(n int, img *Image) error {
	if img.H != v.H || img.W != v.W || img.C != v.C {
		return errors.Wrapf(ErrShapeMismatch, "image %s does not fit volume %s", img, v)
	}
	size := v.ImageSize()
	copy(v.Data[n*size:(n+1)*size], img.Data)
	return nil
}

// Plane returns a copy of channel c of image n as an H*W row-major slice
func (v *Volume) Plane(n, c int) []float64 {
	plane := make([]float64, v.H*v.W)
	for y := 0; y < v.H; y++ {
		for x := 0; x < v.W; x++ {
			plane[y*v.W+x] = v.At(n, y, x, c)
		}
	}
	return plane
}

func (v *Volume) Clone() *Volume {
	out := &Volume{N: v.N, H: v.H, W: v.W, C: v.C}
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return out
}

// Slice returns a copy of images [start, end)
func (v *Volume) Slice(start, end int) *Volume {
	if end > v.N {
		end = v.N
	}
	if start > end {
		start = end
	}
	size := v.ImageSize()
	out := NewVolume(end-start, v.H, v.W, v.C)
	copy(out.Data, v.Data[start*size:end*size])
	return out
}

// Select returns a copy holding the images at the given indexes, in order
func (v *Volume) Select(indexes []int) *Volume {
	size := v.ImageSize()
	out := NewVolume(len(indexes), v.H, v.W, v.C)
	for i, n := range indexes {
		copy(out.Data[i*size:(i+1)*size], v.Data[n*size:(n+1)*size])
	}
	return out
}

// Scale multiplies every sample by factor in place
func (v *Volume) Scale(factor float64) {
	for i := range v.Data {
		v.Data[i] *= factor
	}
}

// SameGeometry reports whether both volumes share H, W and C
func (v *Volume) SameGeometry(o *Volume) bool {
	return v.H == o.H && v.W == o.W && v.C == o.C
}

func (v *Volume) String() string {
	return fmt.Sprintf("[%d %d %d %d]", v.N, v.H, v.W, v.C)
}

// Concat stacks b below a along the batch axis
func Concat(a, b *Volume) (*Volume, error) {
	if b == nil || b.N == 0 {
		if a == nil {
			return nil, nil
		}
		return a.Clone(), nil
	}
	if a == nil || a.N == 0 {
		return b.Clone(), nil
	}
	if !a.SameGeometry(b) {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot stack %s and %s", a, b)
	}
	out := &Volume{N: a.N + b.N, H: a.H, W: a.W, C: a.C}
	out.Data = make([]float64, 0, len(a.Data)+len(b.Data))
	out.Data = append(out.Data, a.Data...)
	out.Data = append(out.Data, b.Data...)
	return out, nil
}
