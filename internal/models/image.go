package models

import "fmt"

// Image is a single [H, W, C] sample in row-major order
type Image struct {
	Data []float64
	H, W int
	C    int
}

// NewImage allocates a zero-filled image
func NewImage(h, w, c int) *Image {
	return &Image{Data: make([]float64, h*w*c), H: h, W: w, C: c}
}

func (m *Image) Index(y, x, c int) int {
	return (y*m.W+x)*m.C + c
}

func (m *Image) At(y, x, c int) float64 {
	return m.Data[m.Index(y, x, c)]
}

func (m *Image) Set(y, x, c int, value float64) {
	m.Data[m.Index(y, x, c)] = value
}

func (m *Image) Clone() *Image {
	out := NewImage(m.H, m.W, m.C)
	copy(out.Data, m.Data)
	return out
}

// Plane returns a copy of channel c as an H*W slice
func (m *Image) Plane(c int) []float64 {
	plane := make([]float64, m.H*m.W)
	for i := range plane {
		plane[i] = m.Data[i*m.C+c]
	}
	return plane
}

// SetPlane overwrites channel c from an H*W slice
func (m *Image) SetPlane(c int, plane []float64) {
	for i, v := range plane {
		m.Data[i*m.C+c] = v
	}
}

// Window copies the h x w region whose top-left corner is (y0, x0)
func (m *Image) Window(y0, x0, h, w int) *Image {
	out := NewImage(h, w, m.C)
	for y := 0; y < h; y++ {
		src := m.Index(y0+y, x0, 0)
		copy(out.Data[y*w*m.C:(y+1)*w*m.C], m.Data[src:src+w*m.C])
	}
	return out
}

func (m *Image) String() string {
	return fmt.Sprintf("[%d %d %d]", m.H, m.W, m.C)
}

// Layout describes how many tiles span each axis
type Layout struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// Count is the number of tiles per image
func (l Layout) Count() int {
	return l.Rows * l.Cols
}

// IsZero reports whether the layout is unset
func (l Layout) IsZero() bool {
	return l.Rows == 0 && l.Cols == 0
}
