package augment

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
)

// newRand returns a source seeded with seed, or with the clock when seed is 0
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewSource(seed))
}

// border maps an out-of-range integer coordinate back into [0, n)
type border func(i, n int) int

// reflect mirrors about the pixel edge: d c b a | a b c d | d c b a
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// reflect101 mirrors about the edge pixel: d c b | a b c d | c b a
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2*n - 2
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// bilinear samples plane (h x w) at the real coordinate (y, x)
func bilinear(plane []float64, h, w int, y, x float64, b border) float64 {
	y0f, x0f := math.Floor(y), math.Floor(x)
	dy, dx := y-y0f, x-x0f
	y0, x0 := int(y0f), int(x0f)

	r0, r1 := b(y0, h), b(y0+1, h)
	c0, c1 := b(x0, w), b(x0+1, w)

	top := plane[r0*w+c0]*(1-dx) + plane[r0*w+c1]*dx
	bottom := plane[r1*w+c0]*(1-dx) + plane[r1*w+c1]*dx
	return top*(1-dy) + bottom*dy
}

// nearest samples plane (h x w) at the pixel closest to (y, x)
func nearest(plane []float64, h, w int, y, x float64, b border) float64 {
	r := b(int(math.Floor(y+0.5)), h)
	c := b(int(math.Floor(x+0.5)), w)
	return plane[r*w+c]
}
