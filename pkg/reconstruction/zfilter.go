package reconstruction

import (
	"runtime"
	"sort"
	"sync"

	"segprep/internal/models"
)

// ZFilter applies a size x size median filter to the (N, H) plane of every
// column of channel 0, smoothing predictions across consecutive images of
// the stack. Borders replicate the edge value and even sizes are bumped to
// the next odd one. Other channels are copied unchanged.
func ZFilter(v *models.Volume, size int) *models.Volume {
	out := v.Clone()
	if size <= 1 || v.N == 0 {
		return out
	}
	if size%2 == 0 {
		size++
	}
	radius := size / 2

	columns := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			window := make([]float64, 0, size*size)
			for x := range columns {
				for n := 0; n < v.N; n++ {
					for y := 0; y < v.H; y++ {
						window = window[:0]
						for dn := -radius; dn <= radius; dn++ {
							for dy := -radius; dy <= radius; dy++ {
								window = append(window, v.At(clamp(n+dn, v.N), clamp(y+dy, v.H), x, 0))
							}
						}
						out.Set(n, y, x, 0, median(window))
					}
				}
			}
		}()
	}
	for x := 0; x < v.W; x++ {
		columns <- x
	}
	close(columns)
	wg.Wait()
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// median sorts values in place and returns the middle element. Windows
// always have an odd length.
func median(values []float64) float64 {
	sort.Float64s(values)
	return values[len(values)/2]
}
