package stereo

import (
	"math"
	"sort"

	"github.com/rock-image-processing/image-processing-stereo/rimage"
)

// discontinuityThreshold separates gaps inside a surface, which are filled with the mean of
// their ends, from gaps at depth discontinuities, which take the farther (smaller) end.
const discontinuityThreshold = 3

func valid(d float32) bool {
	return d >= 0
}

// leftRightCheck invalidates disparities of disp that the map of the other view does not
// confirm within threshold. dir is -1 when disp is referenced to the left view.
func leftRightCheck(disp, other *rimage.Buffer[float32], dir int, threshold float32) *rimage.Buffer[float32] {
	out := disp.Clone()
	w := disp.Width()
	for y := 0; y < disp.Height(); y++ {
		row, otherRow, outRow := disp.Row(y), other.Row(y), out.Row(y)
		for x, d := range row {
			if !valid(d) {
				continue
			}
			xo := int(math.Round(float64(x) + float64(dir)*float64(d)))
			if xo < 0 || xo >= w || !valid(otherRow[xo]) || float32(math.Abs(float64(otherRow[xo]-d))) > threshold {
				outRow[x] = InvalidDisparity
			}
		}
	}
	return out
}

// removeSpeckles invalidates connected regions of similar disparity smaller than maxSize pixels.
func removeSpeckles(disp *rimage.Buffer[float32], simThreshold float32, maxSize int) {
	w, h := disp.Width(), disp.Height()
	label := make([]int32, w*h)
	data := disp.Data()
	var region, stack []int
	next := int32(0)
	for start := range data {
		if label[start] != 0 || !valid(data[start]) {
			continue
		}
		next++
		label[start] = next
		region = region[:0]
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region = append(region, i)
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if label[j] != 0 || !valid(data[j]) {
					continue
				}
				if float32(math.Abs(float64(data[j]-data[i]))) > simThreshold {
					continue
				}
				label[j] = next
				stack = append(stack, j)
			}
		}
		if len(region) < maxSize {
			for _, i := range region {
				data[i] = InvalidDisparity
			}
		}
	}
}

// interpolateGaps fills runs of at most maxWidth invalid pixels bounded by valid pixels, first
// along rows and then along columns.
func interpolateGaps(disp *rimage.Buffer[float32], maxWidth int) {
	w, h := disp.Width(), disp.Height()
	data := disp.Data()
	fill := func(n int, at func(int) int) {
		lastValid := -1
		for i := 0; i < n; i++ {
			if !valid(data[at(i)]) {
				continue
			}
			if gap := i - lastValid - 1; lastValid >= 0 && gap > 0 && gap <= maxWidth {
				d1, d2 := data[at(lastValid)], data[at(i)]
				v := (d1 + d2) / 2
				if math.Abs(float64(d1-d2)) >= discontinuityThreshold {
					v = float32(math.Min(float64(d1), float64(d2)))
				}
				for j := lastValid + 1; j < i; j++ {
					data[at(j)] = v
				}
			}
			lastValid = i
		}
	}
	for y := 0; y < h; y++ {
		fill(w, func(x int) int { return y*w + x })
	}
	for x := 0; x < w; x++ {
		fill(h, func(y int) int { return y*w + x })
	}
}

// adaptiveMean smooths valid disparities with their valid 3x3 neighbors, weighting each neighbor
// by how similar its intensity is to the center pixel.
func adaptiveMean(disp *rimage.Buffer[float32], img *rimage.Buffer[uint8]) {
	src := disp.Clone()
	w, h := disp.Width(), disp.Height()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := src.At(x, y)
			if !valid(d) {
				continue
			}
			center := float64(img.At(x, y))
			var sum, weights float64
			for j := y - 1; j <= y+1; j++ {
				for i := x - 1; i <= x+1; i++ {
					if !src.In(i, j) || !valid(src.At(i, j)) {
						continue
					}
					wt := 1 - math.Abs(float64(img.At(i, j))-center)/16
					if wt <= 0 {
						continue
					}
					sum += wt * float64(src.At(i, j))
					weights += wt
				}
			}
			disp.Set(x, y, float32(sum/weights))
		}
	}
}

// median3x3 replaces valid disparities by the median of the valid values in their 3x3 window.
func median3x3(disp *rimage.Buffer[float32]) {
	src := disp.Clone()
	w, h := disp.Width(), disp.Height()
	window := make([]float32, 0, 9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !valid(src.At(x, y)) {
				continue
			}
			window = window[:0]
			for j := y - 1; j <= y+1; j++ {
				for i := x - 1; i <= x+1; i++ {
					if src.In(i, j) && valid(src.At(i, j)) {
						window = append(window, src.At(i, j))
					}
				}
			}
			sort.Slice(window, func(a, b int) bool { return window[a] < window[b] })
			disp.Set(x, y, window[len(window)/2])
		}
	}
}
