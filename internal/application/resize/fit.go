package resize

import "math"

// Fit returns the dimensions of a w×h image scaled so that its larger side
// is at most bound, keeping the aspect ratio. Images already within bound
// are returned unchanged; neither side is ever below 1.
func Fit(w, h, bound int) (int, int) {
	if w <= 0 || h <= 0 || bound <= 0 {
		return w, h
	}
	if w <= bound && h <= bound {
		return w, h
	}

	if w >= h {
		return bound, max(1, int(math.Round(float64(h)*float64(bound)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(bound)/float64(h)))), bound
}
