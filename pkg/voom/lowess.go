package voom

import (
	"math"
	"sort"
)

// lowess fits a locally-weighted linear regression through (x, y) with the
// given span (fraction of points per local window) and robustness
// iterations. x must be sorted ascending. Returns the smoothed value at
// every x.
func lowess(x, y []float64, span float64, iters int) []float64 {
	n := len(x)
	fitted := make([]float64, n)
	if n == 0 {
		return fitted
	}
	if n == 1 {
		fitted[0] = y[0]
		return fitted
	}

	r := int(math.Ceil(span * float64(n)))
	if r < 2 {
		r = 2
	}
	if r > n {
		r = n
	}

	robust := make([]float64, n)
	for i := range robust {
		robust[i] = 1
	}
	ymin, ymax := y[0], y[0]
	for _, v := range y {
		ymin = math.Min(ymin, v)
		ymax = math.Max(ymax, v)
	}
	// Residuals below this are considered an exact fit; stops the bisquare
	// step from zeroing weights over numerical noise.
	resFloor := 1e-7 * (ymax - ymin)

	if iters < 1 {
		iters = 1
	}
	prev := append([]float64(nil), y...)
	for iter := 0; iter < iters; iter++ {
		lo, hi := 0, r // current window [lo, hi)
		for i := 0; i < n; i++ {
			// Slide the window so it holds the r nearest neighbours of x[i].
			for hi < n && x[hi]-x[i] < x[i]-x[lo] {
				lo++
				hi++
			}
			dmax := math.Max(x[i]-x[lo], x[hi-1]-x[i])

			// Tricube distance weights times robustness weights,
			// then a weighted straight-line fit over the window.
			var sw, swx, swy, swxx, swxy float64
			for j := lo; j < hi; j++ {
				w := robust[j]
				if dmax > 0 {
					d := math.Abs(x[j]-x[i]) / dmax
					if d >= 1 {
						continue
					}
					t := 1 - d*d*d
					w *= t * t * t
				}
				sw += w
				swx += w * x[j]
				swy += w * y[j]
				swxx += w * x[j] * x[j]
				swxy += w * x[j] * y[j]
			}
			if sw <= 0 {
				// Robustness weights wiped the whole window; keep the
				// previous iteration's estimate rather than the raw value.
				fitted[i] = prev[i]
				continue
			}
			mx := swx / sw
			my := swy / sw
			vxx := swxx/sw - mx*mx
			if vxx <= 1e-12 {
				fitted[i] = my
				continue
			}
			slope := (swxy/sw - mx*my) / vxx
			fitted[i] = my + slope*(x[i]-mx)
		}

		if iter == iters-1 {
			break
		}
		copy(prev, fitted)

		// Bisquare robustness weights from the residuals.
		res := make([]float64, n)
		for i := range res {
			res[i] = math.Abs(y[i] - fitted[i])
		}
		sorted := append([]float64(nil), res...)
		sort.Float64s(sorted)
		med := sorted[n/2]
		if n%2 == 0 {
			med = (sorted[n/2-1] + sorted[n/2]) / 2
		}
		cut := 6 * med
		if cut <= resFloor {
			break // already an exact fit
		}
		for i := range robust {
			u := res[i] / cut
			if u >= 1 {
				robust[i] = 0
				continue
			}
			t := 1 - u*u
			robust[i] = t * t
		}
	}
	return fitted
}

// interpolate evaluates the piecewise-linear curve through (xs, ys) at t,
// clamping beyond the endpoints. xs must be sorted ascending with no
// duplicates.
func interpolate(xs, ys []float64, t float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if t <= xs[0] {
		return ys[0]
	}
	if t >= xs[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(xs, t)
	// xs[i-1] < t < xs[i]
	frac := (t - xs[i-1]) / (xs[i] - xs[i-1])
	return ys[i-1] + frac*(ys[i]-ys[i-1])
}

// dedupe averages y over tied x values so the curve can be interpolated.
// Pairs must be sorted by x.
func dedupe(xs, ys []float64) ([]float64, []float64) {
	var ox, oy []float64
	for i := 0; i < len(xs); {
		j := i
		sum := 0.0
		for j < len(xs) && xs[j] == xs[i] {
			sum += ys[j]
			j++
		}
		ox = append(ox, xs[i])
		oy = append(oy, sum/float64(j-i))
		i = j
	}
	return ox, oy
}
