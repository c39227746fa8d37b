// Package stats provides pure statistical primitives for cost analytics.
// All functions are deterministic - same input always produces same output.
package stats

import "sort"

// Percentile computes the pct-th percentile of data via linear interpolation
// on the sorted values. Percentile([1..10], 50) == 5.5. Returns 0 for empty
// input. Does not mutate data.
func Percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	s := make([]float64, len(data))
	copy(s, data)
	sort.Float64s(s)

	k := float64(len(s)-1) * pct / 100
	lo := int(k)
	hi := lo + 1
	if hi > len(s)-1 {
		hi = len(s) - 1
	}
	return s[lo] + (s[hi]-s[lo])*(k-float64(lo))
}

// LinearRegression fits y = slope*x + intercept by ordinary least squares.
// With fewer than two points the slope is 0 and the intercept is the sole
// value (or 0 for empty input).
func LinearRegression(xs, ys []float64) (slope, intercept float64) {
	n := len(xs)
	if n < 2 {
		if len(ys) > 0 {
			return 0, ys[0]
		}
		return 0, 0
	}

	var sx, sy, sxy, sxx float64
	for i := 0; i < n; i++ {
		sx += xs[i]
		sy += ys[i]
		sxy += xs[i] * ys[i]
		sxx += xs[i] * xs[i]
	}

	denom := float64(n)*sxx - sx*sx
	if denom == 0 {
		return 0, sy / float64(n)
	}
	slope = (float64(n)*sxy - sx*sy) / denom
	intercept = (sy - slope*sx) / float64(n)
	return slope, intercept
}

// Forecast extends a daily series by `days` points using OLS over the series.
// Values are clamped at zero; spend cannot go negative.
func Forecast(daily []float64, days int) []float64 {
	xs := make([]float64, len(daily))
	for i := range daily {
		xs[i] = float64(i)
	}
	slope, intercept := LinearRegression(xs, daily)

	out := make([]float64, days)
	for i := 0; i < days; i++ {
		v := slope*float64(len(daily)+i) + intercept
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for empty input.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}
