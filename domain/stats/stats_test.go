package stats_test

import (
	"math"
	"testing"

	"github.com/costpilot/costpilot/domain/stats"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	if got := stats.Percentile(data, 50); !almostEqual(got, 5.5) {
		t.Errorf("p50 = %v, want 5.5", got)
	}
	if got := stats.Percentile(data, 90); !almostEqual(got, 9.1) {
		t.Errorf("p90 = %v, want 9.1", got)
	}
	if got := stats.Percentile(data, 0); !almostEqual(got, 1) {
		t.Errorf("p0 = %v, want 1", got)
	}
	if got := stats.Percentile(data, 100); !almostEqual(got, 10) {
		t.Errorf("p100 = %v, want 10", got)
	}
}

func TestPercentile_Empty(t *testing.T) {
	if got := stats.Percentile(nil, 50); got != 0 {
		t.Errorf("p50 of empty = %v, want 0", got)
	}
}

func TestPercentile_DoesNotMutate(t *testing.T) {
	data := []float64{3, 1, 2}
	stats.Percentile(data, 50)
	if data[0] != 3 || data[1] != 1 || data[2] != 2 {
		t.Errorf("input mutated: %v", data)
	}
}

func TestLinearRegression(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	ys := []float64{1, 3, 5, 7} // y = 2x + 1

	slope, intercept := stats.LinearRegression(xs, ys)
	if !almostEqual(slope, 2) {
		t.Errorf("slope = %v, want 2", slope)
	}
	if !almostEqual(intercept, 1) {
		t.Errorf("intercept = %v, want 1", intercept)
	}
}

func TestLinearRegression_Degenerate(t *testing.T) {
	slope, intercept := stats.LinearRegression(nil, nil)
	if slope != 0 || intercept != 0 {
		t.Errorf("empty input: slope=%v intercept=%v, want 0, 0", slope, intercept)
	}

	slope, intercept = stats.LinearRegression([]float64{5}, []float64{9})
	if slope != 0 || !almostEqual(intercept, 9) {
		t.Errorf("single point: slope=%v intercept=%v, want 0, 9", slope, intercept)
	}
}

func TestForecast_FlatSeries(t *testing.T) {
	daily := []float64{10, 10, 10, 10, 10, 10, 10}

	got := stats.Forecast(daily, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, v := range got {
		if math.Abs(v-10) > 1e-6 {
			t.Errorf("forecast[%d] = %v, want ~10", i, v)
		}
	}
}

func TestForecast_ClampsNegative(t *testing.T) {
	daily := []float64{10, 8, 6, 4, 2, 0, 0}
	for i, v := range stats.Forecast(daily, 3) {
		if v < 0 {
			t.Errorf("forecast[%d] = %v, want >= 0", i, v)
		}
	}
}

func TestMean(t *testing.T) {
	if got := stats.Mean([]float64{1, 2, 3}); !almostEqual(got, 2) {
		t.Errorf("Mean = %v, want 2", got)
	}
	if got := stats.Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, want 0", got)
	}
}
