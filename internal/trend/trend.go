package trend

import (
	"errors"
	"fmt"
	"math"
)

// Windows are the slope lengths, in data points, reported for every series.
var Windows = []int{2, 7, 14, 28}

var (
	// ErrEmptySeries is returned when there is nothing to analyse.
	ErrEmptySeries = errors.New("trend: empty series")
	// ErrInsufficientData means the series is shorter than a slope window.
	ErrInsufficientData = errors.New("trend: insufficient data")
)

// Features describes a daily series, oldest first. Ages count data points back from the
// newest value, which need not be calendar days when the ledger has gaps.
type Features struct {
	TodayIndex    int
	PeakValue     float64
	PeakAgeDays   int
	TroughValue   float64
	TroughAgeDays int
	// Slopes holds the fitted slope per window; windows longer than the series are absent.
	Slopes map[int]float64
}

// Slope returns the slope for a window and whether it could be computed.
func (f Features) Slope(window int) (float64, bool) {
	v, ok := f.Slopes[window]
	return v, ok
}

// Analyze extracts peak, trough and multi-window slopes from a series.
func Analyze(series []float64) (Features, error) {
	if len(series) == 0 {
		return Features{}, ErrEmptySeries
	}

	today := len(series) - 1
	peak, trough := 0, 0
	for i, v := range series {
		if v > series[peak] {
			peak = i
		}
		if v < series[trough] {
			trough = i
		}
	}

	f := Features{
		TodayIndex:    today,
		PeakValue:     series[peak],
		PeakAgeDays:   today - peak,
		TroughValue:   series[trough],
		TroughAgeDays: today - trough,
		Slopes:        make(map[int]float64, len(Windows)),
	}
	for _, w := range Windows {
		m, err := Slope(series, w)
		if err != nil {
			continue
		}
		f.Slopes[w] = m
	}
	return f, nil
}

// Slope fits an ordinary least-squares line through the last window values against x = 0..window-1
// and returns its slope rounded to 3 decimal places.
func Slope(series []float64, window int) (float64, error) {
	if window < 2 || len(series) < window {
		return 0, fmt.Errorf("%w: window %d over %d values", ErrInsufficientData, window, len(series))
	}

	ys := series[len(series)-window:]
	n := float64(window)
	xMean := (n - 1) / 2

	yMean := 0.0
	for _, y := range ys {
		yMean += y
	}
	yMean /= n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}

	m := math.Round(num/den*1000) / 1000
	if m == 0 {
		// normalise -0
		m = 0
	}
	return m, nil
}
