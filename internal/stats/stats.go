package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"fuel-price-alerts/internal/fuel"
)

// ImplausiblePriceCeiling is the value, in minor units, at or above which a sample is treated as
// a placeholder from the feed rather than a real pump price.
const ImplausiblePriceCeiling = 5000.0

// ErrNoSamples indicates the feed returned nothing for a grade.
var ErrNoSamples = errors.New("stats: no samples")

// GradeStats summarises one grade's samples for one day.
type GradeStats struct {
	Minimum    float64
	Mean       float64
	Percentile float64
}

// Reported picks the figure quoted to users for the grade: the mean for diesel, the low
// percentile for everything else.
func (s GradeStats) Reported(gradeID int) float64 {
	if fuel.ReportsMean(gradeID) {
		return s.Mean
	}
	return s.Percentile
}

// Clean sorts samples ascending and drops sentinel values at or above the ceiling.
// The minimum is kept even when it is itself above the ceiling.
func Clean(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	cleaned := make([]float64, 1, len(sorted))
	cleaned[0] = sorted[0]
	for _, v := range sorted[1:] {
		if v < ImplausiblePriceCeiling {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned, nil
}

// Percentile returns the p-th percentile of an ascending sequence, interpolating linearly
// between the two closest ranks.
func Percentile(sorted []float64, p float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, ErrNoSamples
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("stats: percentile %v out of range [0,100]", p)
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, nil
}

// Summarize computes minimum, mean (2dp) and the p-th percentile of a cleaned sample set.
func Summarize(cleaned []float64, p float64) (GradeStats, error) {
	if len(cleaned) == 0 {
		return GradeStats{}, ErrNoSamples
	}

	sorted := cleaned
	if !sort.Float64sAreSorted(sorted) {
		sorted = append([]float64(nil), cleaned...)
		sort.Float64s(sorted)
	}

	pct, err := Percentile(sorted, p)
	if err != nil {
		return GradeStats{}, err
	}

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return GradeStats{
		Minimum:    sorted[0],
		Mean:       round(sum/float64(len(sorted)), 2),
		Percentile: pct,
	}, nil
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
