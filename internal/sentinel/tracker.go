// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"math"
)

// Welford's Algorithm: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm

// Tracker keeps a running mean and variance without storing history.
// The zero value is ready to use. Not safe for concurrent use.
type Tracker struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // sum of squared differences from the mean
}

// Update folds in one observation.
func (t *Tracker) Update(v float64) {
	t.Count++
	delta := v - t.Mean
	t.Mean += delta / float64(t.Count)
	t.M2 += delta * (v - t.Mean)
}

// Variance returns the sample variance.
func (t *Tracker) Variance() float64 {
	if t.Count < 2 {
		return 0
	}
	return t.M2 / float64(t.Count-1)
}

// PopulationVariance divides by n rather than n-1.
func (t *Tracker) PopulationVariance() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.M2 / float64(t.Count)
}

// StdDev returns the sample standard deviation.
func (t *Tracker) StdDev() float64 {
	return math.Sqrt(t.Variance())
}

// Reset clears all observations.
func (t *Tracker) Reset() {
	*t = Tracker{}
}
