package model

import "math"

// minDwell is the smallest dwell time (seconds) fed into the time-to-leave
// estimate. Sub-tick state flips would otherwise drive the estimate to zero
// and blow up the leave-probability computation.
const minDwell = 0.1

// clamp01 forces v into [0,1]. NaN collapses to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sanitizeNonNeg forces v into [0, max]. NaN collapses to 0, +Inf to max.
func sanitizeNonNeg(v, max float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
