package patternmemory

import "math"

// meanStdDev returns the mean and population standard deviation of values.
// Both are 0 for an empty slice.
func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	stddev = math.Sqrt(sumSquares / float64(len(values)))

	return mean, stddev
}

// decayCount is how many of the oldest samples a decay step drops from a ring
// holding n samples: ceil(1% of n), so any non-empty ring loses at least one.
func decayCount(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * decayFraction))
}
