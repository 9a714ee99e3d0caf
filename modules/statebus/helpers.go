package statebus

// FaultRate returns the share of listener calls that panicked (0.0 to 1.0).
// Returns 0.0 if nothing was delivered yet.
func FaultRate(stats Stats) float64 {
	total := stats.Delivered + stats.Faults
	if total == 0 {
		return 0.0
	}
	return float64(stats.Faults) / float64(total)
}
