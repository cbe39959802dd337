package collector

import "time"

// Thresholds bound how long a source may take.
type Thresholds struct {
	// Slow marks successful jobs that took longer than this as slow.
	Slow time.Duration
	// Timeout is the hard per-source budget.
	Timeout time.Duration
}

// DefaultThresholds returns the stock 8s slow / 15s hard budget.
func DefaultThresholds() Thresholds {
	return Thresholds{Slow: 8 * time.Second, Timeout: 15 * time.Second}
}

// Classify derives the verdict for one job. It depends only on its inputs.
func Classify(itemCount int, elapsed time.Duration, err error, th Thresholds) CollectionStatus {
	if err != nil || itemCount <= 0 {
		return StatusFailed
	}
	if th.Timeout > 0 && elapsed >= th.Timeout {
		return StatusFailed
	}
	if th.Slow > 0 && elapsed > th.Slow {
		return StatusSlow
	}
	return StatusSuccess
}
