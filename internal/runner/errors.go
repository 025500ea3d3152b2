package runner

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyWorkerSet       = errors.New("at least one worker is required")
	ErrInvalidInterval      = errors.New("interval must be > 0")
	ErrInvalidTimeout       = errors.New("timeout must be > 0")
	ErrInvalidDuration      = errors.New("test duration must be > 0")
	ErrInvalidLevels        = errors.New("start, end and multiplier must be >= 1")
	ErrTooManyLevels        = errors.New("selected parameters would result in too many throughput levels being tested")
	ErrRequestCountTooLarge = errors.New("estimated request count is too large")
	ErrWriteReport          = errors.New("failed to write report")
)

// SaturationError reports a level where the generator could not keep pace with its own
// target rate.
type SaturationError struct {
	Target   uint64
	Achieved float64
	Percent  float64
}

func (e *SaturationError) Error() string {
	return fmt.Sprintf(
		"could not reach target throughput %d req/s, actual throughput %.1f req/s (%.1f%% of target). This indicates that the LOAD TESTER was saturated",
		e.Target, e.Achieved, e.Percent,
	)
}
