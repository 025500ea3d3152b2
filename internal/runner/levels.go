package runner

import "math/bits"

// MaxLevels bounds how many rate levels a single sweep may test.
const MaxLevels = 100

// Levels expands (start, end, multiplier, step) into the ordered list of target rates.
//
// Starting from start, each following value is value×multiplier (when multiplier != 1)
// plus step, until the value exceeds end. More than MaxLevels values is an error.
func Levels(start, end, multiplier, step uint64) ([]uint64, error) {
	if start == 0 || end == 0 || multiplier == 0 {
		return nil, ErrInvalidLevels
	}

	var levels []uint64
	value := start
	for value <= end {
		levels = append(levels, value)
		if len(levels) > MaxLevels {
			return nil, ErrTooManyLevels
		}

		next, ok := nextLevel(value, multiplier, step)
		if !ok {
			// Overflowed uint64, so necessarily above end.
			break
		}
		value = next
	}
	return levels, nil
}

func nextLevel(value, multiplier, step uint64) (uint64, bool) {
	if multiplier != 1 {
		hi, lo := bits.Mul64(value, multiplier)
		if hi != 0 {
			return 0, false
		}
		value = lo
	}
	sum, carry := bits.Add64(value, step, 0)
	if carry != 0 {
		return 0, false
	}
	return sum, true
}
