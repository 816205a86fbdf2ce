package mrdata

import "math"

// SliceOrder is a NIFTI1-style slice acquisition order code.
type SliceOrder int

const (
	SliceOrderUnknown SliceOrder = iota
	SliceOrderSeqInc
	SliceOrderSeqDec
	SliceOrderAltInc
	SliceOrderAltDec
	// SliceOrderAltInc2 is interleaved, increasing, starting at the second slice.
	SliceOrderAltInc2
	// SliceOrderAltDec2 is interleaved, decreasing, starting one before the last slice.
	SliceOrderAltDec2
)

// String returns the string representation of a SliceOrder.
func (s SliceOrder) String() string {
	switch s {
	case SliceOrderSeqInc:
		return "sequential increasing"
	case SliceOrderSeqDec:
		return "sequential decreasing"
	case SliceOrderAltInc:
		return "alternating increasing"
	case SliceOrderAltDec:
		return "alternating decreasing"
	case SliceOrderAltInc2:
		return "alternating increasing from second"
	case SliceOrderAltDec2:
		return "alternating decreasing from penultimate"
	default:
		return "unknown"
	}
}

// SliceOrderFromTriggerTimes derives the slice order and the per-slice
// duration (in seconds) from one volume's trigger times in milliseconds,
// ordered by slice position. When reverse is true the times are read back
// to front, matching a volume whose slices were stored reversed.
//
// The rule compares each trigger time against the first slice's: if the
// second slice fired later than the first the series is increasing, and a
// monotonic third slice means sequential while a non-monotonic one means
// interleaved. Fewer than three slices are always reported sequential
// increasing with the first trigger time as the duration.
func SliceOrderFromTriggerTimes(triggerTimes []float64, reverse bool) (SliceOrder, float64) {
	if len(triggerTimes) == 0 {
		return SliceOrderUnknown, 0
	}
	tt := make([]float64, len(triggerTimes))
	copy(tt, triggerTimes)
	if reverse {
		for i, j := 0, len(tt)-1; i < j; i, j = i+1, j-1 {
			tt[i], tt[j] = tt[j], tt[i]
		}
	}
	if len(tt) <= 2 {
		return SliceOrderSeqInc, tt[0]
	}

	minDelta := math.Inf(1)
	for _, t := range tt[1:] {
		if d := math.Abs(tt[0] - t); d < minDelta {
			minDelta = d
		}
	}
	sliceDuration := minDelta / 1000

	var order SliceOrder
	if tt[0]-tt[1] < 0 {
		if tt[2] > tt[1] {
			order = SliceOrderSeqInc
		} else {
			order = SliceOrderAltInc
		}
	} else {
		if tt[2] > tt[1] {
			order = SliceOrderAltDec
		} else {
			order = SliceOrderSeqDec
		}
	}
	return order, sliceDuration
}
