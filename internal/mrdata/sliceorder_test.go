package mrdata

import (
	"math"
	"testing"
)

func TestSliceOrderFromTriggerTimes(t *testing.T) {
	tests := []struct {
		name         string
		triggerTimes []float64
		reverse      bool
		wantOrder    SliceOrder
		wantDuration float64
	}{
		{
			name:         "monotonic increasing is sequential",
			triggerTimes: []float64{0, 5, 10},
			wantOrder:    SliceOrderSeqInc,
			wantDuration: 0.005,
		},
		{
			name:         "interleaved increasing",
			triggerTimes: []float64{0, 10, 5},
			wantOrder:    SliceOrderAltInc,
			wantDuration: 0.005,
		},
		{
			name:         "monotonic decreasing is sequential",
			triggerTimes: []float64{10, 5, 0},
			wantOrder:    SliceOrderSeqDec,
			wantDuration: 0.005,
		},
		{
			name:         "interleaved decreasing",
			triggerTimes: []float64{10, 0, 5},
			wantOrder:    SliceOrderAltDec,
			wantDuration: 0.005,
		},
		{
			name:         "reversed storage flips the reading order",
			triggerTimes: []float64{10, 5, 0},
			reverse:      true,
			wantOrder:    SliceOrderSeqInc,
			wantDuration: 0.005,
		},
		{
			name:         "two slices default to sequential increasing",
			triggerTimes: []float64{42, 0},
			wantOrder:    SliceOrderSeqInc,
			wantDuration: 42,
		},
		{
			name:      "no trigger times",
			wantOrder: SliceOrderUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, duration := SliceOrderFromTriggerTimes(tt.triggerTimes, tt.reverse)
			if order != tt.wantOrder {
				t.Errorf("order = %v, want %v", order, tt.wantOrder)
			}
			if math.Abs(duration-tt.wantDuration) > 1e-9 {
				t.Errorf("duration = %v, want %v", duration, tt.wantDuration)
			}
		})
	}
}

func TestSliceOrderString(t *testing.T) {
	if got := SliceOrderAltInc.String(); got != "alternating increasing" {
		t.Errorf("String() = %q", got)
	}
	if got := SliceOrder(99).String(); got != "unknown" {
		t.Errorf("String() = %q for out-of-range code", got)
	}
}
