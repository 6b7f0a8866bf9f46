// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGpsNanos(t *testing.T) {
	tests := []struct {
		name     string
		timeNs   int64
		fullBias int64
		bias     float64
		wantNs   int64
		wantFrac float64
	}{
		{"no bias", 1000, -500, 0, 1500, 0},
		{"positive bias", 1000, -500, 0.25, 1499, 0.75},
		{"negative bias", 1000, -500, -0.25, 1500, 0.25},
		{"whole nanoseconds", 1000, -500, 3, 1497, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, frac := GpsNanos(tt.timeNs, tt.fullBias, tt.bias)
			assert.Equal(t, tt.wantNs, ns)
			assert.InDelta(t, tt.wantFrac, frac, 1e-12)
		})
	}
}

func TestNewGTimeFromNanos(t *testing.T) {
	gt := NewGTimeFromNanos(2297*WeekNanos+93600_000_000_000, 0.5)
	assert.Equal(t, 2297, gt.Week)
	assert.InDelta(t, 93600.0000000005, gt.Sec, 1e-9)

	// Same instant as the calendar conversion
	ref := NewGTime(time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, ref.Week, gt.Week)
	assert.InDelta(t, ref.Sec, gt.Sec, 1e-6)

	// Before the GPS epoch
	gt = NewGTimeFromNanos(-1_000_000_000, 0)
	assert.Equal(t, -1, gt.Week)
	assert.InDelta(t, WeekSec-1, gt.Sec, 1e-9)
}

func TestGTimeWeekRollover(t *testing.T) {
	// Two samples 0.4 s apart around the end of week 2296
	end := NewGTimeFromNanos(2297*WeekNanos-200_000_000, 0)
	start := NewGTimeFromNanos(2297*WeekNanos+200_000_000, 0)
	assert.Equal(t, 2296, end.Week)
	assert.Equal(t, 2297, start.Week)
	assert.InDelta(t, 0.4, start.Sub(end), 1e-9)
	assert.InDelta(t, -0.4, end.Sub(start), 1e-9)
}

func TestGTimeAdd(t *testing.T) {
	gt := GTime{Week: 2297, Sec: 0.05}.Add(-0.1)
	assert.Equal(t, 2296, gt.Week)
	assert.InDelta(t, WeekSec-0.05, gt.Sec, 1e-9)

	gt = GTime{Week: 2296, Sec: WeekSec - 1}.Add(3)
	assert.Equal(t, 2297, gt.Week)
	assert.InDelta(t, 2, gt.Sec, 1e-9)
}

func TestWrapWeekSec(t *testing.T) {
	assert.Equal(t, 10.0, WrapWeekSec(10))
	assert.Equal(t, -10.0, WrapWeekSec(-10))
	// Received early in a week, transmitted late in the previous one
	assert.InDelta(t, 0.07, WrapWeekSec(0.03-(WeekSec-0.04)), 1e-9)
	assert.InDelta(t, -0.07, WrapWeekSec(WeekSec-0.07), 1e-9)
}
