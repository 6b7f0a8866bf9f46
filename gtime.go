// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"math"
	"time"
)

// GPS time starts from 1980/1/6 00:00:00
var GpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

type GTime struct {
	Week int
	Sec  float64
}

func NewGTime(dt time.Time) *GTime {
	t := dt.Unix()
	t -= GpsEpoch.Unix() // Elapsed seconds since 1980/1/6 00:00:00
	return &GTime{
		Week: int(t / (3600 * 24 * 7)),
		Sec:  float64(t%(3600*24*7)) + float64(dt.Nanosecond())/1000000000,
	}
}

// NewGTimeFromNanos converts nanoseconds since the GPS epoch into week and seconds of week.
// frac is a sub-nanosecond remainder in [0, 1) added to ns.
// The week is derived from each value on its own, so a rollover inside a log is handled per sample.
func NewGTimeFromNanos(ns int64, frac float64) GTime {
	week := ns / WeekNanos
	rem := ns % WeekNanos
	if rem < 0 {
		week -= 1
		rem += WeekNanos
	}
	return GTime{
		Week: int(week),
		Sec:  float64(rem)*1e-9 + frac*1e-9,
	}
}

// GpsNanos returns GPS time of the receiver clock as TimeNanos - (FullBiasNanos + BiasNanos).
// The integer part is computed without floating point; the sub-nanosecond part of
// BiasNanos is returned separately as frac in [0, 1).
func GpsNanos(timeNanos, fullBiasNanos int64, biasNanos float64) (ns int64, frac float64) {
	ns = timeNanos - fullBiasNanos
	bi := math.Floor(biasNanos)
	r := biasNanos - bi
	ns -= int64(bi)
	if r > 0 {
		ns -= 1
		frac = 1 - r
	}
	return ns, frac
}

func (p *GTime) ToTime() time.Time {
	o := GpsEpoch.Unix()
	i := int64(math.Trunc(p.Sec))
	t := int64(3600*24*7*p.Week) + i + o
	n := int64((p.Sec - float64(i)) * 1e9)
	return time.Unix(t, n) // Unix time is the elapsed seconds since 1970/1/1 00:00:00
}

// Sub returns p - b in seconds
func (p GTime) Sub(b GTime) float64 {
	return float64(p.Week-b.Week)*WeekSec + (p.Sec - b.Sec)
}

// Add returns p + sec, normalized into [0, WeekSec)
func (p GTime) Add(sec float64) GTime {
	t := GTime{Week: p.Week, Sec: p.Sec + sec}
	for t.Sec < 0 {
		t.Sec += WeekSec
		t.Week -= 1
	}
	for t.Sec >= WeekSec {
		t.Sec -= WeekSec
		t.Week += 1
	}
	return t
}

// WrapWeekSec folds a time difference into [-302400, 302400] to absorb week crossover
func WrapWeekSec(dt float64) float64 {
	if dt > WeekSec/2 {
		return dt - WeekSec
	} else if dt < -WeekSec/2 {
		return dt + WeekSec
	}
	return dt
}

func (p *GTime) Less(b GTime, roundSec bool) bool {
	if p.Week == b.Week {
		if roundSec {
			return math.Round(p.Sec) < math.Round(b.Sec)
		} else {
			return p.Sec < b.Sec
		}
	} else {
		return p.Week < b.Week
	}
}

func (p *GTime) Before(t time.Time, roundSec bool) bool {
	return p.Less(*NewGTime(t), roundSec)
}

func (p *GTime) After(t time.Time, roundSec bool) bool {
	return NewGTime(t).Less(*p, roundSec)
}

func (p *GTime) Divisible(sec int) bool {
	return int(math.Round(p.Sec))%sec == 0
}
