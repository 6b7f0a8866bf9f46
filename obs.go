// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"
)

// Type representing satellite name like "G10"
type SatType string

// Type representing satellite system like 'G'
type SysType byte

// Android GnssStatus constellation type of GPS.
// Only GPS is processed; other constellations are skipped at ingestion.
const ConstellationGPS = 1

// Build a satellite name from constellation type and svid
func NewSatType(constellation, svid int) (SatType, error) {
	switch constellation {
	case ConstellationGPS:
		return SatType(fmt.Sprintf("G%02d", svid)), nil
	default:
		return "", fmt.Errorf("unsupported constellation type %d", constellation)
	}
}

// Extract satellite system from satellite name
func (p *SatType) Sys() SysType {
	return SysType((*p)[0])
}

// Extract satellite number from satellite name
func (p *SatType) Num() int {
	i, err := strconv.Atoi(string((*p)[1:3]))
	if err != nil {
		return 0
	}
	return i
}

// Optional float value. Absent values resolve to zero.
type OptFloat struct {
	Val   float64
	Valid bool
}

func SomeFloat(v float64) OptFloat {
	return OptFloat{Val: v, Valid: true}
}

// OrZero returns the value, or 0 when it is absent
func (p OptFloat) OrZero() float64 {
	if !p.Valid {
		return 0
	}
	return p.Val
}

// Raw GNSS measurement for one satellite, as logged by Android GnssLogger.
// BiasNanos and TimeOffsetNanos are not reported by all phones; absent means 0.
type RawMeasurement struct {
	Sat                            SatType
	Constellation                  int
	TimeNanos                      int64    // Receiver hardware clock [ns]
	FullBiasNanos                  int64    // Offset of the hardware clock from GPS time [ns]
	BiasNanos                      OptFloat // Sub-nanosecond part of the bias [ns]
	TimeOffsetNanos                OptFloat // Offset of the measurement from TimeNanos [ns]
	ReceivedSvTimeNanos            int64    // Satellite transmit time of week [ns]
	ReceivedSvTimeUncertaintyNanos int64    // 1-sigma uncertainty of the above [ns]
	Cn0DbHz                        float64  // Signal strength [dB-Hz]
	PseudorangeRateMetersPerSecond float64  // Doppler-derived range rate [m/s]
}

// GPS time of the receiver clock for this measurement
func (m *RawMeasurement) GpsTime() GTime {
	return NewGTimeFromNanos(GpsNanos(m.TimeNanos, m.FullBiasNanos, m.BiasNanos.OrZero()))
}

// Return the distinct satellites of a set of observations, sorted by name
func satsOf(obs []PsrObs) []SatType {
	s := make([]SatType, 0, len(obs))
	for _, o := range obs {
		if !slices.Contains(s, o.Sat) {
			s = append(s, o.Sat)
		}
	}
	slices.Sort(s)
	return s
}
