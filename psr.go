// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import "math"

// Pseudorange observation derived from one raw measurement
type PsrObs struct {
	Sat      SatType
	Epoch    int
	RxTime   GTime   // Receive time (GPS week and seconds of week)
	TxTime   GTime   // Transmit time in the satellite time scale
	PrSec    float64 // Pseudorange [s]
	PrM      float64 // Pseudorange [m]
	PrSigmaM float64 // Pseudorange standard deviation [m]
	Cn0DbHz  float64 // Signal strength [dB-Hz]
}

// PsrOpt controls pseudorange extraction
type PsrOpt struct {
	MaxPrSec float64 // Pseudoranges at or above this value [s] are discarded
	CnMask   float64 // Signal strength mask [dB-Hz]. 0 means no mask
}

// NewPsrOpt creates a new PsrOpt with default values
func NewPsrOpt() *PsrOpt {
	return &PsrOpt{
		MaxPrSec: 0.1, // Sanity bound only, about 30,000 km of transit
		CnMask:   0,   // No mask
	}
}

// ExtractPseudoranges computes pseudoranges for segmented measurements.
//
// The receive time of every sample uses the clock bias of the first sample as the
// anchor, so bias updates in the log do not shift samples against each other.
// Observations with an implausible transit time or a weak signal are dropped silently.
// Of the remaining ones, only the first observation of a satellite in an epoch is kept.
func ExtractPseudoranges(meas []EpochMeas, opt *PsrOpt) []PsrObs {
	if len(meas) == 0 {
		return nil
	}
	if opt == nil {
		opt = NewPsrOpt()
	}

	// Anchor: FullBiasNanos + BiasNanos of the first sample
	m0 := meas[0].Meas
	anchor, anchorFrac := GpsNanos(0, -m0.FullBiasNanos, -m0.BiasNanos.OrZero())
	// anchor + anchorFrac*1e-9 == FullBiasNanos + BiasNanos

	type key struct {
		epoch int
		sat   SatType
	}
	seen := map[key]bool{}

	out := make([]PsrObs, 0, len(meas))
	nDrop := 0
	for _, em := range meas {
		m := &em.Meas
		k := key{em.Epoch, m.Sat}
		if seen[k] {
			PrintD(3, "\t%s: duplicate in epoch %d\n", m.Sat, em.Epoch)
			continue
		}

		// Receive time in the GPS week of this sample
		offs := m.TimeOffsetNanos.OrZero()
		offsI := math.Floor(offs)
		rxNs := m.TimeNanos + int64(offsI) - anchor
		rxFrac := (offs - offsI) - anchorFrac
		if rxFrac < 0 {
			rxNs -= 1
			rxFrac += 1
		}
		rx := NewGTimeFromNanos(rxNs, rxFrac)

		// Transmit time of week
		txSec := (float64(m.ReceivedSvTimeNanos) + offs) * 1e-9
		tx := GTime{Week: rx.Week, Sec: txSec}

		prSec := WrapWeekSec(rx.Sec - txSec)
		if rx.Sec-txSec < -WeekSec/2 {
			tx.Week -= 1 // Transmitted in the previous week
		} else if rx.Sec-txSec > WeekSec/2 {
			tx.Week += 1
		}

		if prSec >= opt.MaxPrSec {
			PrintD(3, "\t%s: pseudorange %.6f s >= %.3f s, epoch %d\n", m.Sat, prSec, opt.MaxPrSec, em.Epoch)
			nDrop++
			continue
		}
		if opt.CnMask > 0 && m.Cn0DbHz < opt.CnMask {
			PrintD(3, "\t%s: C/N Mask (c/n=%f < %f)\n", m.Sat, m.Cn0DbHz, opt.CnMask)
			nDrop++
			continue
		}

		seen[k] = true
		out = append(out, PsrObs{
			Sat:      m.Sat,
			Epoch:    em.Epoch,
			RxTime:   rx,
			TxTime:   tx,
			PrSec:    prSec,
			PrM:      prSec * C,
			PrSigmaM: C * 1e-9 * float64(m.ReceivedSvTimeUncertaintyNanos),
			Cn0DbHz:  m.Cn0DbHz,
		})
	}
	PrintD(2, "\tpseudoranges: %d / %d (dropped %d)\n", len(out), len(meas), nDrop)
	return out
}
