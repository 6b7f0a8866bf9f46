// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import "time"

// Gap between consecutive samples that starts a new epoch
const EpochGap = 200 * time.Millisecond

// Raw measurement tagged with its epoch index and GPS receive time
type EpochMeas struct {
	Epoch int
	Time  GTime
	Meas  RawMeasurement
}

// SegmentEpochs assigns epoch indices to chronologically ordered measurements.
// The first sample is epoch 0, and the index increases by one whenever the
// receive time advances more than EpochGap from the previous sample.
func SegmentEpochs(meas []RawMeasurement) []EpochMeas {
	out := make([]EpochMeas, len(meas))
	epoch := 0
	var prev int64
	for i, m := range meas {
		ns, frac := GpsNanos(m.TimeNanos, m.FullBiasNanos, m.BiasNanos.OrZero())
		if i > 0 && ns-prev > int64(EpochGap) {
			epoch += 1
		}
		prev = ns
		out[i] = EpochMeas{
			Epoch: epoch,
			Time:  NewGTimeFromNanos(ns, frac),
			Meas:  m,
		}
	}
	return out
}
