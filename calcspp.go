// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

// Implements single point positioning (SPP) for one epoch of pseudorange observations.

package rawpos

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// CalcEpoch performs single point positioning for one epoch.
//
// Parameters:
//   - epoch: Epoch index
//   - obs: Valid, deduplicated pseudorange observations of this epoch
//   - src: Ephemeris source
//   - opt: SPP calculation options
//
// Returns:
//   - ReceiverSolution: position, clock bias and quality metrics
//   - error: typed failure of this epoch, or a failure of src
func CalcEpoch(
	ctx context.Context,
	epoch int, // Epoch index
	obs []PsrObs, // Observations of this epoch
	src EphemerisSource, // Ephemeris source
	opt *SppOpt, // Calculation options
) (*ReceiverSolution, error) {
	return calcEpoch(ctx, epoch, obs, src, opt, nil)
}

// calcEpoch is CalcEpoch with satellite drops counted in metrics
func calcEpoch(ctx context.Context, epoch int, obs []PsrObs, src EphemerisSource, opt *SppOpt, metrics *Metrics) (*ReceiverSolution, error) {
	if opt == nil {
		opt = NewSppOpt()
	}
	if len(obs) == 0 {
		return nil, &InsufficientSatellitesError{Have: 0, Need: NX}
	}
	rcvt := obs[0].RxTime

	// Select satellites with usable ephemerides
	sel, err := selectValidSatellites(ctx, rcvt, obs, src, opt, metrics)
	if err != nil {
		return nil, err
	}

	// Satellite positions at each transmit time
	jobs := make([]SatJob, len(sel))
	for i, s := range sel {
		jobs[i] = SatJob{Ephe: s.eph, Tx: s.obs.TxTime}
	}
	states, err := SatPosBatch(ctx, jobs)
	if err != nil {
		return nil, err
	}

	// Apply satellite clock correction to pseudoranges
	n := len(sel)
	xs := make([]PosXYZ, n)
	pr := make([]float64, n)
	var w []float64
	if opt.Weighted {
		w = make([]float64, n)
	}
	for i, s := range sel {
		xs[i] = states[i].Pos
		if opt.EarthRotCorr {
			xs[i] = RotateEarth(xs[i], s.obs.PrSec)
		}
		pr[i] = s.obs.PrM + C*states[i].ClkBias
		if w != nil {
			w[i] = 1 / SQ(max(s.obs.PrSigmaM, MIN_SIGMA))
		}
		PrintD(3, "\t%s: x=%16.3f, y=%16.3f, z=%16.3f, psr=%14.3f, sclk*C=%12.3f\n",
			s.obs.Sat, xs[i].X, xs[i].Y, xs[i].Z, s.obs.PrM, states[i].ClkBias*C)
	}

	// Solve with zero position and zero clock bias as initial guess
	ls, err := SolvePos(xs, pr, w, PosXYZ{}, 0, opt.Ls)
	if err != nil {
		return nil, err
	}

	sol := &ReceiverSolution{
		Epoch:    epoch,
		Time:     rcvt,
		Pos:      ls.Pos,
		ClkBiasM: ls.ClkBias,
		ResNorm:  ls.ResNorm,
		NumSats:  n,
		Iter:     ls.Iter,
		Dop:      ls.Dop,
		Sats:     make([]SatType, n),
		Res:      make(map[SatType]float64, n),
		SatPos:   make(map[SatType]PosXYZ, n),
	}
	llh := ls.Pos.ToLLH()
	sol.LLH = llh.Deg()
	for i, s := range sel {
		sol.Sats[i] = s.obs.Sat
		sol.Res[s.obs.Sat] = ls.Res[i]
		sol.SatPos[s.obs.Sat] = xs[i]
		if DBG_ >= 3 {
			enu := xs[i].ToENU(sol.Pos)
			PrintA("\t%s: az=%6.1f, el=%5.1f, res=%8.3f\n", s.obs.Sat, ToDeg(enu.Azimuth()), ToDeg(enu.Elevation()), ls.Res[i])
		}
	}

	// Reject solutions with poor geometry
	if opt.MaxDop > 0 && sol.Dop["gdop"] > opt.MaxDop {
		return nil, &NumericDegeneracyError{Err: fmt.Errorf("GDOP exceeded threshold, GDOP=%.3f > %f", sol.Dop["gdop"], opt.MaxDop)}
	}
	return sol, nil
}

// Minimum pseudorange standard deviation used for weighting [m]
const MIN_SIGMA = 0.1

// SppOpt contains options for single point positioning of one epoch
type SppOpt struct {
	ExSats       []SatType // Satellites to exclude from calculation
	Weighted     bool      // Weight observations by 1/PrSigmaM^2
	EarthRotCorr bool      // Rotate satellite positions by the earth rotation during signal flight
	MaxDop       float64   // Maximum allowed GDOP. 0 means no check
	Ls           *LsOpt    // Least squares options
}

// NewSppOpt creates a new SppOpt with default values
func NewSppOpt() *SppOpt {
	return &SppOpt{
		ExSats:       []SatType{}, // No excluded satellites
		Weighted:     false,       // Ordinary least squares
		EarthRotCorr: false,       // Satellite positions at transmit time as computed
		MaxDop:       0,           // No GDOP check
		Ls:           NewLsOpt(),
	}
}

// ReceiverSolution is the positioning result of one epoch
type ReceiverSolution struct {
	Epoch    int                // Epoch index
	Time     GTime              // Receive time of the epoch
	Pos      PosXYZ             // Receiver ECEF position [m]
	LLH      PosLLH             // Receiver geodetic position [deg, deg, m]
	ClkBiasM float64            // Receiver clock bias [m]
	ResNorm  float64            // Norm of final pseudorange residuals [m]
	NumSats  int                // Number of satellites used
	Sats     []SatType          // Satellites used
	Iter     int                // Least squares iterations
	Dop      map[string]float64 // 'gdop', 'pdop', 'hdop', 'vdop'
	Res      map[SatType]float64
	SatPos   map[SatType]PosXYZ
}

// Receiver clock bias [s]
func (s *ReceiverSolution) ClkBiasSec() float64 {
	return s.ClkBiasM / C
}

// Observation paired with its ephemeris
type satSel struct {
	obs PsrObs
	eph *Ephe
}

// selectValidSatellites resolves ephemerides and removes satellites that cannot be used
func selectValidSatellites(ctx context.Context, rcvt GTime, obs []PsrObs, src EphemerisSource, opt *SppOpt, metrics *Metrics) ([]satSel, error) {

	// Satellites to request
	sats := make([]SatType, 0, len(obs))
	for _, sat := range satsOf(obs) {
		// Skip if satellite in exclusion list
		if opt.ExSats != nil && slices.Contains(opt.ExSats, sat) {
			PrintD(3, "\t%s: Exclude satellite\n", sat)
			continue
		}
		sats = append(sats, sat)
	}

	ephs, err := src.Lookup(ctx, rcvt, sats)
	var unavail *EphemerisUnavailableError
	if errors.As(err, &unavail) {
		PrintD(2, "\t%s\n", unavail.Error())
	} else if err != nil {
		return nil, fmt.Errorf("ephemeris lookup failed: %w", err)
	}

	nEph, nSvh := 0, 0
	sel := make([]satSel, 0, len(sats))
	for _, o := range obs {
		if !slices.Contains(sats, o.Sat) {
			continue
		}
		eph, ok := ephs[o.Sat]
		if !ok || eph == nil {
			PrintD(3, "\t%s: No ephemeris\n", o.Sat)
			nEph++
			continue
		}
		// Skip if satellite not healthy
		if eph.Svh != 0 {
			PrintD(3, "\t%s: Not healthy\n", o.Sat)
			nSvh++
			continue
		}
		if DBG_ >= 4 {
			PrintA("%s", eph)
		}
		sel = append(sel, satSel{obs: o, eph: eph})
	}

	metrics.satDropped("no_ephemeris", nEph)
	metrics.satDropped("unhealthy", nSvh)
	PrintD(2, "\tsat: %d / %d\n", len(sel), len(obs))

	if len(sel) < NX {
		return nil, &InsufficientSatellitesError{Have: len(sel), Need: NX}
	}
	return sel, nil
}
