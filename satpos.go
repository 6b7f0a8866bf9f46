// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

const (
	KEPLER_MAX_ITER = 10   // Maximum number of Kepler iterations
	KEPLER_TOL      = 1e-8 // Convergence threshold of eccentric anomaly [rad]
)

// Satellite position and clock at one transmit time
type SatState struct {
	Sat     SatType
	Pos     PosXYZ  // ECEF position [m]
	ClkBias float64 // Satellite clock bias including relativistic correction [s]
	RelCorr float64 // Relativistic correction [s]
	Ek      float64 // Eccentric anomaly [rad]
	Iter    int     // Kepler iterations used
}

// Solve Kepler's equation E = M + e sin(E) by fixed-point iteration starting at E = M
func SolveKepler(mk, ecc float64) (ek float64, iter int, err error) {
	ek = mk
	for iter = 1; iter <= KEPLER_MAX_ITER; iter++ {
		e1 := mk + ecc*math.Sin(ek)
		d := math.Abs(e1 - ek)
		ek = e1
		if d < KEPLER_TOL {
			return ek, iter, nil
		}
	}
	return ek, KEPLER_MAX_ITER, &NonConvergenceError{Stage: "kepler", Iter: KEPLER_MAX_ITER}
}

// Calculate satellite position and clock bias at signal transmit time
func SatPos(e *Ephe, tx GTime) (st SatState, err error) {
	st.Sat = e.Sat

	// Time from ephemeris reference epoch
	tk := WrapWeekSec(tx.Sub(e.Toe))

	// Mean motion and mean anomaly
	a := e.SqrtA * e.SqrtA
	n := math.Sqrt(MuGPS/(a*a*a)) + e.DeltaN
	mk := e.M0 + n*tk

	// Eccentric anomaly
	ek, iter, err := SolveKepler(mk, e.Ecc)
	if err != nil {
		if nc, ok := err.(*NonConvergenceError); ok {
			nc.Sat = e.Sat
		}
		return st, err
	}
	st.Ek = ek
	st.Iter = iter

	// Clock bias: polynomial + relativistic correction
	sinE := math.Sin(ek)
	cosE := math.Cos(ek)
	st.RelCorr = RelF * e.Ecc * e.SqrtA * sinE
	dt := WrapWeekSec(tx.Sub(e.Toc))
	st.ClkBias = e.Af0 + e.Af1*dt + e.Af2*dt*dt + st.RelCorr

	// True anomaly and argument of latitude
	vk := math.Atan2(math.Sqrt(1-e.Ecc*e.Ecc)*sinE, cosE-e.Ecc)
	pk := vk + e.Omega

	// Second harmonic corrections
	sin2p := math.Sin(2 * pk)
	cos2p := math.Cos(2 * pk)
	d_uk := e.Cus*sin2p + e.Cuc*cos2p
	d_rk := e.Crs*sin2p + e.Crc*cos2p
	d_ik := e.Cis*sin2p + e.Cic*cos2p

	uk := pk + d_uk
	rk := a*(1-e.Ecc*cosE) + d_rk
	ik := e.I0 + d_ik + e.Idot*tk

	// Position in orbital plane
	xk := rk * math.Cos(uk)
	yk := rk * math.Sin(uk)

	// Corrected longitude of ascending node
	omk := e.Omega0 + (e.OmegaD-OmgE)*tk - OmgE*e.Toe.Sec

	st.Pos.X = xk*math.Cos(omk) - yk*math.Sin(omk)*math.Cos(ik)
	st.Pos.Y = xk*math.Sin(omk) + yk*math.Cos(omk)*math.Cos(ik)
	st.Pos.Z = yk * math.Sin(ik)
	return st, nil
}

// Rotate a satellite position by the earth rotation during signal flight (Sagnac effect)
func RotateEarth(pos PosXYZ, flight float64) PosXYZ {
	omk := OmgE * flight
	return PosXYZ{
		X: pos.X*math.Cos(omk) + pos.Y*math.Sin(omk),
		Y: -pos.X*math.Sin(omk) + pos.Y*math.Cos(omk),
		Z: pos.Z,
	}
}

// One satellite to propagate
type SatJob struct {
	Ephe *Ephe
	Tx   GTime
}

// SatPosBatch propagates all satellites of an epoch concurrently.
// Results are in job order; the first failure cancels the batch.
func SatPosBatch(ctx context.Context, jobs []SatJob) ([]SatState, error) {
	out := make([]SatState, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := SatPos(job.Ephe, job.Tx)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
