// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveKepler(t *testing.T) {
	for _, ecc := range []float64{0, 0.001, 0.01, 0.05, 0.09, 0.0999} {
		for mk := -PI; mk <= PI; mk += PI / 16 {
			ek, iter, err := SolveKepler(mk, ecc)
			require.NoError(t, err, "e=%f M=%f", ecc, mk)
			assert.LessOrEqual(t, iter, KEPLER_MAX_ITER)
			assert.InDelta(t, mk, ek-ecc*math.Sin(ek), 1e-8, "e=%f M=%f", ecc, mk)
		}
	}
}

func TestSolveKeplerNonConvergence(t *testing.T) {
	_, iter, err := SolveKepler(0.1, 0.95)
	require.Error(t, err)
	assert.Equal(t, KEPLER_MAX_ITER, iter)
	assert.True(t, errors.Is(err, ErrNonConvergence))

	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, "kepler", nc.Stage)
}

func TestSatPosCircularOrbit(t *testing.T) {
	// Circular equatorial orbit with the node at the x axis at Toe
	toe := GTime{Week: 2297, Sec: 0}
	e := &Ephe{Sat: "G01", Toe: toe, Toc: toe, SqrtA: 5153.6, Af0: 1e-4, Af1: 1e-11}

	st, err := SatPos(e, toe)
	require.NoError(t, err)
	a := e.SqrtA * e.SqrtA
	assert.InDelta(t, a, st.Pos.X, 1e-6)
	assert.InDelta(t, 0, st.Pos.Y, 1e-6)
	assert.InDelta(t, 0, st.Pos.Z, 1e-6)
	assert.InDelta(t, 1e-4, st.ClkBias, 1e-15)
	assert.InDelta(t, 0, st.RelCorr, 1e-20)

	// A quarter of the inertial period later the satellite is at 90 deg in inertial
	// space, which the earth-fixed frame sees rotated back by the earth rotation
	n := math.Sqrt(MuGPS / (a * a * a))
	dt := PI / 2 / n
	st, err = SatPos(e, toe.Add(dt))
	require.NoError(t, err)
	assert.InDelta(t, a*math.Cos(PI/2-OmgE*dt), st.Pos.X, 1e-3)
	assert.InDelta(t, a*math.Sin(PI/2-OmgE*dt), st.Pos.Y, 1e-3)
	assert.InDelta(t, 1e-4+1e-11*dt, st.ClkBias, 1e-15)
}

func TestSatPosEccentricOrbit(t *testing.T) {
	e := testEphe(1)
	a := e.SqrtA * e.SqrtA
	for _, dt := range []float64{-7200, -3600, 0, 1800, 7200} {
		st, err := SatPos(e, testToe.Add(dt))
		require.NoError(t, err)

		r := st.Pos.Norm()
		assert.GreaterOrEqual(t, r, a*(1-e.Ecc)-1e-3)
		assert.LessOrEqual(t, r, a*(1+e.Ecc)+1e-3)

		// Relativistic term follows the eccentric anomaly
		assert.InDelta(t, RelF*e.Ecc*e.SqrtA*math.Sin(st.Ek), st.RelCorr, 1e-18)
		assert.Less(t, math.Abs(st.RelCorr), 3e-8)
	}
}

func TestSatPosWeekCrossover(t *testing.T) {
	// Toe at the end of a week, transmit time early in the next one
	e := testEphe(0)
	e.Toe = GTime{Week: 2296, Sec: WeekSec - 600}
	e.Toc = e.Toe
	a, err := SatPos(e, GTime{Week: 2297, Sec: 600})
	require.NoError(t, err)

	// Time of week alone, tagged with the week of Toe
	b, err := SatPos(e, GTime{Week: 2296, Sec: 600})
	require.NoError(t, err)
	assert.InDelta(t, b.Pos.X, a.Pos.X, 1e-6)
	assert.InDelta(t, b.Pos.Y, a.Pos.Y, 1e-6)
	assert.InDelta(t, b.Pos.Z, a.Pos.Z, 1e-6)
	assert.InDelta(t, b.ClkBias, a.ClkBias, 1e-15)
}

func TestRotateEarth(t *testing.T) {
	pos := PosXYZ{X: 2.0e7, Y: 1.0e7, Z: 5.0e6}
	rot := RotateEarth(pos, 0.075)
	assert.InDelta(t, pos.Norm(), rot.Norm(), 1e-6)
	assert.Equal(t, pos.Z, rot.Z)
	// About 120 m at this radius
	assert.InDelta(t, 122, EucDist(&pos, &rot), 10)
}

func TestSatPosBatch(t *testing.T) {
	jobs := make([]SatJob, len(testOrbits))
	for i := range jobs {
		jobs[i] = SatJob{Ephe: testEphe(i), Tx: testToe.Add(float64(i))}
	}
	states, err := SatPosBatch(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, states, len(jobs))
	for i, job := range jobs {
		want, err := SatPos(job.Ephe, job.Tx)
		require.NoError(t, err)
		assert.Equal(t, want, states[i])
		assert.Equal(t, job.Ephe.Sat, states[i].Sat)
	}
}

func TestSatPosBatchFailure(t *testing.T) {
	bad := testEphe(2)
	bad.Ecc = 0.95
	bad.M0 = 0.1
	jobs := []SatJob{
		{Ephe: testEphe(0), Tx: testToe},
		{Ephe: bad, Tx: testToe},
	}
	_, err := SatPosBatch(context.Background(), jobs)
	require.Error(t, err)

	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, SatType("G03"), nc.Sat)
}

func TestSatPosBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SatPosBatch(ctx, []SatJob{{Ephe: testEphe(0), Tx: testToe}})
	assert.ErrorIs(t, err, context.Canceled)
}
