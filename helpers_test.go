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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference epoch of the synthetic constellation (2024/01/15 02:00:00 GPST)
var testToe = GTime{Week: 2297, Sec: 93600}

// Orbital planes and phases of the synthetic satellites G01..G06
var testOrbits = []struct{ omega0, m0 float64 }{
	{0.0, 0.0},
	{0.5, 0.3},
	{-0.5, 0.2},
	{0.2, -0.5},
	{-0.3, -0.4},
	{0.1, 0.6},
}

func testEphe(i int) *Ephe {
	o := testOrbits[i]
	return &Ephe{
		Sat:    SatType(fmt.Sprintf("G%02d", i+1)),
		Toc:    testToe,
		Toe:    testToe,
		Tot:    testToe.Add(-18),
		Week:   testToe.Week,
		SqrtA:  5153.6,
		Ecc:    0.01,
		I0:     0.96,
		Omega:  0.5,
		Omega0: o.omega0,
		M0:     o.m0,
		Af0:    1e-5 * float64(i+1),
		Af1:    1e-12,
		Fit:    4,
	}
}

// Synthetic constellation and a receiver on the sphere below the centroid of the satellites
func testConstellation(t *testing.T) (*Nav, PosXYZ) {
	t.Helper()
	nav := Nav{}
	var u PosXYZ
	for i := range testOrbits {
		e := testEphe(i)
		nav[e.Sat] = []*Ephe{e}
		st, err := SatPos(e, testToe)
		require.NoError(t, err)
		n := st.Pos.Norm()
		u.X += st.Pos.X / n
		u.Y += st.Pos.Y / n
		u.Z += st.Pos.Z / n
	}
	n := u.Norm()
	rcv := PosXYZ{X: 6371000 * u.X / n, Y: 6371000 * u.Y / n, Z: 6371000 * u.Z / n}
	return &nav, rcv
}

// Error-free observations of a receiver at rcv with clock bias b [m], received at rx
func testObs(t *testing.T, nav *Nav, sats []SatType, epoch int, rx GTime, rcv PosXYZ, b float64) []PsrObs {
	t.Helper()
	obs := make([]PsrObs, 0, len(sats))
	for _, sat := range sats {
		eph := (*nav)[sat][0]
		tau := 0.07
		for k := 0; k < 5; k++ {
			st, err := SatPos(eph, rx.Add(-tau))
			require.NoError(t, err)
			tau = (EucDist(&st.Pos, &rcv) + b - C*st.ClkBias) / C
		}
		obs = append(obs, PsrObs{
			Sat:      sat,
			Epoch:    epoch,
			RxTime:   rx,
			TxTime:   rx.Add(-tau),
			PrSec:    tau,
			PrM:      tau * C,
			PrSigmaM: 3,
			Cn0DbHz:  40,
		})
	}
	return obs
}

func testSats(n int) []SatType {
	sats := make([]SatType, n)
	for i := range sats {
		sats[i] = SatType(fmt.Sprintf("G%02d", i+1))
	}
	return sats
}

var errSourceDown = errors.New("source down")

// EphemerisSource backed by a Nav that counts calls and can fail transiently
type fakeSource struct {
	mu    sync.Mutex
	nav   Nav
	fails int // Calls to fail before answering
	calls int
}

func (f *fakeSource) Lookup(ctx context.Context, t GTime, sats []SatType) (map[SatType]*Ephe, error) {
	f.mu.Lock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errSourceDown
	}
	f.mu.Unlock()
	return f.nav.Lookup(ctx, t, sats)
}

func (f *fakeSource) numCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
