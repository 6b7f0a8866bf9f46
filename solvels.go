// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solve the observation equation using weighted least squares
// - dx = (G^t W G)^-1 G^t W dr
// - Return the error covariance matrix (G^t W G)^-1 as cov
func SolveLS(G mat.Matrix, dr mat.Vector, W mat.Matrix) (dx mat.Vector, cov mat.Matrix, err error) {

	n1, m1 := G.Dims()
	n2, m2 := W.Dims()
	if n1 != n2 {
		return nil, nil, fmt.Errorf("invalid matrix size. G^T(%d x %d), W(%d x %d)", m1, n1, n2, m2)
	}
	l1 := dr.Len()
	if l1 != m2 {
		return nil, nil, fmt.Errorf("invalid matrix size. W(%d x %d), dr(%d x 1)", n2, m2, l1)
	}

	// A (G^t W G)
	var WG mat.Dense
	WG.Mul(W, G)
	var A mat.Dense
	A.Mul(G.T(), &WG)

	// b (G^t W dr)
	var GtW mat.Dense
	GtW.Mul(G.T(), W)
	var b mat.VecDense
	b.MulVec(&GtW, dr)

	// Solve for x (x = A^-1 b). A near singular A is reported as an error too.
	var x mat.VecDense
	err = x.SolveVec(&A, &b)
	if err != nil {
		return nil, nil, &NumericDegeneracyError{Err: err}
	}
	dx = &x

	// Set (G^T W G)^-1 as the covariance matrix
	var c mat.Dense
	err = c.Inverse(&A)
	if err != nil {
		return nil, nil, &NumericDegeneracyError{Err: err}
	}
	cov = &c

	return
}

// LsOpt controls the Gauss-Newton position solver
type LsOpt struct {
	MaxIter   int     // Maximum number of iterations
	ConvThres float64 // Convergence threshold of the position update [m]
}

// NewLsOpt creates a new LsOpt with default values
func NewLsOpt() *LsOpt {
	return &LsOpt{
		MaxIter:   20,
		ConvThres: 1e-3,
	}
}

// Result of SolvePos
type LsSol struct {
	Pos     PosXYZ             // Receiver position
	ClkBias float64            // Receiver clock bias [m]
	Res     []float64          // Pseudorange residuals of the last iteration [m]
	ResNorm float64            // Norm of Res [m]
	Iter    int                // Iterations used
	Cov     mat.Matrix         // (G^T W G)^-1
	Dop     map[string]float64 // 'gdop', 'pdop', 'hdop', 'vdop'
}

// Number of unknowns: position and receiver clock bias
const NX = 4

// SolvePos estimates receiver position and clock bias from satellite positions xs and
// clock-corrected pseudoranges pr [m] by Gauss-Newton iteration from (x0, b0).
// w holds per-observation weights; nil means equal weights.
func SolvePos(xs []PosXYZ, pr []float64, w []float64, x0 PosXYZ, b0 float64, opt *LsOpt) (*LsSol, error) {
	if opt == nil {
		opt = NewLsOpt()
	}
	if opt.MaxIter < 1 {
		return nil, fmt.Errorf("invalid maximum number of iterations %d", opt.MaxIter)
	}
	n := len(xs)
	if len(pr) != n || (w != nil && len(w) != n) {
		return nil, fmt.Errorf("invalid input size. xs=%d, pr=%d, w=%d", n, len(pr), len(w))
	}
	if n < NX {
		return nil, &InsufficientSatellitesError{Have: n, Need: NX}
	}
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}

	G := mat.NewDense(n, NX, nil) // n x 4
	dr := mat.NewVecDense(n, nil) // n x 1
	W := mat.NewDiagDense(n, w)   // n x n
	for iter := 1; iter <= opt.MaxIter; iter++ {

		// Linearize around the current estimate
		for i := range xs {
			ri := EucDist(&xs[i], &x0)
			if ri == 0 {
				return nil, &NumericDegeneracyError{Err: fmt.Errorf("receiver at satellite position")}
			}
			G.Set(i, 0, -(xs[i].X-x0.X)/ri)
			G.Set(i, 1, -(xs[i].Y-x0.Y)/ri)
			G.Set(i, 2, -(xs[i].Z-x0.Z)/ri)
			G.Set(i, 3, 1)
			dr.SetVec(i, pr[i]-(ri+b0))
		}
		if DBG_ >= 4 {
			PrintA("G=\n")
			PrintMat(G)
			PrintA("dr=\n")
			PrintMat(dr)
		}

		dx, cov, err := SolveLS(G, dr, W)
		if err != nil {
			return nil, err
		}

		// Update estimate
		x0.X += dx.AtVec(0)
		x0.Y += dx.AtVec(1)
		x0.Z += dx.AtVec(2)
		b0 += dx.AtVec(3)

		step := floats.Norm([]float64{dx.AtVec(0), dx.AtVec(1), dx.AtVec(2)}, 2)
		PrintD(4, "\tLOOP %d: XYZ= %.3f %.3f %.3f, b=%.3f, |dx|=%.6f\n", iter, x0.X, x0.Y, x0.Z, b0, step)

		// Check convergence (position update < 1mm)
		if step < opt.ConvThres {
			res := make([]float64, n)
			copy(res, dr.RawVector().Data)
			return &LsSol{
				Pos:     x0,
				ClkBias: b0,
				Res:     res,
				ResNorm: floats.Norm(res, 2),
				Iter:    iter,
				Cov:     cov,
				Dop:     calcDop(G, x0),
			}, nil
		}
	}
	return nil, &NonConvergenceError{Stage: "lsq", Iter: opt.MaxIter}
}

// Calculate dilution of precision from an XYZ design matrix.
// hdop and vdop are taken in the local ENU frame at pos.
func calcDop(G mat.Matrix, pos PosXYZ) map[string]float64 {
	dop := map[string]float64{"gdop": 0, "pdop": 0, "hdop": 0, "vdop": 0}
	var GtG, Q mat.Dense
	GtG.Mul(G.T(), G)
	if err := Q.Inverse(&GtG); err != nil {
		return dop
	}

	// Rotation from XYZ to ENU
	llh := pos.ToLLH()
	s1, c1 := math.Sin(llh.Lon), math.Cos(llh.Lon)
	s2, c2 := math.Sin(llh.Lat), math.Cos(llh.Lat)
	R := mat.NewDense(3, 3, []float64{
		-s1, c1, 0,
		-c1 * s2, -s1 * s2, c2,
		c1 * c2, s1 * c2, s2,
	})
	var RQ, Qenu mat.Dense
	RQ.Mul(R, Q.Slice(0, 3, 0, 3))
	Qenu.Mul(&RQ, R.T())

	dop["gdop"] = math.Sqrt(Q.At(0, 0) + Q.At(1, 1) + Q.At(2, 2) + Q.At(3, 3))
	dop["pdop"] = math.Sqrt(Q.At(0, 0) + Q.At(1, 1) + Q.At(2, 2))
	dop["hdop"] = math.Sqrt(Qenu.At(0, 0) + Qenu.At(1, 1))
	dop["vdop"] = math.Sqrt(Qenu.At(2, 2))
	return dop
}
