// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is. Each typed error below matches exactly one of them.
var (
	ErrMalformedMeasurement = errors.New("malformed measurement")
	ErrInsufficientSats     = errors.New("insufficient satellites")
	ErrEphemerisUnavailable = errors.New("ephemeris unavailable")
	ErrNonConvergence       = errors.New("no convergence")
	ErrNumericDegeneracy    = errors.New("numeric degeneracy")
)

// A raw record is missing a required numeric field or it cannot be parsed
type MalformedMeasurementError struct {
	Line  int    // Line number in the source log (0 if unknown)
	Field string // Offending column
	Err   error  // Parse error, if any
}

func (e *MalformedMeasurementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed measurement at line %d: field %s: %v", e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed measurement at line %d: field %s is missing", e.Line, e.Field)
}

func (e *MalformedMeasurementError) Is(target error) bool { return target == ErrMalformedMeasurement }

func (e *MalformedMeasurementError) Unwrap() error { return e.Err }

// Fewer usable satellites than unknowns
type InsufficientSatellitesError struct {
	Have int
	Need int
}

func (e *InsufficientSatellitesError) Error() string {
	return fmt.Sprintf("not enough satellites: %d < %d", e.Have, e.Need)
}

func (e *InsufficientSatellitesError) Is(target error) bool { return target == ErrInsufficientSats }

// No ephemeris could be resolved for the listed satellites
type EphemerisUnavailableError struct {
	Sats []SatType
}

func (e *EphemerisUnavailableError) Error() string {
	s := make([]string, len(e.Sats))
	for i, sat := range e.Sats {
		s[i] = string(sat)
	}
	return fmt.Sprintf("can't find a valid ephemeris for %s", strings.Join(s, ","))
}

func (e *EphemerisUnavailableError) Is(target error) bool { return target == ErrEphemerisUnavailable }

// An iterative solver hit its iteration cap
type NonConvergenceError struct {
	Stage string // "kepler" or "lsq"
	Sat   SatType
	Iter  int
}

func (e *NonConvergenceError) Error() string {
	if e.Sat != "" {
		return fmt.Sprintf("%s: %s did not converge in %d iterations", e.Stage, e.Sat, e.Iter)
	}
	return fmt.Sprintf("%s did not converge in %d iterations", e.Stage, e.Iter)
}

func (e *NonConvergenceError) Is(target error) bool { return target == ErrNonConvergence }

// Normal matrix is singular or near singular
type NumericDegeneracyError struct {
	Err error
}

func (e *NumericDegeneracyError) Error() string {
	return fmt.Sprintf("degenerate satellite geometry: %v", e.Err)
}

func (e *NumericDegeneracyError) Is(target error) bool { return target == ErrNumericDegeneracy }

func (e *NumericDegeneracyError) Unwrap() error { return e.Err }
