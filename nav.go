// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Maximum distance between a requested time and ToE for an ephemeris to be usable [s]
const MAXDTOE = 7201

// Structure to store ephemeris (GPS LNAV data for one satellite, one issue)
type Ephe struct {
	Sat  SatType
	Toc  GTime // Reference time for satellite clock error correction
	Toe  GTime // Reference time for satellite orbit calculation
	Tot  GTime // Transmission time
	Iode int
	Iodc int

	// Clock correction polynomial
	Af0 float64 // SV clock bias [s]
	Af1 float64 // SV clock drift [s/s]
	Af2 float64 // SV clock drift rate [s/s^2]

	// Keplerian elements and corrections
	Crs    float64
	DeltaN float64
	M0     float64
	Cuc    float64
	Ecc    float64
	Cus    float64
	SqrtA  float64
	Cic    float64
	Omega0 float64
	Cis    float64
	I0     float64
	Crc    float64
	Omega  float64
	OmegaD float64
	Idot   float64

	Code int
	Week int
	Flag int
	Sva  int
	Svh  int
	Tgd  float64
	Fit  float64 // Fit interval [h]
}

func (e *Ephe) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Nav. for %s (%c, %d)\n", e.Sat, e.Sat.Sys(), e.Sat.Num())
	fmt.Fprintf(&sb, "    Toc: %v (%v)\n", e.Toc.ToTime().UTC(), e.Toc)
	fmt.Fprintf(&sb, "    Toe: %v (%v)\n", e.Toe.ToTime().UTC(), e.Toe)
	fmt.Fprintf(&sb, "    Tot: %v (%v)\n", e.Tot.ToTime().UTC(), e.Tot)
	fmt.Fprintf(&sb, "   Iode: %v  Iodc: %v  Svh: %v  Sva: %v\n", e.Iode, e.Iodc, e.Svh, e.Sva)
	fmt.Fprintf(&sb, "    Af0: %v  Af1: %v  Af2: %v\n", e.Af0, e.Af1, e.Af2)
	fmt.Fprintf(&sb, "  SqrtA: %v  Ecc: %v  M0: %v  DeltaN: %v\n", e.SqrtA, e.Ecc, e.M0, e.DeltaN)
	fmt.Fprintf(&sb, " Omega0: %v  OmegaD: %v  Omega: %v\n", e.Omega0, e.OmegaD, e.Omega)
	fmt.Fprintf(&sb, "     I0: %v  Idot: %v\n", e.I0, e.Idot)
	fmt.Fprintf(&sb, "    Cus: %v  Cuc: %v  Crs: %v  Crc: %v  Cis: %v  Cic: %v\n", e.Cus, e.Cuc, e.Crs, e.Crc, e.Cis, e.Cic)
	return sb.String()
}

// Whether the ephemeris may be used at the specified time
func (e *Ephe) Covers(gt GTime) bool {
	return math.Abs(gt.Sub(e.Toe)) < MAXDTOE
}

// EphemerisSource resolves broadcast ephemerides for satellites at a reference time.
//
// Satellites that cannot be resolved are reported with an *EphemerisUnavailableError
// alongside the records that were found. Any other error is a failure of the source
// itself. How one record is chosen among several valid ones is up to the implementation.
type EphemerisSource interface {
	Lookup(ctx context.Context, t GTime, sats []SatType) (map[SatType]*Ephe, error)
}

// Structure to store navigation data for each satellite at each time
// - Map with satellite name as Key and slice sorted by transmission time (Tot) in ascending order as Value
type Nav map[SatType][]*Ephe

// Select the ephemeris whose ToE is closest to the specified time, including future ToE,
// within MAXDTOE (RTKLIB method)
func (nav *Nav) GetEphe(sat SatType, gt GTime) (*Ephe, error) {
	navs, ok := (*nav)[sat]
	if !ok {
		return nil, fmt.Errorf("can't find %s", sat)
	}
	diffMax := float64(MAXDTOE)
	j := -1
	for i, eph := range navs {
		diff := math.Abs(eph.Toe.Sub(gt))
		if diff < diffMax {
			diffMax = diff
			j = i
		}
	}
	if j < 0 {
		return nil, fmt.Errorf("can't find a valid ephemeris for %s", sat)
	}
	return navs[j], nil
}

// Lookup implements EphemerisSource
func (nav *Nav) Lookup(ctx context.Context, t GTime, sats []SatType) (map[SatType]*Ephe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[SatType]*Ephe, len(sats))
	var missing []SatType
	for _, sat := range sats {
		eph, err := nav.GetEphe(sat, t)
		if err != nil {
			PrintD(3, "\t%s: %s\n", sat, err.Error())
			missing = append(missing, sat)
			continue
		}
		out[sat] = eph
	}
	if len(missing) > 0 {
		return out, &EphemerisUnavailableError{Sats: missing}
	}
	return out, nil
}

// Display navigation data overview
func (p *Nav) String() string {
	keys := []SatType{}
	for k := range *p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	sb.WriteString("toc:\n")
	for _, sat := range keys {
		sb.WriteString(fmt.Sprintf("\t%s: ", sat))
		if len((*p)[sat]) > 0 {
			st := (*p)[sat][0].Toc
			et := (*p)[sat][len((*p)[sat])-1].Toc
			sb.WriteString(fmt.Sprintf("%s - %s (%d)\n",
				st.ToTime().UTC().Format("2006/01/02 15:04:05.000"), et.ToTime().UTC().Format("2006/01/02 15:04:05.000"), len((*p)[sat])))
		} else {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
