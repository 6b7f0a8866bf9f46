// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RINEX 3.04 specification
// https://files.igs.org/pub/data/format/rinex304.pdf
//

var (
	navTimeRe = regexp.MustCompile(`^([GJERCSI])([0-9 ][0-9]) (\d{4}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2})`)
	navDataRe = regexp.MustCompile(`[- +\d]{2}\.\d{12}[DE][-+]\d{2}`)
)

// Return the header label of a RINEX header line
func getHeaderLabel(l string) string {
	if len(l) < 61 {
		return ""
	}
	return strings.TrimSpace(l[60:])
}

// Read satellite name and ToC from navigation data epoch line
func getNavTime(l string) (gt GTime, sat SatType, err error) {
	ms := navTimeRe.FindStringSubmatch(l)
	if ms == nil {
		return gt, sat, fmt.Errorf("regexp match failed. l=%s", l)
	}
	sys := SysType(ms[1][0])
	v := [7]int{}
	for i := range v {
		n, err := strconv.Atoi(strings.TrimSpace(ms[i+2]))
		if err != nil {
			return gt, sat, err
		}
		v[i] = n
	}
	sat = SatType(fmt.Sprintf("%c%02d", sys, v[0]))
	gt = *NewGTime(time.Date(v[1], time.Month(v[2]), v[3], v[4], v[5], v[6], 0, time.UTC))
	return
}

// Read GPS navigation data from a RINEX 3 navigation file.
// Records of other satellite systems are skipped.
func ReadNav(r io.Reader) (*Nav, error) {

	// Flag indicating header reading is complete
	headerDone := false

	// Variable to store navigation data
	nav := Nav{}

	// Ephemeris being read; nil while skipping records of other systems
	var eph *Ephe

	// Current line number being read, counted from satellite name and ToC line
	lineCount := 0

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()

		// Process header lines
		if !headerDone {
			switch getHeaderLabel(line) {
			case "RINEX VERSION / TYPE":
				ver := strings.TrimSpace(line[:9])
				if !strings.HasPrefix(ver, "3.") {
					return nil, fmt.Errorf("unsupported RINEX version. RINEX version must be 3.xx (ver=%s)", ver)
				}
				if typ := line[20:21]; typ != "N" {
					return nil, fmt.Errorf("not a navigation message file (typ=%s)", typ)
				}
			case "END OF HEADER":
				headerDone = true
			}
			continue
		}

		if !navDataRe.MatchString(line) {
			continue
		}
		if len(line) < 80 {
			line = line + strings.Repeat(" ", 80-len(line))
		}

		// Epoch line of a new record
		if line[0] != ' ' {
			eph = nil
			if line[0] != 'G' {
				continue
			}
			toc, sat, err := getNavTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to read time of clock in navigation message. err=%w", err)
			}
			v, err := parseFields(line[23:80])
			if err != nil {
				return nil, fmt.Errorf("failed to read clock parameters of %s. err=%w", sat, err)
			}
			eph = &Ephe{Sat: sat, Toc: toc, Af0: v[0], Af1: v[1], Af2: v[2]}
			lineCount = 0
			continue
		}

		// Broadcast orbit lines
		if eph == nil {
			continue
		}
		lineCount += 1
		v, err := parseFields(line[4:80])
		if err != nil {
			return nil, fmt.Errorf("failed to read broadcast orbit %d of %s. err=%w", lineCount, eph.Sat, err)
		}
		v0, v1, v2, v3 := v[0], v[1], v[2], v[3]
		switch lineCount {
		case 1:
			eph.Iode = int(v0)
			eph.Crs = v1
			eph.DeltaN = v2
			eph.M0 = v3
		case 2:
			eph.Cuc = v0
			eph.Ecc = v1
			eph.Cus = v2
			eph.SqrtA = v3
		case 3:
			eph.Toe = GTime{Week: eph.Toc.Week, Sec: v0} // The value of Week has not been read yet, so it is temporarily filled.
			eph.Cic = v1
			eph.Omega0 = v2
			eph.Cis = v3
		case 4:
			eph.I0 = v0
			eph.Crc = v1
			eph.Omega = v2
			eph.OmegaD = v3
		case 5:
			eph.Idot = v0
			eph.Code = int(v1)
			eph.Week = int(v2)
			eph.Toe.Week = eph.Week
			eph.Toe = alignWeek(eph.Toe, eph.Toc)
			eph.Flag = int(v3)
		case 6:
			eph.Sva = getURAIndex(v0)
			eph.Svh = int(v1)
			eph.Tgd = v2
			eph.Iodc = int(v3)
		case 7:
			eph.Tot = alignWeek(GTime{Week: eph.Week, Sec: v0}, eph.Toc)
			eph.Fit = v1
			nav[eph.Sat] = append(nav[eph.Sat], eph)
			eph = nil
		}
	}

	// Check if reading completed without error
	if err := s.Err(); err != nil {
		return nil, err
	}
	if !headerDone {
		return nil, fmt.Errorf("END OF HEADER is not found")
	}

	// Sort by transmission time
	for k := range nav {
		sort.SliceStable(nav[k], func(i, j int) bool { return nav[k][i].Tot.Less(nav[k][j].Tot, false) })
	}

	return &nav, nil
}

// Move t by a week so that it is within half a week of ref
func alignWeek(t, ref GTime) GTime {
	d := t.Sub(ref)
	if d < -WeekSec/2 {
		t.Week += 1
	} else if d > WeekSec/2 {
		t.Week -= 1
	}
	return t
}

// Read real values by absorbing variations in exponential notation within RINEX files.
// A blank field reads as 0.
func parseFloat(str string) (float64, error) {
	s := strings.TrimSpace(str)
	if s == "" {
		return 0, nil
	}
	if strings.ContainsAny(s, "Dd") {
		s = strings.Replace(s, "D", "E", 1)
		s = strings.Replace(s, "d", "e", 1)
	}
	return strconv.ParseFloat(s, 64)
}

// Read consecutive 19 column fields of navigation data
func parseFields(str string) ([]float64, error) {
	v := make([]float64, len(str)/19)
	for i := range v {
		f, err := parseFloat(str[19*i : 19*(i+1)])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		v[i] = f
	}
	return v, nil
}

// Return URA index for specified value
func getURAIndex(x float64) int {
	uraVal := [...]float64{2.4, 3.4, 4.85, 6.85, 9.65, 13.65, 24.0, 48.0, 96.0, 192.0, 384.0, 768.0, 1536.0, 3072.0, 6144.0}
	if x <= 0 {
		return 15
	}
	for i, u := range uraVal {
		if x <= u {
			return i
		}
	}
	return 15
}
