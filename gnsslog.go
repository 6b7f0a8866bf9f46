// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Android GnssLogger text log
// https://developer.android.com/reference/android/location/GnssMeasurement
//
// "# Raw,<column>,..." defines the columns of "Raw,..." rows. Other record types such as
// "Fix" or "Status" and other comment lines are ignored.

// Columns that must be present and numeric in every GPS row
var requiredRawCols = []string{
	"Svid",
	"ConstellationType",
	"TimeNanos",
	"FullBiasNanos",
	"ReceivedSvTimeNanos",
	"ReceivedSvTimeUncertaintyNanos",
	"Cn0DbHz",
	"PseudorangeRateMetersPerSecond",
}

// Read raw GPS measurements from a GnssLogger log.
//
// Rows of other constellations are skipped. Rows that cannot be converted are skipped
// too and reported in bad as *MalformedMeasurementError, one per row. err is set only
// when the log as a whole cannot be read.
func ReadGnssLog(r io.Reader) (meas []RawMeasurement, bad []error, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	// Column name -> index, set by the "# Raw" header
	var cols map[string]int

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				bad = append(bad, &MalformedMeasurementError{Line: pe.Line, Field: "record", Err: err})
				continue
			}
			return nil, nil, err
		}
		line, _ := cr.FieldPos(0)
		tag := strings.TrimSpace(rec[0])

		// Header
		if strings.HasPrefix(tag, "#") {
			if strings.TrimSpace(strings.TrimPrefix(tag, "#")) != "Raw" {
				continue
			}
			cols = make(map[string]int, len(rec))
			for i, c := range rec[1:] {
				cols[strings.TrimSpace(c)] = i + 1
			}
			for _, c := range requiredRawCols {
				if _, ok := cols[c]; !ok {
					return nil, nil, fmt.Errorf("raw header at line %d has no column %s", line, c)
				}
			}
			continue
		}

		if tag != "Raw" {
			continue
		}
		if cols == nil {
			return nil, nil, fmt.Errorf("raw record at line %d precedes the raw header", line)
		}

		m, skip, err := parseRawRecord(rec, cols, line)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		if skip {
			continue
		}
		meas = append(meas, m)
	}
	PrintD(1, "raw measurements: %d (malformed %d)\n", len(meas), len(bad))
	return meas, bad, nil
}

// Convert one "Raw" row. skip is set for rows of other constellations.
func parseRawRecord(rec []string, cols map[string]int, line int) (m RawMeasurement, skip bool, err error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}
	malformed := func(name string, err error) error {
		return &MalformedMeasurementError{Line: line, Field: name, Err: err}
	}
	intField := func(name string) (int64, error) {
		s, ok := field(name)
		if !ok {
			return 0, malformed(name, nil)
		}
		v, err := parseInt64(s)
		if err != nil {
			return 0, malformed(name, err)
		}
		return v, nil
	}
	floatField := func(name string) (float64, error) {
		s, ok := field(name)
		if !ok {
			return 0, malformed(name, nil)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, malformed(name, err)
		}
		return v, nil
	}
	optField := func(name string) (OptFloat, error) {
		s, ok := field(name)
		if !ok {
			return OptFloat{}, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return OptFloat{}, malformed(name, err)
		}
		return SomeFloat(v), nil
	}

	ct, err := intField("ConstellationType")
	if err != nil {
		return m, false, err
	}
	if ct != ConstellationGPS {
		return m, true, nil
	}
	svid, err := intField("Svid")
	if err != nil {
		return m, false, err
	}
	m.Constellation = int(ct)
	if m.Sat, err = NewSatType(int(ct), int(svid)); err != nil {
		return m, false, malformed("Svid", err)
	}
	if m.TimeNanos, err = intField("TimeNanos"); err != nil {
		return m, false, err
	}
	if m.FullBiasNanos, err = intField("FullBiasNanos"); err != nil {
		return m, false, err
	}
	if m.ReceivedSvTimeNanos, err = intField("ReceivedSvTimeNanos"); err != nil {
		return m, false, err
	}
	if m.ReceivedSvTimeUncertaintyNanos, err = intField("ReceivedSvTimeUncertaintyNanos"); err != nil {
		return m, false, err
	}
	if m.Cn0DbHz, err = floatField("Cn0DbHz"); err != nil {
		return m, false, err
	}
	if m.PseudorangeRateMetersPerSecond, err = floatField("PseudorangeRateMetersPerSecond"); err != nil {
		return m, false, err
	}
	if m.BiasNanos, err = optField("BiasNanos"); err != nil {
		return m, false, err
	}
	if m.TimeOffsetNanos, err = optField("TimeOffsetNanos"); err != nil {
		return m, false, err
	}
	return m, false, nil
}

// Parse an integer counter. Some loggers write integral values in float notation.
func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return v, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != float64(int64(f)) {
		return 0, err
	}
	return int64(f), nil
}
