// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/kylelemons/godebug/diff"
	m "github.com/mkhts/rawpos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrintPos(t *testing.T) {
	sol := &m.ReceiverSolution{
		Time:     m.GTime{Week: 2297, Sec: 93600.0004},
		LLH:      m.PosLLH{Lat: 35.7, Lon: 139.7, Hei: 80.25},
		ClkBiasM: 299.792458,
		ResNorm:  1.5,
		NumSats:  6,
		Dop:      map[string]float64{"gdop": 2.5, "pdop": 2.0, "hdop": 1.2, "vdop": 1.6},
	}
	var buf bytes.Buffer
	printPos(sol, &buf)

	want := "2024/01/15 02:00:00.000  35.700000000  139.700000000    80.2500   5   6      0.000001000         1.5000      2.500      2.000      1.200      1.600\n"
	if got := buf.String(); got != want {
		t.Error(diff.Diff(want, got))
	}
}

func TestPrintResults(t *testing.T) {
	ok := func(sec float64) *m.ReceiverSolution {
		return &m.ReceiverSolution{Time: m.GTime{Week: 2297, Sec: sec}, Dop: map[string]float64{}}
	}
	results := []m.EpochResult{
		{Epoch: 0, Time: m.GTime{Week: 2297, Sec: 93600}, Sol: ok(93600)},
		{Epoch: 1, Time: m.GTime{Week: 2297, Sec: 93600.5}, Sol: ok(93600.5)},
		{Epoch: 2, Time: m.GTime{Week: 2297, Sec: 93601}, Err: &m.InsufficientSatellitesError{Have: 3, Need: 4}},
		{Epoch: 3, Time: m.GTime{Week: 2297, Sec: 93602}},
		{Epoch: 4, Time: m.GTime{Week: 2297, Sec: 93604}, Sol: ok(93604)},
	}
	var buf bytes.Buffer
	printResults(cmdOpt{ti: 2}, results, &buf)
	require.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
	require.Contains(t, buf.String(), "02:00:00.000")
	require.Contains(t, buf.String(), "02:00:04.000")
}

func TestDumpStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := m.NewMetrics(reg)
	require.NoError(t, err)
	metrics.Epochs.WithLabelValues("ok").Add(3)
	metrics.Epochs.WithLabelValues("insufficient_satellites").Inc()
	metrics.SatsDropped.WithLabelValues("unhealthy").Add(2)
	metrics.CacheHits.Add(7)
	for _, n := range []float64{4, 5, 6} {
		metrics.LsqIterations.Observe(n)
	}

	var buf bytes.Buffer
	require.NoError(t, dumpStats(&buf, reg))

	line := func(name string, v float64) string { return fmt.Sprintf("%-60s %12.0f\n", name, v) }
	want := "--- stats ---\n" +
		line("rawpos_ephemeris_cache_hits_total", 7) +
		line("rawpos_ephemeris_cache_misses_total", 0) +
		line("rawpos_ephemeris_source_retries_total", 0) +
		line(`rawpos_epochs_total{outcome="insufficient_satellites"}`, 1) +
		line(`rawpos_epochs_total{outcome="ok"}`, 3) +
		fmt.Sprintf("%-60s %12d (mean %.2f)\n", "rawpos_lsq_iterations_count", 3, 5.0) +
		line(`rawpos_satellites_dropped_total{reason="unhealthy"}`, 2)
	if got := buf.String(); got != want {
		t.Error(diff.Diff(want, got))
	}
}
