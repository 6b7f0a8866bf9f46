// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package rawpos

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus counters of a positioning run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Epochs        *prometheus.CounterVec // by outcome
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	SourceRetries prometheus.Counter
	SatsDropped   *prometheus.CounterVec // by reason
	LsqIterations prometheus.Histogram
}

// NewMetrics registers the counters against reg, or the default registerer when reg is nil
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawpos_epochs_total",
			Help: "Processed epochs, labeled by outcome.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawpos_ephemeris_cache_hits_total",
			Help: "Ephemeris lookups answered from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawpos_ephemeris_cache_misses_total",
			Help: "Ephemeris lookups forwarded to the source.",
		}),
		SourceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rawpos_ephemeris_source_retries_total",
			Help: "Retried ephemeris source failures.",
		}),
		SatsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawpos_satellites_dropped_total",
			Help: "Satellites removed from an epoch, labeled by reason.",
		}, []string{"reason"}),
		LsqIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rawpos_lsq_iterations",
			Help:    "Gauss-Newton iterations per solved epoch.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		}),
	}
	for _, c := range []prometheus.Collector{m.Epochs, m.CacheHits, m.CacheMisses, m.SourceRetries, m.SatsDropped, m.LsqIterations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) sourceRetry() {
	if m != nil {
		m.SourceRetries.Inc()
	}
}

func (m *Metrics) satDropped(reason string, n int) {
	if m != nil && n > 0 {
		m.SatsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// Count one epoch outcome
func (m *Metrics) epochDone(sol *ReceiverSolution, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.Epochs.WithLabelValues("ok").Inc()
		m.LsqIterations.Observe(float64(sol.Iter))
		return
	}
	m.Epochs.WithLabelValues(outcomeOf(err)).Inc()
}

// Label value of an epoch failure
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientSats):
		return "insufficient_satellites"
	case errors.Is(err, ErrNonConvergence):
		return "non_convergence"
	case errors.Is(err, ErrNumericDegeneracy):
		return "numeric_degeneracy"
	case errors.Is(err, ErrEphemerisUnavailable):
		return "ephemeris_unavailable"
	default:
		return "error"
	}
}
