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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheOpt() *CacheOpt {
	opt := NewCacheOpt()
	opt.InitialInterval = time.Millisecond
	opt.MaxInterval = 5 * time.Millisecond
	return opt
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return metrics
}

func TestCachedSourceMemoizes(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav}
	metrics := newTestMetrics(t)
	c := NewCachedSource(src, testCacheOpt(), metrics)
	ctx := context.Background()
	sats := testSats(4)

	got, err := c.Lookup(ctx, testToe, sats)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 4, src.numCalls())

	// Same window: answered from the cache
	got, err = c.Lookup(ctx, testToe.Add(60), sats)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 4, src.numCalls())
	for _, sat := range sats {
		assert.Same(t, (*nav)[sat][0], got[sat])
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.CacheMisses))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.CacheHits))

	// Next window: fetched again
	_, err = c.Lookup(ctx, testToe.Add(7200), sats[:1])
	require.NoError(t, err)
	assert.Equal(t, 5, src.numCalls())
}

func TestCachedSourceSingleFlight(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav}
	c := NewCachedSource(src, testCacheOpt(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 32)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Lookup(context.Background(), testToe, []SatType{"G01"})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, src.numCalls())
}

func TestCachedSourceRetry(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav, fails: 2}
	metrics := newTestMetrics(t)
	c := NewCachedSource(src, testCacheOpt(), metrics)

	got, err := c.Lookup(context.Background(), testToe, []SatType{"G01"})
	require.NoError(t, err)
	assert.NotNil(t, got["G01"])
	assert.Equal(t, 3, src.numCalls())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SourceRetries))
}

func TestCachedSourceRetryExhausted(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav, fails: 100}
	opt := testCacheOpt()
	c := NewCachedSource(src, opt, nil)

	_, err := c.Lookup(context.Background(), testToe, []SatType{"G01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSourceDown))
	assert.False(t, errors.Is(err, ErrEphemerisUnavailable))
	assert.Equal(t, int(opt.MaxTries), src.numCalls())

	// Failures are not cached
	src.mu.Lock()
	src.fails = 0
	src.mu.Unlock()
	_, err = c.Lookup(context.Background(), testToe, []SatType{"G01"})
	assert.NoError(t, err)
}

func TestCachedSourceUnavailable(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav}
	c := NewCachedSource(src, testCacheOpt(), nil)
	ctx := context.Background()

	got, err := c.Lookup(ctx, testToe, []SatType{"G02", "G31", "G01", "G30"})
	require.Error(t, err)
	var ue *EphemerisUnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, []SatType{"G30", "G31"}, ue.Sats)
	assert.Len(t, got, 2)
	assert.Equal(t, 4, src.numCalls())

	// Unavailable satellites are remembered for the window, without retries
	_, err = c.Lookup(ctx, testToe, []SatType{"G31"})
	assert.True(t, errors.Is(err, ErrEphemerisUnavailable))
	assert.Equal(t, 4, src.numCalls())
}

func TestCachedSourceCanceled(t *testing.T) {
	nav, _ := testConstellation(t)
	src := &fakeSource{nav: *nav, fails: 100}
	opt := testCacheOpt()
	opt.InitialInterval = time.Second
	opt.MaxInterval = time.Second
	c := NewCachedSource(src, opt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Lookup(ctx, testToe, []SatType{"G01"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEphemerisUnavailable))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestCachedSourceValidity(t *testing.T) {
	nav, _ := testConstellation(t)
	next := *(*nav)["G01"][0]
	next.Toe = testToe.Add(14400)
	(*nav)["G01"] = append((*nav)["G01"], &next)
	src := &fakeSource{nav: *nav}
	opt := testCacheOpt()
	opt.Window = 1e10 // one window for the whole test
	c := NewCachedSource(src, opt, nil)
	ctx := context.Background()

	got, err := c.Lookup(ctx, testToe.Add(7200), []SatType{"G01", "G02"})
	require.NoError(t, err)
	assert.Same(t, (*nav)["G01"][0], got["G01"])

	// G01 switches to the next record once the first one expires, G02 runs out
	at := testToe.Add(7300)
	want, wantErr := nav.Lookup(ctx, at, []SatType{"G01", "G02"})
	got, err = c.Lookup(ctx, at, []SatType{"G01", "G02"})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, want, got)
	assert.Same(t, &next, got["G01"])
	assert.True(t, errors.Is(err, ErrEphemerisUnavailable))
	assert.Equal(t, 4, src.numCalls())

	// Unavailable at one time does not hide a record valid later in the window
	_, err = c.Lookup(ctx, testToe.Add(-7300), []SatType{"G03"})
	assert.True(t, errors.Is(err, ErrEphemerisUnavailable))
	got, err = c.Lookup(ctx, testToe, []SatType{"G03"})
	require.NoError(t, err)
	assert.Same(t, (*nav)["G03"][0], got["G03"])
}
