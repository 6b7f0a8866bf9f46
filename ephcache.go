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
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CacheOpt controls CachedSource
type CacheOpt struct {
	Window          float64       // Length of a memoization window [s]
	MaxTries        uint          // Attempts per fetch when the source fails
	InitialInterval time.Duration // First retry delay
	MaxInterval     time.Duration // Upper bound of retry delay
}

// NewCacheOpt creates a new CacheOpt with default values
func NewCacheOpt() *CacheOpt {
	return &CacheOpt{
		Window:          7200, // Broadcast ephemerides are issued every 2 hours
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

type cacheKey struct {
	sat    SatType
	window int64
}

// Cached answer of the underlying source
type cacheEntry struct {
	eph *Ephe // nil: unavailable
	at  GTime // Time the source was asked
}

// A record is reused while it is valid. An unavailable answer only holds for the
// time it was given at.
func (e cacheEntry) answers(t GTime) bool {
	if e.eph == nil {
		return e.at == t
	}
	return e.eph.Covers(t)
}

// CachedSource memoizes another EphemerisSource per satellite and time window.
//
// Reads are concurrent. Fills for one key and time are collapsed so that at most one
// fetch is in flight, and failures of the underlying source are retried a bounded
// number of times. A cached record is only served at times it covers; otherwise the
// source is asked again and the entry replaced.
type CachedSource struct {
	src     EphemerisSource
	opt     *CacheOpt
	metrics *Metrics

	mu   sync.RWMutex
	recs map[cacheKey]cacheEntry
	sf   singleflight.Group
}

func NewCachedSource(src EphemerisSource, opt *CacheOpt, metrics *Metrics) *CachedSource {
	if opt == nil {
		opt = NewCacheOpt()
	}
	return &CachedSource{
		src:     src,
		opt:     opt,
		metrics: metrics,
		recs:    map[cacheKey]cacheEntry{},
	}
}

func (c *CachedSource) key(sat SatType, t GTime) cacheKey {
	abs := float64(t.Week)*WeekSec + t.Sec
	return cacheKey{sat: sat, window: int64(math.Floor(abs / c.opt.Window))}
}

func (c *CachedSource) cached(k cacheKey, t GTime) (*Ephe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.recs[k]
	if !ok || !e.answers(t) {
		return nil, false
	}
	return e.eph, true
}

func (c *CachedSource) store(k cacheKey, t GTime, eph *Ephe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[k] = cacheEntry{eph: eph, at: t}
}

// Lookup implements EphemerisSource
func (c *CachedSource) Lookup(ctx context.Context, t GTime, sats []SatType) (map[SatType]*Ephe, error) {
	out := make(map[SatType]*Ephe, len(sats))
	var mu sync.Mutex
	var missing []SatType

	g, gctx := errgroup.WithContext(ctx)
	for _, sat := range sats {
		k := c.key(sat, t)
		if eph, ok := c.cached(k, t); ok {
			c.metrics.cacheHit()
			mu.Lock()
			if eph == nil {
				missing = append(missing, sat)
			} else {
				out[sat] = eph
			}
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			eph, err := c.fill(gctx, k, t)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrEphemerisUnavailable) {
				missing = append(missing, sat)
				return nil
			}
			if err != nil {
				return err
			}
			out[sat] = eph
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return out, &EphemerisUnavailableError{Sats: missing}
	}
	return out, nil
}

// Fetch one satellite from the underlying source, sharing the call among concurrent callers
func (c *CachedSource) fill(ctx context.Context, k cacheKey, t GTime) (*Ephe, error) {
	v, err, _ := c.sf.Do(fmt.Sprintf("%s/%d/%.9f", k.sat, t.Week, t.Sec), func() (any, error) {
		if eph, ok := c.cached(k, t); ok {
			return eph, nil
		}
		c.metrics.cacheMiss()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.opt.InitialInterval
		b.MaxInterval = c.opt.MaxInterval

		eph, err := backoff.Retry(ctx, func() (*Ephe, error) {
			m, err := c.src.Lookup(ctx, t, []SatType{k.sat})
			if errors.Is(err, ErrEphemerisUnavailable) {
				return nil, backoff.Permanent(err)
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return m[k.sat], nil
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(c.opt.MaxTries),
			backoff.WithNotify(func(err error, d time.Duration) {
				c.metrics.sourceRetry()
				PrintD(2, "\t%s: ephemeris lookup failed, retry in %v: %s\n", k.sat, d, err.Error())
			}),
		)
		if errors.Is(err, ErrEphemerisUnavailable) || (err == nil && eph == nil) {
			c.store(k, t, nil)
			return (*Ephe)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("ephemeris lookup for %s failed: %w", k.sat, err)
		}
		c.store(k, t, eph)
		return eph, nil
	})
	if err != nil {
		return nil, err
	}
	eph := v.(*Ephe)
	if eph == nil {
		return nil, &EphemerisUnavailableError{Sats: []SatType{k.sat}}
	}
	return eph, nil
}
