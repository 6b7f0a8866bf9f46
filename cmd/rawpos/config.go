// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.17
//

package main

import (
	"fmt"
	"os"
	"time"

	m "github.com/mkhts/rawpos"
	"gopkg.in/yaml.v3"
)

// Settings read from the YAML file given by -c.
// Only keys present in the file are applied, and flags given on the command line win.
type fileConfig struct {
	Workers      *int      `yaml:"workers"`
	MaxPrSec     *float64  `yaml:"max_pr_sec"`
	CnMask       *float64  `yaml:"cn_mask"`
	Weighted     *bool     `yaml:"weighted"`
	EarthRotCorr *bool     `yaml:"earth_rotation"`
	MaxDop       *float64  `yaml:"max_dop"`
	MaxIter      *int      `yaml:"max_iter"`
	ConvThres    *float64  `yaml:"conv_thres"`
	ExSats       []string  `yaml:"exclude"`
	Cache        *cacheCfg `yaml:"cache"`
}

type cacheCfg struct {
	Disabled        bool          `yaml:"disabled"`
	Window          float64       `yaml:"window"`
	MaxTries        uint          `yaml:"max_tries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Read the YAML configuration file
func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Apply file settings to a for every option whose flag was not given.
// set holds the names of the flags given on the command line.
func (c *fileConfig) apply(a *cmdOpt, set map[string]bool) {
	if c.Workers != nil && !set["j"] {
		a.workers = *c.Workers
	}
	if c.MaxPrSec != nil && !set["maxpr"] {
		a.maxPrSec = *c.MaxPrSec
	}
	if c.CnMask != nil && !set["cn"] {
		a.cnMask = *c.CnMask
	}
	if c.Weighted != nil && !set["w"] {
		a.weighted = *c.Weighted
	}
	if c.EarthRotCorr != nil && !set["er"] {
		a.earthRotCorr = *c.EarthRotCorr
	}
	if c.MaxDop != nil && !set["d"] {
		a.maxDop = *c.MaxDop
	}
	if c.MaxIter != nil && !set["it"] {
		a.maxIter = *c.MaxIter
	}
	if c.ConvThres != nil && !set["conv"] {
		a.convThres = *c.ConvThres
	}
	if c.ExSats != nil && !set["ex"] {
		a.exSats = a.exSats[:0]
		for _, s := range c.ExSats {
			a.exSats = append(a.exSats, m.SatType(s))
		}
	}
	if c.Cache != nil {
		if !set["nc"] {
			a.noCache = c.Cache.Disabled
		}
		if c.Cache.Window > 0 {
			a.cacheOpt.Window = c.Cache.Window
		}
		if c.Cache.MaxTries > 0 {
			a.cacheOpt.MaxTries = c.Cache.MaxTries
		}
		if c.Cache.InitialInterval > 0 {
			a.cacheOpt.InitialInterval = c.Cache.InitialInterval
		}
		if c.Cache.MaxInterval > 0 {
			a.cacheOpt.MaxInterval = c.Cache.MaxInterval
		}
	}
}

// Reject option values the solver cannot run with
func (a *cmdOpt) check() error {
	if a.maxIter < 1 {
		return fmt.Errorf("maximum number of iterations must be positive (it=%d)", a.maxIter)
	}
	if a.convThres <= 0 {
		return fmt.Errorf("convergence threshold must be positive (conv=%g)", a.convThres)
	}
	if a.workers < 0 {
		return fmt.Errorf("number of workers must not be negative (j=%d)", a.workers)
	}
	return nil
}
