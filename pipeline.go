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
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Outcome of one epoch. Exactly one of Sol and Err is set.
type EpochResult struct {
	Epoch int
	Time  GTime
	Sol   *ReceiverSolution
	Err   error
}

// PipelineOpt contains options for a positioning run
type PipelineOpt struct {
	Psr     *PsrOpt // Pseudorange extraction options
	Spp     *SppOpt // Per-epoch positioning options
	Workers int     // Epochs processed in parallel. 0 means GOMAXPROCS
}

// NewPipelineOpt creates a new PipelineOpt with default values
func NewPipelineOpt() *PipelineOpt {
	return &PipelineOpt{
		Psr:     NewPsrOpt(),
		Spp:     NewSppOpt(),
		Workers: 0,
	}
}

// Pipeline turns a raw measurement log into one positioning result per epoch
type Pipeline struct {
	src     EphemerisSource
	opt     *PipelineOpt
	metrics *Metrics
}

// NewPipeline creates a pipeline reading ephemerides from src. metrics may be nil.
func NewPipeline(src EphemerisSource, opt *PipelineOpt, metrics *Metrics) *Pipeline {
	if opt == nil {
		opt = NewPipelineOpt()
	}
	return &Pipeline{src: src, opt: opt, metrics: metrics}
}

// Run processes all epochs of meas, which must be in chronological order.
//
// The result holds one entry per epoch in epoch order. Failures local to an epoch are
// recorded in its entry and do not stop the run. A failure of the ephemeris source or
// cancellation of ctx stops the run; the entries completed so far are returned with
// the error, and unfinished entries have neither Sol nor Err set.
func (p *Pipeline) Run(ctx context.Context, meas []RawMeasurement) ([]EpochResult, error) {
	if len(meas) == 0 {
		return nil, nil
	}

	// Segment and extract pseudoranges
	ems := SegmentEpochs(meas)
	obs := ExtractPseudoranges(ems, p.opt.Psr)

	// Group by epoch. Epoch indices are dense from 0.
	nEpoch := ems[len(ems)-1].Epoch + 1
	results := make([]EpochResult, nEpoch)
	byEpoch := make([][]PsrObs, nEpoch)
	for _, em := range ems {
		r := &results[em.Epoch]
		if r.Time == (GTime{}) {
			r.Epoch = em.Epoch
			r.Time = em.Time
		}
	}
	for _, o := range obs {
		byEpoch[o.Epoch] = append(byEpoch[o.Epoch], o)
	}
	PrintD(1, "epochs: %d, observations: %d / %d\n", nEpoch, len(obs), len(meas))

	workers := p.opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range results {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			PrintD(2, "\n>>> epoch %d %s\n", i, results[i].Time.ToTime().UTC())
			sol, err := calcEpoch(gctx, i, byEpoch[i], p.src, p.opt.Spp, p.metrics)
			if err != nil && !isEpochLocal(err) {
				return fmt.Errorf("epoch %d: %w", i, err)
			}
			p.metrics.epochDone(sol, err)
			if sol != nil {
				results[i].Time = sol.Time
			}
			results[i].Sol = sol
			results[i].Err = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Whether err affects only the epoch it occurred in
func isEpochLocal(err error) bool {
	return errors.Is(err, ErrInsufficientSats) ||
		errors.Is(err, ErrNonConvergence) ||
		errors.Is(err, ErrNumericDegeneracy) ||
		errors.Is(err, ErrEphemerisUnavailable)
}
