// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rditech/rdi-noisecal/noise"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBufferSize = 16

type PartitionSummary struct {
	Frames        uint64
	Anomalies     uint64
	Ready         bool
	NoisyChannels int
}

type Result struct {
	Merged     *noise.NoiseMap
	Partitions map[Key]PartitionSummary
	Batches    uint64
	Unroutable uint64
}

type submission struct {
	key      Key
	noiseMap *noise.NoiseMap
	summary  PartitionSummary
}

// Pipeline runs one PartialCalibrator per partition, merges their maps and
// hands the result to Publish.
type Pipeline struct {
	Router     Router
	Partitions []Key
	Config     Config
	// Publish is called once with the merged map. A nil Publish skips
	// publication.
	Publish    func(ctx context.Context, m *noise.NoiseMap) error
	Logger     *zap.Logger
	BufferSize int

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var ErrPipelineRunning = errors.New("pipeline is already running")

// Done is closed once the current run, or the next one if none is in
// progress, has been merged and published. Every Run gets a fresh channel
// once the previous one has closed.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneLocked()
}

func (p *Pipeline) doneLocked() chan struct{} {
	if p.done == nil {
		p.done = make(chan struct{})
	}
	select {
	case <-p.done:
		if !p.running {
			return p.done
		}
		p.done = make(chan struct{})
	default:
	}
	return p.done
}

// start claims the pipeline for one run and returns that run's done
// channel.
func (p *Pipeline) start() (chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, ErrPipelineRunning
	}
	p.running = true
	return p.doneLocked(), nil
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *Pipeline) Run(ctx context.Context, src BatchSource) (*Result, error) {
	if len(p.Partitions) == 0 {
		return nil, errors.New("pipeline has no partitions")
	}
	if p.Router == nil {
		return nil, errors.New("pipeline has no router")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufSize := p.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	seen := make(map[Key]bool, len(p.Partitions))
	for _, key := range p.Partitions {
		if seen[key] {
			return nil, fmt.Errorf("%w: %q configured twice", ErrDuplicatePartition, key)
		}
		seen[key] = true
	}
	done, err := p.start()
	if err != nil {
		return nil, err
	}
	defer p.finish()

	cfg := p.Config.withDefaults()
	splitter := &Splitter{Router: p.Router, Partitions: p.Partitions}

	g, gctx := errgroup.WithContext(ctx)
	inputs := make(map[Key]chan Batch, len(p.Partitions))
	submissions := make(chan submission, len(p.Partitions))
	var nReady int32

	for _, key := range p.Partitions {
		in := make(chan Batch, bufSize)
		inputs[key] = in
		cal := NewPartialCalibrator(key, cfg, logger)
		g.Go(func() error {
			runPartition(cal, in, submissions, &nReady)
			return nil
		})
	}

	var batches, unroutable uint64
	g.Go(func() error {
		defer func() {
			for _, in := range inputs {
				close(in)
			}
		}()

		for {
			if int(atomic.LoadInt32(&nReady)) == len(p.Partitions) {
				logger.Info("all partitions ready, stopping input", zap.Uint64("batches", batches))
				return nil
			}
			b, err := src.Next(gctx)
			if err == io.EOF {
				logger.Info("input exhausted", zap.Uint64("batches", batches))
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading batches: %w", err)
			}
			batches++

			subs, errs := splitter.Split(b)
			for _, err := range errs {
				unroutable++
				logger.Warn("dropping hit", zap.Uint64("frame", b.Meta.FrameID), zap.Error(err))
			}
			for key, sub := range subs {
				select {
				case inputs[key] <- sub:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(submissions)
	}()

	merger := NewMerger(cfg.Geometry, p.Partitions)
	res := &Result{Partitions: make(map[Key]PartitionSummary, len(p.Partitions))}
	var protocolErr error
	for s := range submissions {
		if err := merger.Submit(s.key, s.noiseMap); err != nil {
			if protocolErr == nil {
				protocolErr = err
			}
			continue
		}
		res.Partitions[s.key] = s.summary
		logger.Info("partition submitted",
			zap.String("partition", string(s.key)),
			zap.Bool("ready", s.summary.Ready),
			zap.Int("remaining", len(merger.Missing())),
		)
	}
	if err := <-waitErr; err != nil {
		return nil, err
	}
	if protocolErr != nil {
		return nil, protocolErr
	}
	res.Batches = batches
	res.Unroutable = unroutable

	merged, err := merger.MergedResult()
	if err != nil {
		return nil, err
	}
	res.Merged = merged

	if p.Publish != nil {
		if err := p.Publish(ctx, merged); err != nil {
			return nil, fmt.Errorf("publishing merged noise map: %w", err)
		}
	}
	logger.Info("calibration run complete",
		zap.Int("noisyChannels", merged.Len()),
		zap.Uint64("batches", batches),
		zap.Uint64("unroutable", unroutable),
	)
	close(done)
	return res, nil
}

// runPartition feeds one calibrator until it is ready or its input closes,
// then submits the classified map. Batches arriving after readiness are
// discarded so the dispatcher never blocks.
func runPartition(cal *PartialCalibrator, in <-chan Batch, out chan<- submission, nReady *int32) {
	submit := func() {
		nm := cal.Finalize()
		out <- submission{
			key:      cal.Key,
			noiseMap: nm,
			summary: PartitionSummary{
				Frames:        cal.Frames(),
				Anomalies:     cal.Anomalies(),
				Ready:         cal.Ready(),
				NoisyChannels: nm.Len(),
			},
		}
	}

	submitted := false
	for b := range in {
		if submitted {
			continue
		}
		if cal.ProcessBatch(b) {
			submit()
			submitted = true
			atomic.AddInt32(nReady, 1)
		}
	}
	if !submitted {
		submit()
	}
}
