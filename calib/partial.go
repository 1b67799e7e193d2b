// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"github.com/rditech/rdi-noisecal/noise"

	"go.uber.org/zap"
)

const (
	DefaultProbabilityThreshold = 1e-6
	DefaultMinCount             = 100
)

type Config struct {
	// ProbabilityThreshold is the noise probability at or above which a
	// channel is classified noisy.
	ProbabilityThreshold float64
	// MinCount drives the early stop: a partition is ready once
	// frames*ProbabilityThreshold >= MinCount. It is independent of the
	// classification cut.
	MinCount float64
	Geometry noise.Geometry
}

func (c Config) withDefaults() Config {
	if c.ProbabilityThreshold == 0 {
		c.ProbabilityThreshold = DefaultProbabilityThreshold
	}
	if c.MinCount == 0 {
		c.MinCount = DefaultMinCount
	}
	if c.Geometry == (noise.Geometry{}) {
		c.Geometry = noise.DefaultGeometry
	}
	return c
}

// PartialCalibrator accumulates hit statistics for one partition and decides
// when enough frames have been seen.
type PartialCalibrator struct {
	Key Key

	cfg       Config
	noiseMap  *noise.NoiseMap
	frames    uint64
	batches   uint64
	anomalies uint64
	ready     bool
	logger    *zap.Logger
}

func NewPartialCalibrator(key Key, cfg Config, logger *zap.Logger) *PartialCalibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &PartialCalibrator{
		Key:      key,
		cfg:      cfg,
		noiseMap: noise.New(cfg.Geometry),
		logger:   logger.With(zap.String("partition", string(key))),
	}
}

// ProcessBatch adds the batch hits to the partition map and reports whether
// the stopping rule is satisfied. Hits outside the sensor geometry are
// dropped and counted as anomalies.
func (c *PartialCalibrator) ProcessBatch(b Batch) bool {
	for _, h := range b.Hits {
		if err := c.noiseMap.Increment(h.Channel()); err != nil {
			c.anomalies++
			c.logger.Warn("dropping hit",
				zap.Uint64("frame", b.Meta.FrameID),
				zap.Error(err),
			)
		}
	}
	c.frames += b.Meta.Frames
	c.batches++

	c.ready = float64(c.frames)*c.cfg.ProbabilityThreshold >= c.cfg.MinCount
	return c.ready
}

// Finalize returns the classified map for the frames processed so far. The
// accumulator is untouched, so later batches keep counting.
func (c *PartialCalibrator) Finalize() *noise.NoiseMap {
	classified := c.noiseMap.Clone()
	classified.Classify(c.cfg.ProbabilityThreshold, c.frames)

	occ := c.noiseMap.Occupancy(c.frames)
	c.logger.Info("finalized partition",
		zap.Uint64("frames", c.frames),
		zap.Uint64("batches", c.batches),
		zap.Uint64("anomalies", c.anomalies),
		zap.Int("hitChannels", occ.Channels),
		zap.Float64("meanOccupancy", occ.Mean),
		zap.Float64("maxOccupancy", occ.Max),
		zap.Int("noisyChannels", classified.Len()),
	)
	return classified
}

// Reset discards all accumulated statistics.
func (c *PartialCalibrator) Reset() {
	c.noiseMap = noise.New(c.cfg.Geometry)
	c.frames = 0
	c.batches = 0
	c.anomalies = 0
	c.ready = false
}

func (c *PartialCalibrator) Frames() uint64    { return c.frames }
func (c *PartialCalibrator) Anomalies() uint64 { return c.anomalies }
func (c *PartialCalibrator) Ready() bool       { return c.ready }
