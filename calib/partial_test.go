// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"testing"

	"github.com/rditech/rdi-noisecal/noise"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialCalibrator_StoppingRule(t *testing.T) {
	t.Parallel()

	cal := NewPartialCalibrator("p", Config{ProbabilityThreshold: 1e-6, MinCount: 1}, nil)

	assert.False(t, cal.ProcessBatch(Batch{Meta: BatchMeta{Frames: 999999}}))
	assert.Equal(t, uint64(999999), cal.Frames())
	assert.False(t, cal.Ready())

	assert.True(t, cal.ProcessBatch(Batch{Meta: BatchMeta{Frames: 1}}))
	assert.Equal(t, uint64(1000000), cal.Frames())
	assert.True(t, cal.Ready())
}

func TestPartialCalibrator_StoppingRuleAccumulates(t *testing.T) {
	t.Parallel()

	cal := NewPartialCalibrator("p", Config{ProbabilityThreshold: 0.01, MinCount: 2}, nil)
	ready := false
	n := 0
	for !ready {
		ready = cal.ProcessBatch(Batch{Meta: BatchMeta{FrameID: uint64(n), Frames: 10}})
		n++
	}
	assert.Equal(t, 20, n)
	assert.Equal(t, uint64(200), cal.Frames())
}

func TestPartialCalibrator_SkipsInvalidHits(t *testing.T) {
	t.Parallel()

	cal := NewPartialCalibrator("p", Config{Geometry: noise.Geometry{Chips: 4, Rows: 8, Cols: 8}}, nil)
	cal.ProcessBatch(Batch{
		Meta: BatchMeta{Frames: 1},
		Hits: []Hit{
			{Chip: 1, Row: 2, Col: 3},
			{Chip: 4, Row: 0, Col: 0},
			{Chip: 1, Row: 8, Col: 0},
			{Chip: 1, Row: 2, Col: 3},
		},
	})
	assert.Equal(t, uint64(2), cal.Anomalies())

	nm := cal.Finalize()
	assert.Equal(t, uint64(2), nm.Count(noise.ChannelID{Chip: 1, Row: 2, Col: 3}))
	assert.Equal(t, 1, nm.Len())
}

func TestPartialCalibrator_FinalizeIdempotent(t *testing.T) {
	t.Parallel()

	cal := NewPartialCalibrator("p", Config{ProbabilityThreshold: 0.25, MinCount: 1000}, nil)
	for i := 0; i < 4; i++ {
		hits := []Hit{{Chip: 0, Row: 1, Col: 1}}
		if i == 0 {
			hits = append(hits, Hit{Chip: 2, Row: 0, Col: 5})
		}
		cal.ProcessBatch(Batch{Meta: BatchMeta{FrameID: uint64(i), Frames: 1}, Hits: hits})
	}

	first := cal.Finalize()
	second := cal.Finalize()
	require.True(t, first.Classified)
	assert.True(t, first.Equal(second))
	// 4/4 frames for the hot pixel, 1/4 for the other: both reach 0.25.
	assert.Equal(t, 2, first.Len())

	// More frames dilute the single hit below the threshold.
	cal.ProcessBatch(Batch{Meta: BatchMeta{Frames: 4}})
	third := cal.Finalize()
	assert.Equal(t, 1, third.Len())
	assert.Equal(t, uint64(4), third.Count(noise.ChannelID{Chip: 0, Row: 1, Col: 1}))
}

func TestPartialCalibrator_Reset(t *testing.T) {
	t.Parallel()

	cal := NewPartialCalibrator("p", Config{ProbabilityThreshold: 1, MinCount: 1}, nil)
	require.True(t, cal.ProcessBatch(Batch{Meta: BatchMeta{Frames: 1}, Hits: []Hit{{Chip: 1}}}))
	cal.Reset()
	assert.Zero(t, cal.Frames())
	assert.False(t, cal.Ready())
	assert.Equal(t, 0, cal.Finalize().Len())
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultProbabilityThreshold, cfg.ProbabilityThreshold)
	assert.Equal(t, float64(DefaultMinCount), cfg.MinCount)
	assert.Equal(t, noise.DefaultGeometry, cfg.Geometry)
}
