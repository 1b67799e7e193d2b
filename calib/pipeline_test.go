// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rditech/rdi-noisecal/noise"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoHalves(t *testing.T) *TableRouter {
	t.Helper()
	r, err := NewTableRouter(PartitionTable{Partitions: map[Key][]ChipRange{
		"left":  {{First: 0, Last: 9}},
		"right": {{First: 10, Last: 19}},
	}})
	require.NoError(t, err)
	return r
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	var batches []Batch
	for i := 0; i < 10; i++ {
		batches = append(batches, Batch{
			Meta: BatchMeta{FrameID: uint64(i), Frames: 10},
			Hits: []Hit{
				{Chip: 3, Row: 1, Col: 1},
				{Chip: 15, Row: 2, Col: 2},
				{Chip: 99},
			},
		})
	}
	// One stray hit on each side that stays below threshold.
	batches[0].Hits = append(batches[0].Hits, Hit{Chip: 4}, Hit{Chip: 11})

	var published []*noise.NoiseMap
	p := &Pipeline{
		Router:     twoHalves(t),
		Partitions: []Key{"left", "right"},
		Config:     Config{ProbabilityThreshold: 0.05, MinCount: 1000},
		Publish: func(_ context.Context, m *noise.NoiseMap) error {
			published = append(published, m)
			return nil
		},
	}

	res, err := p.Run(context.Background(), &SliceSource{Batches: batches})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Same(t, res.Merged, published[0])
	assert.True(t, isClosed(p.Done()))

	assert.Equal(t, uint64(10), res.Batches)
	assert.Equal(t, uint64(10), res.Unroutable)
	assert.True(t, res.Merged.Classified)
	assert.Equal(t, 2, res.Merged.Len())
	assert.Equal(t, uint64(10), res.Merged.Count(noise.ChannelID{Chip: 3, Row: 1, Col: 1}))
	assert.Equal(t, uint64(10), res.Merged.Count(noise.ChannelID{Chip: 15, Row: 2, Col: 2}))
	assert.Zero(t, res.Merged.Count(noise.ChannelID{Chip: 4}))

	for _, key := range []Key{"left", "right"} {
		sum := res.Partitions[key]
		assert.Equal(t, uint64(100), sum.Frames, key)
		assert.False(t, sum.Ready, key)
		assert.Equal(t, 1, sum.NoisyChannels, key)
	}
}

func TestPipeline_StopsWhenAllReady(t *testing.T) {
	t.Parallel()

	batches := make([]Batch, 1000)
	for i := range batches {
		batches[i] = Batch{Meta: BatchMeta{FrameID: uint64(i), Frames: 1}, Hits: []Hit{{Chip: 1}, {Chip: 12}}}
	}

	p := &Pipeline{
		Router:     twoHalves(t),
		Partitions: []Key{"left", "right"},
		Config:     Config{ProbabilityThreshold: 0.5, MinCount: 2},
		BufferSize: 1,
	}
	res, err := p.Run(context.Background(), &SliceSource{Batches: batches})
	require.NoError(t, err)

	assert.Less(t, res.Batches, uint64(len(batches)))
	for _, key := range []Key{"left", "right"} {
		sum := res.Partitions[key]
		assert.True(t, sum.Ready, key)
		assert.Equal(t, uint64(4), sum.Frames, key)
	}
	assert.Equal(t, uint64(4), res.Merged.Count(noise.ChannelID{Chip: 1}))
	assert.Equal(t, uint64(4), res.Merged.Count(noise.ChannelID{Chip: 12}))
}

func TestPipeline_PublishFailure(t *testing.T) {
	t.Parallel()

	errStore := errors.New("store offline")
	p := &Pipeline{
		Router:     SingleRouter{Key: "all"},
		Partitions: []Key{"all"},
		Publish: func(context.Context, *noise.NoiseMap) error {
			return errStore
		},
	}
	res, err := p.Run(context.Background(), &SliceSource{Batches: []Batch{{Meta: BatchMeta{Frames: 1}}}})
	assert.ErrorIs(t, err, errStore)
	assert.Nil(t, res)
	assert.False(t, isClosed(p.Done()))
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (Batch, error) {
	<-ctx.Done()
	return Batch{}, ctx.Err()
}

func TestPipeline_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	published := false
	p := &Pipeline{
		Router:     twoHalves(t),
		Partitions: []Key{"left", "right"},
		Publish: func(context.Context, *noise.NoiseMap) error {
			published = true
			return nil
		},
	}
	_, err := p.Run(ctx, blockingSource{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, published)
	assert.False(t, isClosed(p.Done()))
}

func TestPipeline_InvalidSetup(t *testing.T) {
	t.Parallel()

	_, err := (&Pipeline{Router: SingleRouter{Key: "a"}}).Run(context.Background(), &SliceSource{})
	assert.Error(t, err)

	_, err = (&Pipeline{Partitions: []Key{"a"}}).Run(context.Background(), &SliceSource{})
	assert.Error(t, err)

	_, err = (&Pipeline{Router: SingleRouter{Key: "a"}, Partitions: []Key{"a", "a"}}).Run(context.Background(), &SliceSource{})
	assert.ErrorIs(t, err, ErrDuplicatePartition)
}

func TestPipeline_DoneIsPerRun(t *testing.T) {
	t.Parallel()

	var publishes int
	p := &Pipeline{
		Router:     SingleRouter{Key: "all"},
		Partitions: []Key{"all"},
		Publish: func(context.Context, *noise.NoiseMap) error {
			publishes++
			return nil
		},
	}
	batches := []Batch{{Meta: BatchMeta{Frames: 1}, Hits: []Hit{{Chip: 1}}}}

	_, err := p.Run(context.Background(), &SliceSource{Batches: batches})
	require.NoError(t, err)
	first := p.Done()
	assert.True(t, isClosed(first))

	// A run that fails to publish leaves its own channel open.
	failing := errors.New("store offline")
	p.Publish = func(context.Context, *noise.NoiseMap) error { return failing }
	_, err = p.Run(context.Background(), &SliceSource{Batches: batches})
	assert.ErrorIs(t, err, failing)
	second := p.Done()
	assert.NotEqual(t, first, second)
	assert.False(t, isClosed(second))

	p.Publish = func(context.Context, *noise.NoiseMap) error {
		publishes++
		return nil
	}
	_, err = p.Run(context.Background(), &SliceSource{Batches: batches})
	require.NoError(t, err)
	assert.True(t, isClosed(second))
	assert.Equal(t, 2, publishes)
}

func TestPipeline_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Router: SingleRouter{Key: "all"}, Partitions: []Key{"all"}}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, blockingSource{})
		errc <- err
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.running
	}, time.Second, time.Millisecond)

	_, err := p.Run(context.Background(), &SliceSource{})
	assert.ErrorIs(t, err, ErrPipelineRunning)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
