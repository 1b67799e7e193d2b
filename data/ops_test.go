// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/proio-org/go-proio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventOp_KeepsOrder(t *testing.T) {
	t.Parallel()

	const n = 50
	events := make([]*proio.Event, n)
	for i := range events {
		events[i] = NewDigitEvent(calib.BatchMeta{FrameID: uint64(i), Frames: 1}, nil)
	}

	op := EventOp{
		Description: "jittered no-op",
		EventProcessor: func(*proio.Event) {
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
		},
		Concurrency: 8,
		MaxEventBuf: 4,
	}

	var got []uint64
	for event := range (OpArray{op}).Run(eventChan(events...)) {
		meta, ok := FrameInfo(event)
		require.True(t, ok)
		got = append(got, meta.FrameID)
	}
	require.Len(t, got, n)
	for i, id := range got {
		assert.Equal(t, uint64(i), id)
	}
}

func TestStreamOp(t *testing.T) {
	t.Parallel()

	op := StreamOp{
		Description: "drop odd frames",
		StreamProcessor: func(in <-chan *proio.Event, out chan<- *proio.Event) {
			for event := range in {
				if meta, _ := FrameInfo(event); meta.FrameID%2 == 0 {
					out <- event
				}
			}
		},
		MaxEventBuf: 1,
	}

	var events []*proio.Event
	for i := 0; i < 6; i++ {
		events = append(events, NewDigitEvent(calib.BatchMeta{FrameID: uint64(i), Frames: 1}, nil))
	}
	count := 0
	for range op.Run(eventChan(events...)) {
		count++
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, "0) drop odd frames\n1) drop odd frames", OpArray{op, op}.usage())
}
