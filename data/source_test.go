// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rditech/rdi-noisecal/calib"
	"github.com/rditech/rdi-noisecal/noise"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/google/go-cmp/cmp"
	"github.com/proio-org/go-proio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventChan(events ...*proio.Event) <-chan *proio.Event {
	ch := make(chan *proio.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func drain(t *testing.T, src calib.BatchSource) []calib.Batch {
	t.Helper()
	var batches []calib.Batch
	for {
		b, err := src.Next(context.Background())
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, b)
	}
}

func TestEventSource_Digits(t *testing.T) {
	t.Parallel()

	noFrame := proio.NewEvent()
	noFrame.AddEntry(DigitsTag, &wrappers.BytesValue{Value: EncodeDigits([]calib.Hit{{Chip: 9}})})
	broken := NewDigitEvent(calib.BatchMeta{FrameID: 20, Frames: 2}, nil)
	broken.AddEntry(DigitsTag, &wrappers.BytesValue{Value: []byte{1, 2, 3}})

	src := &EventSource{
		Events: eventChan(
			NewDigitEvent(calib.BatchMeta{FrameID: 10, Frames: 4}, []calib.Hit{{Chip: 1, Row: 2, Col: 3}}),
			noFrame,
			broken,
		),
		Decoder: DigitDecoder{},
	}

	want := []calib.Batch{
		{Meta: calib.BatchMeta{FrameID: 10, Frames: 4}, Hits: []calib.Hit{{Chip: 1, Row: 2, Col: 3}}},
		{Meta: calib.BatchMeta{FrameID: 14, Frames: 1}, Hits: []calib.Hit{{Chip: 9}}},
		{Meta: calib.BatchMeta{FrameID: 20, Frames: 2}},
	}
	if diff := cmp.Diff(want, drain(t, src)); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(1), src.Anomalies())
}

func TestEventSource_Clusters(t *testing.T) {
	t.Parallel()

	dict := TopologyDictionary{1: lShape}
	event := NewClusterEvent(
		calib.BatchMeta{FrameID: 0, Frames: 1},
		[]Cluster{
			{Chip: 2, Row: 5, Col: 5, PatternID: 1},
			{Chip: 3, Row: 0, Col: 0, PatternID: ExplicitPattern},
		},
		[]Pattern{NewPattern([][2]uint8{{0, 0}, {0, 1}})},
	)
	if event.Metadata == nil {
		event.Metadata = make(map[string][]byte)
	}
	event.Metadata[TopologyKey] = dict.Marshal()

	src := &EventSource{Events: eventChan(event), Decoder: &ClusterDecoder{}}
	batches := drain(t, src)
	require.Len(t, batches, 1)
	assert.Equal(t, []calib.Hit{
		{Chip: 2, Row: 5, Col: 5},
		{Chip: 2, Row: 6, Col: 5},
		{Chip: 2, Row: 6, Col: 6},
		{Chip: 3, Row: 0, Col: 0},
		{Chip: 3, Row: 0, Col: 1},
	}, batches[0].Hits)
	assert.Zero(t, src.Anomalies())
}

func TestEventSource_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &EventSource{Events: make(chan *proio.Event), Decoder: DigitDecoder{}}
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClusterExpander(t *testing.T) {
	t.Parallel()

	event := NewClusterEvent(
		calib.BatchMeta{FrameID: 3, Frames: 1},
		[]Cluster{{Chip: 7, Row: 1, Col: 1, PatternID: 1}},
		nil,
	)
	x := &ClusterExpander{Decoder: &ClusterDecoder{Dictionary: TopologyDictionary{1: lShape}}}
	x.ExpandEvent(event)

	assert.Empty(t, event.TaggedEntries(ClustersTag))
	hits, errs := DigitDecoder{}.Decode(event)
	assert.Empty(t, errs)
	assert.Len(t, hits, 3)
}

// Events written to a proio stream and scanned back feed the calibration
// pipeline end to end.
func TestReaderSource_Pipeline(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := proio.NewWriter(&buf)
	for i := uint64(0); i < 5; i++ {
		hits := []calib.Hit{{Chip: 1, Row: 1, Col: 1}}
		if i == 0 {
			hits = append(hits, calib.Hit{Chip: 1, Row: 2, Col: 2})
		}
		require.NoError(t, writer.Push(NewDigitEvent(calib.BatchMeta{FrameID: i * 10, Frames: 10}, hits)))
	}
	writer.Close()

	reader := proio.NewReader(bytes.NewReader(buf.Bytes()))
	defer reader.Close()
	src := NewReaderSource(reader, DigitDecoder{}, 2, nil)

	p := &calib.Pipeline{
		Router:     calib.SingleRouter{Key: "all"},
		Partitions: []calib.Key{"all"},
		Config:     calib.Config{ProbabilityThreshold: 0.05, MinCount: 1000},
	}
	res, err := p.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Batches)
	assert.Equal(t, uint64(50), res.Partitions["all"].Frames)
	assert.Equal(t, 1, res.Merged.Len())
	assert.Equal(t, uint64(5), res.Merged.Count(noise.ChannelID{Chip: 1, Row: 1, Col: 1}))
}
