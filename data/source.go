// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"io"
	"sync"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/proio-org/go-proio"
	"go.uber.org/zap"
)

// Decoder extracts the fired pixels of one event. Errors describe data
// that was skipped; the returned hits are still usable.
type Decoder interface {
	Decode(event *proio.Event) ([]calib.Hit, []error)
}

type DigitDecoder struct{}

func (DigitDecoder) Decode(event *proio.Event) ([]calib.Hit, []error) {
	buf, err := taggedBytes(event, DigitsTag)
	if err != nil {
		return nil, []error{err}
	}
	hits, err := DecodeDigits(buf)
	if err != nil {
		return nil, []error{err}
	}
	return hits, nil
}

// ClusterDecoder expands compact clusters. Without an explicit Dictionary
// the one carried in the stream metadata is used.
type ClusterDecoder struct {
	Dictionary TopologyDictionary

	mu       sync.Mutex
	fromMeta []byte
	metaDict TopologyDictionary
}

func (d *ClusterDecoder) dictionary(event *proio.Event) (TopologyDictionary, error) {
	if d.Dictionary != nil {
		return d.Dictionary, nil
	}
	raw := event.Metadata[TopologyKey]

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.metaDict != nil && string(raw) == string(d.fromMeta) {
		return d.metaDict, nil
	}
	dict, err := UnmarshalTopologyDictionary(raw)
	if err != nil {
		return nil, err
	}
	d.fromMeta = append([]byte(nil), raw...)
	d.metaDict = dict
	return dict, nil
}

func (d *ClusterDecoder) Decode(event *proio.Event) ([]calib.Hit, []error) {
	var errs []error
	dict, err := d.dictionary(event)
	if err != nil {
		errs = append(errs, err)
	}

	buf, err := taggedBytes(event, ClustersTag)
	if err != nil {
		return nil, append(errs, err)
	}
	clusters, err := DecodeClusters(buf)
	if err != nil {
		return nil, append(errs, err)
	}
	buf, err = taggedBytes(event, PatternsTag)
	if err != nil {
		return nil, append(errs, err)
	}
	patterns, err := DecodePatterns(buf)
	if err != nil {
		return nil, append(errs, err)
	}

	hits, expandErrs := ExpandClusters(clusters, patterns, dict)
	return hits, append(errs, expandErrs...)
}

// EventSource adapts a proio event stream to calib.BatchSource. Each event
// becomes one batch.
type EventSource struct {
	Events  <-chan *proio.Event
	Decoder Decoder
	// Reader, when set, is consulted for a read error once Events closes.
	Reader *proio.Reader
	Logger *zap.Logger

	nEvents   uint64
	nextFrame uint64
	anomalies uint64
}

// NewReaderSource scans events from reader bufSize at a time.
func NewReaderSource(reader *proio.Reader, decoder Decoder, bufSize int, logger *zap.Logger) *EventSource {
	return &EventSource{
		Events:  reader.ScanEvents(bufSize),
		Decoder: decoder,
		Reader:  reader,
		Logger:  logger,
	}
}

func (s *EventSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *EventSource) Next(ctx context.Context) (calib.Batch, error) {
	var event *proio.Event
	select {
	case <-ctx.Done():
		return calib.Batch{}, ctx.Err()
	case e, ok := <-s.Events:
		if !ok {
			if s.Reader != nil && s.Reader.Err != nil && s.Reader.Err != io.EOF {
				return calib.Batch{}, s.Reader.Err
			}
			return calib.Batch{}, io.EOF
		}
		event = e
	}
	s.nEvents++

	meta, ok := FrameInfo(event)
	if !ok {
		meta.FrameID = s.nextFrame
	}
	s.nextFrame = meta.FrameID + meta.Frames

	hits, errs := s.Decoder.Decode(event)
	for _, err := range errs {
		s.anomalies++
		s.logger().Warn("skipping malformed hit data",
			zap.Uint64("event", s.nEvents),
			zap.Uint64("frame", meta.FrameID),
			zap.Error(err),
		)
	}
	return calib.Batch{Meta: meta, Hits: hits}, nil
}

// Anomalies is the number of decode errors seen so far.
func (s *EventSource) Anomalies() uint64 { return s.anomalies }

// ClusterExpander rewrites cluster events into digit events.
type ClusterExpander struct {
	Decoder *ClusterDecoder
	Logger  *zap.Logger
}

func (x *ClusterExpander) ExpandEvent(event *proio.Event) {
	if len(event.TaggedEntries(ClustersTag)) == 0 {
		return
	}
	hits, errs := x.Decoder.Decode(event)
	for _, err := range errs {
		if x.Logger != nil {
			x.Logger.Warn("cluster expansion", zap.Error(err))
		}
	}
	for _, tag := range []string{ClustersTag, PatternsTag} {
		for _, id := range event.TaggedEntries(tag) {
			event.RemoveEntry(id)
		}
	}
	event.AddEntry(DigitsTag, &wrappers.BytesValue{Value: EncodeDigits(hits)})
}
