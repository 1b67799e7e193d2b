// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/proio-org/go-proio"
)

// Entry tags of a hit event. Each event covers FrameCount consecutive
// frames starting at FrameID and carries either a Digits entry or Clusters
// (plus Patterns) entries.
const (
	FrameIDTag    = "FrameID"
	FrameCountTag = "FrameCount"
	DigitsTag     = "Digits"
	ClustersTag   = "Clusters"
	PatternsTag   = "Patterns"
)

const digitSize = 8

var ErrBadEntry = errors.New("malformed hit entry")

// EncodeDigits packs hits as big-endian (chip u32, row u16, col u16)
// records.
func EncodeDigits(hits []calib.Hit) []byte {
	buf := make([]byte, len(hits)*digitSize)
	for i, h := range hits {
		rec := buf[i*digitSize:]
		binary.BigEndian.PutUint32(rec[0:4], h.Chip)
		binary.BigEndian.PutUint16(rec[4:6], h.Row)
		binary.BigEndian.PutUint16(rec[6:8], h.Col)
	}
	return buf
}

func DecodeDigits(buf []byte) ([]calib.Hit, error) {
	if len(buf)%digitSize != 0 {
		return nil, fmt.Errorf("%w: digit block of %d bytes", ErrBadEntry, len(buf))
	}
	hits := make([]calib.Hit, len(buf)/digitSize)
	for i := range hits {
		rec := buf[i*digitSize:]
		hits[i] = calib.Hit{
			Chip: binary.BigEndian.Uint32(rec[0:4]),
			Row:  binary.BigEndian.Uint16(rec[4:6]),
			Col:  binary.BigEndian.Uint16(rec[6:8]),
		}
	}
	return hits, nil
}

// NewDigitEvent builds an event holding the frame description and the
// packed digits.
func NewDigitEvent(meta calib.BatchMeta, hits []calib.Hit) *proio.Event {
	event := proio.NewEvent()
	SetFrameInfo(event, meta)
	event.AddEntry(DigitsTag, &wrappers.BytesValue{Value: EncodeDigits(hits)})
	return event
}

func SetFrameInfo(event *proio.Event, meta calib.BatchMeta) {
	event.AddEntry(FrameIDTag, &wrappers.UInt64Value{Value: meta.FrameID})
	event.AddEntry(FrameCountTag, &wrappers.UInt32Value{Value: uint32(meta.Frames)})
}

// FrameInfo reads the frame description of an event. A missing frame count
// means a single frame; ok is false when the event has no frame id.
func FrameInfo(event *proio.Event) (meta calib.BatchMeta, ok bool) {
	meta.Frames = 1
	for _, id := range event.TaggedEntries(FrameIDTag) {
		if v, isUint := event.GetEntry(id).(*wrappers.UInt64Value); isUint {
			meta.FrameID = v.Value
			ok = true
		}
	}
	for _, id := range event.TaggedEntries(FrameCountTag) {
		if v, isUint := event.GetEntry(id).(*wrappers.UInt32Value); isUint {
			meta.Frames = uint64(v.Value)
		}
	}
	return
}

// taggedBytes concatenates the payloads of every BytesValue entry under
// tag.
func taggedBytes(event *proio.Event, tag string) ([]byte, error) {
	var out []byte
	for _, id := range event.TaggedEntries(tag) {
		v, ok := event.GetEntry(id).(*wrappers.BytesValue)
		if !ok {
			err := event.Err
			event.Err = nil
			if err == nil {
				err = fmt.Errorf("%w: %s entry %d is not a byte block", ErrBadEntry, tag, id)
			}
			return nil, err
		}
		out = append(out, v.Value...)
	}
	return out, nil
}

// KeepOnlyDigits strips every entry except the frame description and
// digits.
func KeepOnlyDigits(event *proio.Event) {
	keep := make(map[uint64]bool)
	for _, tag := range []string{FrameIDTag, FrameCountTag, DigitsTag} {
		for _, id := range event.TaggedEntries(tag) {
			keep[id] = true
		}
	}
	for _, id := range event.AllEntries() {
		if !keep[id] {
			event.RemoveEntry(id)
		}
	}
}
