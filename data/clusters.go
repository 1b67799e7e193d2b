// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/proio-org/go-proio"
)

// ExplicitPattern marks a cluster whose pattern follows in the event's
// Patterns entry instead of the topology dictionary.
const ExplicitPattern uint16 = 0xFFFF

// TopologyKey is the stream metadata key holding the topology dictionary.
const TopologyKey = "TopologyDictionary"

const clusterSize = 10

// Cluster is a compact cluster: an anchor pixel and a pattern reference.
type Cluster struct {
	Chip      uint32
	Row       uint16
	Col       uint16
	PatternID uint16
}

// Pattern is a fired-pixel bitmap relative to a cluster anchor, stored
// row-major with the most significant bit first.
type Pattern struct {
	RowSpan uint8
	ColSpan uint8
	Bits    []byte
}

// NewPattern builds a pattern from anchor-relative (row, col) offsets.
func NewPattern(offsets [][2]uint8) Pattern {
	var p Pattern
	for _, o := range offsets {
		if o[0]+1 > p.RowSpan {
			p.RowSpan = o[0] + 1
		}
		if o[1]+1 > p.ColSpan {
			p.ColSpan = o[1] + 1
		}
	}
	p.Bits = make([]byte, p.bitBytes())
	for _, o := range offsets {
		i := int(o[0])*int(p.ColSpan) + int(o[1])
		p.Bits[i/8] |= 0x80 >> uint(i%8)
	}
	return p
}

func (p Pattern) bitBytes() int {
	return (int(p.RowSpan)*int(p.ColSpan) + 7) / 8
}

// Offsets lists the fired pixels as (row, col) offsets from the anchor.
func (p Pattern) Offsets() [][2]uint8 {
	var out [][2]uint8
	for r := 0; r < int(p.RowSpan); r++ {
		for c := 0; c < int(p.ColSpan); c++ {
			i := r*int(p.ColSpan) + c
			if i/8 < len(p.Bits) && p.Bits[i/8]&(0x80>>uint(i%8)) != 0 {
				out = append(out, [2]uint8{uint8(r), uint8(c)})
			}
		}
	}
	return out
}

func (p Pattern) appendTo(buf []byte) []byte {
	buf = append(buf, p.RowSpan, p.ColSpan)
	bits := make([]byte, p.bitBytes())
	copy(bits, p.Bits)
	return append(buf, bits...)
}

func decodePattern(buf []byte) (Pattern, int, error) {
	if len(buf) < 2 {
		return Pattern{}, 0, fmt.Errorf("%w: truncated pattern header", ErrBadEntry)
	}
	p := Pattern{RowSpan: buf[0], ColSpan: buf[1]}
	n := 2 + p.bitBytes()
	if len(buf) < n {
		return Pattern{}, 0, fmt.Errorf("%w: truncated pattern %dx%d", ErrBadEntry, p.RowSpan, p.ColSpan)
	}
	p.Bits = append([]byte(nil), buf[2:n]...)
	return p, n, nil
}

func EncodePatterns(patterns []Pattern) []byte {
	var buf []byte
	for _, p := range patterns {
		buf = p.appendTo(buf)
	}
	return buf
}

func DecodePatterns(buf []byte) ([]Pattern, error) {
	var patterns []Pattern
	for len(buf) > 0 {
		p, n, err := decodePattern(buf)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
		buf = buf[n:]
	}
	return patterns, nil
}

func EncodeClusters(clusters []Cluster) []byte {
	buf := make([]byte, len(clusters)*clusterSize)
	for i, c := range clusters {
		rec := buf[i*clusterSize:]
		binary.BigEndian.PutUint32(rec[0:4], c.Chip)
		binary.BigEndian.PutUint16(rec[4:6], c.Row)
		binary.BigEndian.PutUint16(rec[6:8], c.Col)
		binary.BigEndian.PutUint16(rec[8:10], c.PatternID)
	}
	return buf
}

func DecodeClusters(buf []byte) ([]Cluster, error) {
	if len(buf)%clusterSize != 0 {
		return nil, fmt.Errorf("%w: cluster block of %d bytes", ErrBadEntry, len(buf))
	}
	clusters := make([]Cluster, len(buf)/clusterSize)
	for i := range clusters {
		rec := buf[i*clusterSize:]
		clusters[i] = Cluster{
			Chip:      binary.BigEndian.Uint32(rec[0:4]),
			Row:       binary.BigEndian.Uint16(rec[4:6]),
			Col:       binary.BigEndian.Uint16(rec[6:8]),
			PatternID: binary.BigEndian.Uint16(rec[8:10]),
		}
	}
	return clusters, nil
}

// TopologyDictionary maps pattern ids to the patterns of frequent cluster
// shapes.
type TopologyDictionary map[uint16]Pattern

// Marshal encodes the dictionary as (id u16, pattern) records in id order.
func (d TopologyDictionary) Marshal() []byte {
	ids := make([]int, 0, len(d))
	for id := range d {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var buf []byte
	for _, id := range ids {
		buf = append(buf, byte(id>>8), byte(id))
		buf = d[uint16(id)].appendTo(buf)
	}
	return buf
}

func UnmarshalTopologyDictionary(buf []byte) (TopologyDictionary, error) {
	d := make(TopologyDictionary)
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("%w: truncated dictionary id", ErrBadEntry)
		}
		id := binary.BigEndian.Uint16(buf)
		p, n, err := decodePattern(buf[2:])
		if err != nil {
			return nil, err
		}
		d[id] = p
		buf = buf[2+n:]
	}
	return d, nil
}

// NewClusterEvent builds an event holding compact clusters and the
// explicit patterns they reference, in order.
func NewClusterEvent(meta calib.BatchMeta, clusters []Cluster, patterns []Pattern) *proio.Event {
	event := proio.NewEvent()
	SetFrameInfo(event, meta)
	event.AddEntry(ClustersTag, &wrappers.BytesValue{Value: EncodeClusters(clusters)})
	if len(patterns) > 0 {
		event.AddEntry(PatternsTag, &wrappers.BytesValue{Value: EncodePatterns(patterns)})
	}
	return event
}

// ExpandClusters turns clusters into the pixels they fired. Explicit
// patterns are consumed from patterns in cluster order. A dictionary id
// that is unknown counts as the anchor pixel alone and is reported;
// clusters whose explicit pattern is missing or whose pixels leave the
// addressable range are reported and skipped.
func ExpandClusters(clusters []Cluster, patterns []Pattern, dict TopologyDictionary) ([]calib.Hit, []error) {
	var (
		hits []calib.Hit
		errs []error
		next int
	)
	for _, c := range clusters {
		var p Pattern
		switch {
		case c.PatternID == ExplicitPattern:
			if next >= len(patterns) {
				errs = append(errs, fmt.Errorf("%w: cluster at chip %d (%d,%d) has no explicit pattern", ErrBadEntry, c.Chip, c.Row, c.Col))
				continue
			}
			p = patterns[next]
			next++
		default:
			var ok bool
			p, ok = dict[c.PatternID]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: unknown topology %d at chip %d (%d,%d)", ErrBadEntry, c.PatternID, c.Chip, c.Row, c.Col))
				hits = append(hits, calib.Hit{Chip: c.Chip, Row: c.Row, Col: c.Col})
				continue
			}
		}

		offsets := p.Offsets()
		if int(c.Row)+int(p.RowSpan)-1 > 0xFFFF || int(c.Col)+int(p.ColSpan)-1 > 0xFFFF {
			errs = append(errs, fmt.Errorf("%w: cluster at chip %d (%d,%d) overflows pixel addressing", ErrBadEntry, c.Chip, c.Row, c.Col))
			continue
		}
		for _, o := range offsets {
			hits = append(hits, calib.Hit{
				Chip: c.Chip,
				Row:  c.Row + uint16(o[0]),
				Col:  c.Col + uint16(o[1]),
			})
		}
	}
	if next < len(patterns) {
		errs = append(errs, fmt.Errorf("%w: %d explicit patterns left unused", ErrBadEntry, len(patterns)-next))
	}
	return hits, errs
}
