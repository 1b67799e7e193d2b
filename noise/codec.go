// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package noise

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	codecMagic   = "NMAP"
	codecVersion = 1

	flagClassified = 1 << 0
)

var ErrBadPayload = errors.New("malformed noise map payload")

type header struct {
	Version uint8
	Flags   uint8
	Chips   uint32
	Rows    uint16
	Cols    uint16
	NChips  uint32
}

type chipHeader struct {
	Chip    uint32
	NPixels uint32
}

type pixelRecord struct {
	Row   uint16
	Col   uint16
	Count uint64
}

// Marshal serializes m in canonical order (chip, row, column) so equal maps
// always produce identical bytes.
func Marshal(m *NoiseMap) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(gz)

	h := header{
		Version: codecVersion,
		Chips:   m.Geometry.Chips,
		Rows:    m.Geometry.Rows,
		Cols:    m.Geometry.Cols,
	}
	if m.Classified {
		h.Flags |= flagClassified
	}
	chips := m.Chips()
	h.NChips = uint32(len(chips))

	if _, err := w.WriteString(codecMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, &h); err != nil {
		return nil, err
	}
	for _, chip := range chips {
		pixels := m.sortedPixels(chip)
		ch := chipHeader{Chip: chip, NPixels: uint32(len(pixels))}
		if err := binary.Write(w, binary.BigEndian, &ch); err != nil {
			return nil, err
		}
		counts := m.chips[chip]
		for _, p := range pixels {
			rec := pixelRecord{Row: p.Row, Col: p.Col, Count: counts[p]}
			if err := binary.Write(w, binary.BigEndian, &rec); err != nil {
				return nil, err
			}
		}
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(payload []byte) (*NoiseMap, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	defer gz.Close()
	r := bufio.NewReader(gz)

	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadPayload)
	}
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadPayload, err)
	}
	if h.Version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadPayload, h.Version)
	}

	m := New(Geometry{Chips: h.Chips, Rows: h.Rows, Cols: h.Cols})
	m.Classified = h.Flags&flagClassified != 0

	for i := uint32(0); i < h.NChips; i++ {
		var ch chipHeader
		if err := binary.Read(r, binary.BigEndian, &ch); err != nil {
			return nil, fmt.Errorf("%w: chip %d: %v", ErrBadPayload, i, err)
		}
		if _, dup := m.chips[ch.Chip]; dup {
			return nil, fmt.Errorf("%w: chip %d repeated", ErrBadPayload, ch.Chip)
		}
		if !m.Geometry.Contains(ChannelID{Chip: ch.Chip}) {
			return nil, fmt.Errorf("%w: chip %d outside %v", ErrBadPayload, ch.Chip, m.Geometry)
		}
		if uint64(ch.NPixels) > uint64(m.Geometry.Rows)*uint64(m.Geometry.Cols) {
			return nil, fmt.Errorf("%w: chip %d lists %d pixels", ErrBadPayload, ch.Chip, ch.NPixels)
		}
		pixels := make(map[Pixel]uint64, ch.NPixels)
		for j := uint32(0); j < ch.NPixels; j++ {
			var rec pixelRecord
			if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
				return nil, fmt.Errorf("%w: chip %d pixel %d: %v", ErrBadPayload, ch.Chip, j, err)
			}
			c := ChannelID{Chip: ch.Chip, Row: rec.Row, Col: rec.Col}
			if !m.Geometry.Contains(c) {
				return nil, fmt.Errorf("%w: %v outside %v", ErrBadPayload, c, m.Geometry)
			}
			p := c.Pixel()
			if _, dup := pixels[p]; dup {
				return nil, fmt.Errorf("%w: %v repeated", ErrBadPayload, c)
			}
			pixels[p] = rec.Count
		}
		if len(pixels) > 0 {
			m.chips[ch.Chip] = pixels
		}
	}
	return m, nil
}
