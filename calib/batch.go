// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"io"

	"github.com/rditech/rdi-noisecal/noise"
)

// Hit is one fired pixel as delivered by the decoder.
type Hit struct {
	Chip uint32
	Row  uint16
	Col  uint16
}

func (h Hit) Channel() noise.ChannelID {
	return noise.ChannelID{Chip: h.Chip, Row: h.Row, Col: h.Col}
}

// BatchMeta describes the acquisition frames a batch was built from.
type BatchMeta struct {
	FrameID uint64
	Frames  uint64
}

type Batch struct {
	Meta BatchMeta
	Hits []Hit
}

// BatchSource yields hit batches in acquisition order. Next returns io.EOF
// once the stream is exhausted.
type BatchSource interface {
	Next(ctx context.Context) (Batch, error)
}

// SliceSource replays a fixed list of batches.
type SliceSource struct {
	Batches []Batch
	pos     int
}

func (s *SliceSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if s.pos >= len(s.Batches) {
		return Batch{}, io.EOF
	}
	b := s.Batches[s.pos]
	s.pos++
	return b, nil
}
