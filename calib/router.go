// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key names a partition, e.g. "h0-f1".
type Key string

var ErrUnroutable = errors.New("chip does not belong to any partition")

// Router resolves a chip index to the partition that owns it.
type Router interface {
	Route(chip uint32) (Key, error)
}

// SingleRouter sends every chip to one partition.
type SingleRouter struct {
	Key Key
}

func (r SingleRouter) Route(uint32) (Key, error) {
	return r.Key, nil
}

type ChipRange struct {
	First uint32 `json:"first"`
	Last  uint32 `json:"last"`
}

// PartitionTable is the on-disk form of a TableRouter.
type PartitionTable struct {
	Partitions map[Key][]ChipRange `json:"partitions"`
}

// TableRouter routes chips through an explicit chip to partition table.
type TableRouter struct {
	chips map[uint32]Key
	keys  []Key
}

func NewTableRouter(table PartitionTable) (*TableRouter, error) {
	r := &TableRouter{chips: make(map[uint32]Key)}
	for key, ranges := range table.Partitions {
		if key == "" {
			return nil, errors.New("partition table: empty partition key")
		}
		r.keys = append(r.keys, key)
		for _, cr := range ranges {
			if cr.Last < cr.First {
				return nil, fmt.Errorf("partition table: %q: range %d-%d is reversed", key, cr.First, cr.Last)
			}
			for chip := cr.First; ; chip++ {
				if prev, ok := r.chips[chip]; ok {
					return nil, fmt.Errorf("partition table: chip %d in both %q and %q", chip, prev, key)
				}
				r.chips[chip] = key
				if chip == cr.Last {
					break
				}
			}
		}
	}
	sortKeys(r.keys)
	return r, nil
}

func (r *TableRouter) Route(chip uint32) (Key, error) {
	key, ok := r.chips[chip]
	if !ok {
		return "", fmt.Errorf("%w: chip %d", ErrUnroutable, chip)
	}
	return key, nil
}

// Keys returns the partitions named by the table, sorted.
func (r *TableRouter) Keys() []Key {
	return append([]Key(nil), r.keys...)
}

const maxTableSize = 1 << 20

// LoadPartitionTable reads a JSON partition table from path.
func LoadPartitionTable(path string) (*TableRouter, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("partition table must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat partition table: %w", err)
	}
	if info.Size() > maxTableSize {
		return nil, fmt.Errorf("partition table too large: %d bytes (max %d)", info.Size(), maxTableSize)
	}
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table: %w", err)
	}
	var table PartitionTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse partition table: %w", err)
	}
	if len(table.Partitions) == 0 {
		return nil, errors.New("partition table defines no partitions")
	}
	return NewTableRouter(table)
}

// Splitter breaks a batch into one sub-batch per partition. Every expected
// partition receives the full frame count, hits or not.
type Splitter struct {
	Router     Router
	Partitions []Key
}

// Split returns the per-partition batches and the hits that could not be
// routed to an expected partition.
func (s *Splitter) Split(b Batch) (map[Key]Batch, []error) {
	out := make(map[Key]Batch, len(s.Partitions))
	for _, k := range s.Partitions {
		out[k] = Batch{Meta: b.Meta}
	}

	var errs []error
	for _, h := range b.Hits {
		key, err := s.Router.Route(h.Chip)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sub, ok := out[key]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: chip %d routed to unexpected %q", ErrUnroutable, h.Chip, key))
			continue
		}
		sub.Hits = append(sub.Hits, h)
		out[key] = sub
	}
	return out, errs
}
