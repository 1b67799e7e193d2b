// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"fmt"

	"github.com/rditech/rdi-noisecal/noise"

	"golang.org/x/exp/slices"
)

var (
	ErrDuplicatePartition = errors.New("duplicate partition submission")
	ErrUnknownPartition   = errors.New("unexpected partition")
	ErrNotReady           = errors.New("merge requested before all partitions were submitted")
	ErrNilNoiseMap        = errors.New("nil noise map submitted")
)

// Merger collects one finalized map per expected partition. It is not safe
// for concurrent use; the pipeline feeds it from a single goroutine.
type Merger struct {
	geometry noise.Geometry
	expected map[Key]bool
	maps     map[Key]*noise.NoiseMap
}

func NewMerger(g noise.Geometry, expected []Key) *Merger {
	m := &Merger{
		geometry: g,
		expected: make(map[Key]bool, len(expected)),
		maps:     make(map[Key]*noise.NoiseMap, len(expected)),
	}
	for _, k := range expected {
		m.expected[k] = true
	}
	return m
}

// Submit takes ownership of nm. A second submission for the same key is
// rejected and leaves the first one in place. A nil map is rejected; a
// partition without hits submits an empty map in the state of its peers.
func (m *Merger) Submit(key Key, nm *noise.NoiseMap) error {
	if !m.expected[key] {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, key)
	}
	if _, ok := m.maps[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicatePartition, key)
	}
	if nm == nil {
		return fmt.Errorf("%w: %q", ErrNilNoiseMap, key)
	}
	m.maps[key] = nm
	return nil
}

func (m *Merger) IsComplete() bool {
	return len(m.maps) == len(m.expected)
}

// Missing lists the expected keys not yet submitted, sorted.
func (m *Merger) Missing() []Key {
	var missing []Key
	for k := range m.expected {
		if _, ok := m.maps[k]; !ok {
			missing = append(missing, k)
		}
	}
	sortKeys(missing)
	return missing
}

// Submitted returns the map stored for key, if any.
func (m *Merger) Submitted(key Key) (*noise.NoiseMap, bool) {
	nm, ok := m.maps[key]
	return nm, ok
}

// MergedResult unions all submitted maps into a new global map.
func (m *Merger) MergedResult() (*noise.NoiseMap, error) {
	if !m.IsComplete() {
		return nil, fmt.Errorf("%w: missing %v", ErrNotReady, m.Missing())
	}
	keys := make([]Key, 0, len(m.maps))
	for k := range m.maps {
		keys = append(keys, k)
	}
	sortKeys(keys)

	maps := make([]*noise.NoiseMap, len(keys))
	for i, k := range keys {
		maps[i] = m.maps[k]
	}
	merged, err := noise.Merged(m.geometry, maps...)
	if err != nil {
		return nil, fmt.Errorf("merging partitions: %w", err)
	}
	return merged, nil
}

func sortKeys(keys []Key) {
	slices.Sort(keys)
}
