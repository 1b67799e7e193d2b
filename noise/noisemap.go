// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package noise holds the per-pixel hit accumulator used for noisy pixel
// calibration, together with its canonical serialized form.
//
// A NoiseMap starts out counting hits. Classify turns it into a read-only
// map of noisy pixels; Merge sums two maps of the same state and is
// associative and commutative, so partial maps can be combined in any order.
package noise

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrClassified     = errors.New("noise map already classified")
	ErrMixedState     = errors.New("cannot merge classified and unclassified noise maps")
)

type NoiseMap struct {
	Geometry   Geometry
	Classified bool

	chips map[uint32]map[Pixel]uint64
}

// New returns an empty, unclassified map. A zero Geometry selects
// DefaultGeometry.
func New(g Geometry) *NoiseMap {
	if g == (Geometry{}) {
		g = DefaultGeometry
	}
	return &NoiseMap{
		Geometry: g,
		chips:    make(map[uint32]map[Pixel]uint64),
	}
}

func (m *NoiseMap) Increment(c ChannelID) error {
	if m.Classified {
		return ErrClassified
	}
	if !m.Geometry.Contains(c) {
		return fmt.Errorf("%w: %v", ErrInvalidChannel, c)
	}
	m.add(c.Chip, c.Pixel(), 1)
	return nil
}

func (m *NoiseMap) add(chip uint32, p Pixel, n uint64) {
	if m.chips == nil {
		m.chips = make(map[uint32]map[Pixel]uint64)
	}
	pixels := m.chips[chip]
	if pixels == nil {
		pixels = make(map[Pixel]uint64)
		m.chips[chip] = pixels
	}
	pixels[p] += n
}

func (m *NoiseMap) Count(c ChannelID) uint64 {
	return m.chips[c.Chip][c.Pixel()]
}

// Classify keeps only the channels whose empirical noise probability
// count/totalSamples reaches probabilityThreshold, and marks the map
// classified. Applying it again with the same arguments changes nothing.
func (m *NoiseMap) Classify(probabilityThreshold float64, totalSamples uint64) {
	minCount := probabilityThreshold * float64(totalSamples)
	for chip, pixels := range m.chips {
		for p, n := range pixels {
			if float64(n) < minCount {
				delete(pixels, p)
			}
		}
		if len(pixels) == 0 {
			delete(m.chips, chip)
		}
	}
	m.Classified = true
}

// Merge adds the counts of other into m. Both maps must be in the same
// state; a classified result keeps the union of noisy channels.
func (m *NoiseMap) Merge(other *NoiseMap) error {
	if other == nil {
		return nil
	}
	if m.Classified != other.Classified {
		return ErrMixedState
	}
	for chip, pixels := range other.chips {
		for p, n := range pixels {
			m.add(chip, p, n)
		}
	}
	return nil
}

// Merged folds parts into a fresh map. The inputs are left untouched.
func Merged(g Geometry, parts ...*NoiseMap) (*NoiseMap, error) {
	out := New(g)
	first := true
	for _, nm := range parts {
		if nm == nil {
			continue
		}
		if first {
			out.Classified = nm.Classified
			first = false
		}
		if err := out.Merge(nm); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ChipView returns a copy of the entries recorded for one chip.
func (m *NoiseMap) ChipView(chip uint32) map[Pixel]uint64 {
	pixels := m.chips[chip]
	view := make(map[Pixel]uint64, len(pixels))
	for p, n := range pixels {
		view[p] = n
	}
	return view
}

// Chips returns the chip ids present in the map in ascending order.
func (m *NoiseMap) Chips() []uint32 {
	ids := maps.Keys(m.chips)
	slices.Sort(ids)
	return ids
}

func (m *NoiseMap) sortedPixels(chip uint32) []Pixel {
	pixels := m.chips[chip]
	out := make([]Pixel, 0, len(pixels))
	for p := range pixels {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Channels visits every recorded channel in canonical order.
func (m *NoiseMap) Channels(fn func(c ChannelID, count uint64)) {
	for _, chip := range m.Chips() {
		pixels := m.chips[chip]
		for _, p := range m.sortedPixels(chip) {
			fn(ChannelID{Chip: chip, Row: p.Row, Col: p.Col}, pixels[p])
		}
	}
}

// Len is the number of recorded channels.
func (m *NoiseMap) Len() int {
	n := 0
	for _, pixels := range m.chips {
		n += len(pixels)
	}
	return n
}

func (m *NoiseMap) Clone() *NoiseMap {
	c := New(m.Geometry)
	c.Classified = m.Classified
	for chip, pixels := range m.chips {
		cp := make(map[Pixel]uint64, len(pixels))
		for p, n := range pixels {
			cp[p] = n
		}
		c.chips[chip] = cp
	}
	return c
}

// Equal compares state and entries; geometry is not compared.
func (m *NoiseMap) Equal(o *NoiseMap) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Classified != o.Classified || len(m.chips) != len(o.chips) {
		return false
	}
	for chip, pixels := range m.chips {
		other, ok := o.chips[chip]
		if !ok || len(other) != len(pixels) {
			return false
		}
		for p, n := range pixels {
			if other[p] != n {
				return false
			}
		}
	}
	return true
}

type Occupancy struct {
	Channels int
	Mean     float64
	StdDev   float64
	Max      float64
}

// Occupancy summarizes the per-channel hit probability over totalSamples
// frames.
func (m *NoiseMap) Occupancy(totalSamples uint64) Occupancy {
	occ := Occupancy{Channels: m.Len()}
	if totalSamples == 0 || occ.Channels == 0 {
		return occ
	}
	probs := make([]float64, 0, occ.Channels)
	m.Channels(func(_ ChannelID, n uint64) {
		p := float64(n) / float64(totalSamples)
		probs = append(probs, p)
		if p > occ.Max {
			occ.Max = p
		}
	})
	if len(probs) == 1 {
		occ.Mean = probs[0]
		return occ
	}
	occ.Mean, occ.StdDev = stat.MeanStdDev(probs, nil)
	return occ
}
