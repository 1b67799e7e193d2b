// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package calib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadrantTable() PartitionTable {
	return PartitionTable{Partitions: map[Key][]ChipRange{
		"h0-f0": {{First: 0, Last: 9}},
		"h0-f1": {{First: 10, Last: 19}},
		"h1-f0": {{First: 20, Last: 29}},
		"h1-f1": {{First: 30, Last: 39}, {First: 100, Last: 100}},
	}}
}

func TestTableRouter_Route(t *testing.T) {
	t.Parallel()

	r, err := NewTableRouter(quadrantTable())
	require.NoError(t, err)

	for chip, want := range map[uint32]Key{0: "h0-f0", 19: "h0-f1", 25: "h1-f0", 39: "h1-f1", 100: "h1-f1"} {
		got, err := r.Route(chip)
		require.NoError(t, err)
		assert.Equal(t, want, got, "chip %d", chip)
	}

	_, err = r.Route(40)
	assert.ErrorIs(t, err, ErrUnroutable)
	assert.Equal(t, []Key{"h0-f0", "h0-f1", "h1-f0", "h1-f1"}, r.Keys())
}

func TestNewTableRouter_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewTableRouter(PartitionTable{Partitions: map[Key][]ChipRange{
		"a": {{First: 0, Last: 5}},
		"b": {{First: 5, Last: 8}},
	}})
	assert.Error(t, err)

	_, err = NewTableRouter(PartitionTable{Partitions: map[Key][]ChipRange{
		"a": {{First: 5, Last: 1}},
	}})
	assert.Error(t, err)

	_, err = NewTableRouter(PartitionTable{Partitions: map[Key][]ChipRange{
		"": {{First: 0, Last: 1}},
	}})
	assert.Error(t, err)
}

func TestLoadPartitionTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "partitions.json")
	raw := `{"partitions": {"left": [{"first": 0, "last": 3}], "right": [{"first": 4, "last": 7}]}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	r, err := LoadPartitionTable(path)
	require.NoError(t, err)
	assert.Equal(t, []Key{"left", "right"}, r.Keys())
	key, err := r.Route(6)
	require.NoError(t, err)
	assert.Equal(t, Key("right"), key)

	_, err = LoadPartitionTable(filepath.Join(dir, "partitions.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"partitions": {}}`), 0o644))
	_, err = LoadPartitionTable(empty)
	assert.Error(t, err)
}

func TestSplitter_Split(t *testing.T) {
	t.Parallel()

	r, err := NewTableRouter(quadrantTable())
	require.NoError(t, err)
	s := &Splitter{Router: r, Partitions: []Key{"h0-f0", "h0-f1", "h1-f0"}}

	subs, errs := s.Split(Batch{
		Meta: BatchMeta{FrameID: 7, Frames: 3},
		Hits: []Hit{
			{Chip: 1, Row: 1, Col: 1},
			{Chip: 12},
			{Chip: 35},
			{Chip: 2, Row: 9},
			{Chip: 500},
		},
	})
	assert.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnroutable)
	}

	want := map[Key]Batch{
		"h0-f0": {Meta: BatchMeta{FrameID: 7, Frames: 3}, Hits: []Hit{{Chip: 1, Row: 1, Col: 1}, {Chip: 2, Row: 9}}},
		"h0-f1": {Meta: BatchMeta{FrameID: 7, Frames: 3}, Hits: []Hit{{Chip: 12}}},
		"h1-f0": {Meta: BatchMeta{FrameID: 7, Frames: 3}},
	}
	if diff := cmp.Diff(want, subs); diff != "" {
		t.Errorf("split mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleRouter(t *testing.T) {
	t.Parallel()

	key, err := SingleRouter{Key: "all"}.Route(12345)
	require.NoError(t, err)
	assert.Equal(t, Key("all"), key)
}
