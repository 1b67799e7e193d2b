// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rditech/rdi-noisecal/calib"
	"github.com/rditech/rdi-noisecal/ccdb"
	"github.com/rditech/rdi-noisecal/live/message"
	"github.com/rditech/rdi-noisecal/noise"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setup points the flags at a two partition table and a fresh file store,
// and returns the store directory.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	table := filepath.Join(dir, "partitions.json")
	raw := `{"partitions": {"h0": [{"first": 0, "last": 9}], "h1": [{"first": 10, "last": 19}]}}`
	require.NoError(t, os.WriteFile(table, []byte(raw), 0o644))

	storeDir := filepath.Join(dir, "ccdb")
	*partitions = table
	*storeURL = "file://" + storeDir
	*objPath = ccdb.DefaultPath
	*meta = "site=CERN"
	*reset = false
	return storeDir
}

func classified(t *testing.T, counts map[noise.ChannelID]uint64) *noise.NoiseMap {
	t.Helper()
	m := noise.New(noise.DefaultGeometry)
	for c, n := range counts {
		for i := uint64(0); i < n; i++ {
			require.NoError(t, m.Increment(c))
		}
	}
	m.Classify(0, 1)
	return m
}

func TestMerge_RequiresSharedRedis(t *testing.T) {
	setup(t)
	t.Setenv("REDIS_ADDR", "")

	err := merge(context.Background(), "run1", zap.NewNop())
	assert.ErrorIs(t, err, message.ErrNoRedisAddr)

	require.NoError(t, flag.CommandLine.Parse([]string{"run1"}))
	assert.Equal(t, 1, execute())
}

func TestMerge_Publishes(t *testing.T) {
	storeDir := setup(t)
	s := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", s.Addr())

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	require.NoError(t, message.SendPartialMap(client, "run1", "h0", classified(t, map[noise.ChannelID]uint64{{Chip: 5}: 10}), calib.PartitionSummary{}))
	require.NoError(t, message.SendPartialMap(client, "run1", "h1", classified(t, map[noise.ChannelID]uint64{{Chip: 5}: 5, {Chip: 12}: 3}), calib.PartitionSummary{}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, merge(ctx, "run1", zap.NewNop()))

	store, err := ccdb.NewFileStore(storeDir)
	require.NoError(t, err)
	m, info, err := ccdb.Fetch(ctx, store, ccdb.DefaultPath, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, uint64(15), m.Count(noise.ChannelID{Chip: 5}))
	assert.Equal(t, uint64(3), m.Count(noise.ChannelID{Chip: 12}))
	run, ok := info.Metadata.Get("run")
	assert.True(t, ok)
	assert.Equal(t, "run1", run)
}

func TestMerge_DuplicateDoesNotPublish(t *testing.T) {
	storeDir := setup(t)
	s := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", s.Addr())

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	m := classified(t, map[noise.ChannelID]uint64{{Chip: 5}: 10})
	require.NoError(t, message.SendPartialMap(client, "run2", "h0", m, calib.PartitionSummary{}))
	// Forget the submission so the same partition is queued again.
	require.NoError(t, client.Del("noisecal:run2:submitted").Err())
	require.NoError(t, message.SendPartialMap(client, "run2", "h0", m, calib.PartitionSummary{}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := merge(ctx, "run2", zap.NewNop())
	assert.ErrorIs(t, err, calib.ErrDuplicatePartition)

	store, err := ccdb.NewFileStore(storeDir)
	require.NoError(t, err)
	infos, err := store.List(ctx, ccdb.DefaultPath)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
