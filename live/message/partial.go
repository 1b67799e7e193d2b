// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package message

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rditech/rdi-noisecal/calib"
	"github.com/rditech/rdi-noisecal/noise"

	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

const (
	PartialMapType = "partial noise map"
	DoneType       = "calibration done"
)

func queueKey(run string) string     { return "noisecal:" + run + ":partials" }
func submittedKey(run string) string { return "noisecal:" + run + ":submitted" }
func doneChannel(run string) string  { return "noisecal:" + run + ":done" }

// SendPartialMap queues the finalized map of one partition for the merger
// of run. A partition is accepted once per run; a repeat returns
// calib.ErrDuplicatePartition and queues nothing.
func SendPartialMap(client *redis.Client, run string, key calib.Key, m *noise.NoiseMap, summary calib.PartitionSummary) error {
	payload, err := noise.Marshal(m)
	if err != nil {
		return err
	}
	first, err := client.HSetNX(submittedKey(run), string(key), time.Now().UTC().Format(time.RFC3339)).Result()
	if err != nil {
		return err
	}
	if !first {
		return fmt.Errorf("%w: %q in run %s", calib.ErrDuplicatePartition, key, run)
	}

	msg := &Msg{
		Type: PartialMapType,
		Metadata: map[string]string{
			"run":       run,
			"partition": string(key),
			"frames":    strconv.FormatUint(summary.Frames, 10),
			"anomalies": strconv.FormatUint(summary.Anomalies, 10),
			"ready":     strconv.FormatBool(summary.Ready),
		},
		Payload: payload,
	}
	if err := PushJsonMsg(client, queueKey(run), msg); err != nil {
		client.HDel(submittedKey(run), string(key))
		return err
	}
	return nil
}

// CollectPartialMaps feeds queued partial maps of run into merger until it
// is complete. Unknown partitions are logged and skipped. A partition
// delivered twice or an undecodable payload aborts the collection, leaving
// the merger incomplete.
func CollectPartialMaps(ctx context.Context, client *redis.Client, run string, merger *calib.Merger, logger *zap.Logger) error {
	for !merger.IsComplete() {
		msg, err := PopJsonMsg(ctx, client, queueKey(run), time.Second)
		if err != nil {
			return err
		}
		if msg.Type != PartialMapType {
			logger.Warn("ignoring message", zap.String("type", msg.Type))
			continue
		}
		key := calib.Key(msg.Metadata["partition"])
		m, err := noise.Unmarshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("partition %q: %w", key, err)
		}

		err = merger.Submit(key, m)
		switch {
		case errors.Is(err, calib.ErrUnknownPartition):
			logger.Warn("rejected partial map", zap.String("partition", string(key)), zap.Error(err))
			continue
		case err != nil:
			logger.Error("partial map protocol violation", zap.String("partition", string(key)), zap.Error(err))
			return fmt.Errorf("run %s: %w", run, err)
		}
		logger.Info("partial map received",
			zap.String("partition", string(key)),
			zap.String("frames", msg.Metadata["frames"]),
			zap.Int("noisyChannels", m.Len()),
			zap.Int("remaining", len(merger.Missing())),
		)
	}
	return nil
}

// AnnounceDone tells everyone listening on run that the merged map has
// been published.
func AnnounceDone(client *redis.Client, run string, metadata map[string]string) error {
	return PublishJsonMsg(client, doneChannel(run), &Msg{Type: DoneType, Metadata: metadata})
}

// WaitDone blocks until run is announced done or ctx ends.
func WaitDone(ctx context.Context, client *redis.Client, run string, logger *zap.Logger) (*Msg, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs, err := ReceivePubSubMsgs(ctx, client, doneChannel(run), logger)
	if err != nil {
		return nil, err
	}
	for msg := range msgs {
		if msg.Type == DoneType {
			return msg, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("done channel closed")
}

// ResetRun forgets the partitions submitted to run and drops its queue.
func ResetRun(client *redis.Client, run string) error {
	return client.Del(queueKey(run), submittedKey(run)).Err()
}
