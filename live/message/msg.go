// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package message moves partial noise maps and run notifications between
// calibration processes over redis.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

type Msg struct {
	Type     string
	Metadata map[string]string
	Payload  []byte
}

func PublishJsonMsg(client *redis.Client, channel string, msg *Msg) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.Publish(channel, string(msgBytes)).Err()
}

// PushJsonMsg appends msg to a redis list used as a work queue.
func PushJsonMsg(client *redis.Client, queue string, msg *Msg) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.RPush(queue, string(msgBytes)).Err()
}

// PopJsonMsg blocks until a message is queued or ctx is done. poll bounds
// each blocking call so cancellation is noticed.
func PopJsonMsg(ctx context.Context, client *redis.Client, queue string, poll time.Duration) (*Msg, error) {
	if poll <= 0 {
		poll = time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := client.BLPop(poll, queue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		// res holds the queue name then the value.
		var msg Msg
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

// ReceivePubSubMsgs delivers the JSON messages published on channel until
// ctx is done. The returned channel is closed when listening stops.
func ReceivePubSubMsgs(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (<-chan *Msg, error) {
	sub := client.Subscribe(channel)
	if _, err := sub.Receive(); err != nil {
		sub.Close()
		return nil, err
	}

	msgs := make(chan *Msg)
	go func() {
		defer close(msgs)
		defer sub.Close()

		logger.Debug("listening for messages", zap.String("channel", channel))
		defer logger.Debug("done listening for messages", zap.String("channel", channel))

		incoming := sub.ChannelSize(10)
		for {
			select {
			case m, ok := <-incoming:
				if !ok {
					return
				}
				var msg Msg
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logger.Warn("dropping undecodable message", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case msgs <- &msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return msgs, nil
}

// ErrNoRedisAddr is returned by ConnectShared when no server address is
// configured.
var ErrNoRedisAddr = errors.New("no redis address configured, set REDIS_ADDR")

// ConnectShared opens a client to a server other processes can reach too.
// There is no in-process fallback: an empty addr is ErrNoRedisAddr.
func ConnectShared(addr string, logger *zap.Logger) (*redis.Client, func(), error) {
	if addr == "" {
		return nil, nil, ErrNoRedisAddr
	}
	return Connect(addr, logger)
}

// Connect opens a client to addr. An empty addr starts an in-process
// miniredis server instead, which is stopped by the returned cleanup; it
// only serves a single process.
func Connect(addr string, logger *zap.Logger) (*redis.Client, func(), error) {
	stop := func() {}
	if addr == "" {
		s, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		logger.Info("no redis address given, started miniredis", zap.String("addr", s.Addr()))
		addr = s.Addr()
		stop = s.Close
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		stop()
		return nil, nil, err
	}
	logger.Info("connected to redis", zap.String("addr", addr))
	return client, func() {
		client.Close()
		stop()
	}, nil
}
