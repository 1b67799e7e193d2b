// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"io"

	"github.com/go-redis/redis"
	"github.com/proio-org/go-proio"
)

// PubSubWriter publishes every write as one message on a redis channel.
type PubSubWriter struct {
	Redis   *redis.Client
	Channel string
}

func (w *PubSubWriter) Write(p []byte) (int, error) {
	if err := w.Redis.Publish(w.Channel, string(p)).Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// PubSubReader reads the concatenated payloads of a redis subscription.
// It reports io.EOF when the subscription closes or Ctx is done.
type PubSubReader struct {
	Messages <-chan *redis.Message
	Ctx      context.Context
	pending  []byte
}

func (r *PubSubReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		select {
		case msg, ok := <-r.Messages:
			if !ok || msg == nil {
				return 0, io.EOF
			}
			r.pending = []byte(msg.Payload)
		case <-r.Ctx.Done():
			return 0, io.EOF
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// CreateRedisReader subscribes to channel on the redis server at addr and
// decodes the published stream.
func CreateRedisReader(ctx context.Context, addr, channel string) (*proio.Reader, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	sub := client.Subscribe(channel)
	if _, err := sub.Receive(); err != nil {
		sub.Close()
		client.Close()
		return nil, err
	}

	reader := proio.NewReader(&PubSubReader{Messages: sub.ChannelSize(100), Ctx: ctx})
	reader.DeferUntilClose(func() {
		sub.Close()
		client.Close()
	})
	return reader, nil
}
