// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis"
	"github.com/proio-org/go-proio"
)

// RunObject names one recorded hit stream.
type RunObject struct {
	Name string
}

var errBadScheme = errors.New("bad url scheme")

func localPath(u *url.URL) string {
	return filepath.Clean(fmt.Sprintf("%v/%v", u.Host, strings.TrimLeft(u.Path, "/")))
}

// channelName is the redis channel named by the URL path.
func channelName(u *url.URL) (string, error) {
	channel := strings.Trim(u.Path, "/")
	if channel == "" {
		return "", fmt.Errorf("%v: missing redis channel", u)
	}
	return channel, nil
}

// ListRuns lists the recorded streams under a file:// directory or a
// gs:// prefix.
func ListRuns(ctx context.Context, urlString, credentials string) ([]*RunObject, error) {
	thisUrl, err := url.Parse(urlString)
	if err != nil {
		return nil, err
	}

	switch thisUrl.Scheme {
	case "gs":
		return ListGcsRuns(ctx, thisUrl.Host, strings.TrimLeft(thisUrl.Path, "/"), []byte(credentials))
	case "file":
		files, err := filepath.Glob(filepath.Join(localPath(thisUrl), "*.proio"))
		if err != nil {
			return nil, err
		}
		var runs []*RunObject
		for _, file := range files {
			runs = append(runs, &RunObject{Name: path.Base(file)})
		}
		return runs, nil
	default:
		return nil, errBadScheme
	}
}

// GetReader opens a hit stream by URL: file://, gs://bucket/object or
// redis://addr/channel for a live stream.
func GetReader(ctx context.Context, urlString, credentials string) (*proio.Reader, error) {
	thisUrl, err := url.Parse(urlString)
	if err != nil {
		return nil, err
	}

	switch thisUrl.Scheme {
	case "gs":
		return CreateGcsReader(ctx, thisUrl.Host, strings.TrimLeft(thisUrl.Path, "/"), []byte(credentials))
	case "file":
		return proio.Open(localPath(thisUrl))
	case "redis":
		channel, err := channelName(thisUrl)
		if err != nil {
			return nil, err
		}
		return CreateRedisReader(ctx, thisUrl.Host, channel)
	default:
		return nil, errBadScheme
	}
}

func GetWriter(ctx context.Context, urlString, credentials string) (*proio.Writer, error) {
	thisUrl, err := url.Parse(urlString)
	if err != nil {
		return nil, err
	}

	switch thisUrl.Scheme {
	case "gs":
		return CreateGcsWriter(ctx, thisUrl.Host, strings.TrimLeft(thisUrl.Path, "/"), []byte(credentials))
	case "file":
		return proio.Create(localPath(thisUrl))
	case "redis":
		channel, err := channelName(thisUrl)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{Addr: thisUrl.Host})
		writer := proio.NewWriter(&PubSubWriter{Redis: client, Channel: channel})
		writer.DeferUntilClose(client.Close)
		return writer, nil
	default:
		return nil, errBadScheme
	}
}

// OpenReader accepts "-" for stdin, a plain path or any GetReader URL.
func OpenReader(ctx context.Context, target, credentials string) (*proio.Reader, error) {
	switch {
	case target == "-":
		return proio.NewReader(bufio.NewReader(os.Stdin)), nil
	case !strings.Contains(target, "://"):
		return proio.Open(filepath.Clean(target))
	default:
		return GetReader(ctx, target, credentials)
	}
}

// OpenWriter accepts "" for stdout, a plain path or any GetWriter URL.
func OpenWriter(ctx context.Context, target, credentials string) (*proio.Writer, error) {
	switch {
	case target == "" || target == "-":
		return proio.NewWriter(os.Stdout), nil
	case !strings.Contains(target, "://"):
		return proio.Create(filepath.Clean(target))
	default:
		return GetWriter(ctx, target, credentials)
	}
}
