// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package ccdb publishes calibration artifacts to a conditions store keyed by
// path and validity window, and reads them back.
package ccdb

import (
	"errors"
	"path"
	"sort"
	"time"
)

var (
	ErrMalformedMetadataToken = errors.New("malformed metadata token")
	ErrPublishFailure         = errors.New("publish failed")
	ErrNotFound               = errors.New("no object valid at the requested time")
	ErrInvalidValidity        = errors.New("validity window end must be after start")
)

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered set of string annotations.
type Metadata []KeyValue

func (m Metadata) Get(key string) (string, bool) {
	for _, kv := range m {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set overwrites an existing key in place or appends a new one.
func (m *Metadata) Set(key, value string) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, KeyValue{Key: key, Value: value})
}

// ObjectInfo describes a stored artifact. Start and End are epoch
// milliseconds and the window is half open.
type ObjectInfo struct {
	Path       string    `json:"path"`
	ObjectType string    `json:"objectType"`
	FileName   string    `json:"fileName"`
	Start      int64     `json:"start"`
	End        int64     `json:"end"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (i ObjectInfo) ValidAt(ms int64) bool {
	return i.Start <= ms && ms < i.End
}

type Object struct {
	Info    ObjectInfo
	Payload []byte
}

// CleanPath normalizes a store path to a rooted slash path.
func CleanPath(p string) string {
	return path.Clean("/" + p)
}

// latestValid picks the most recently created descriptor valid at ms.
func latestValid(infos []ObjectInfo, ms int64) (ObjectInfo, bool) {
	var valid []ObjectInfo
	for _, info := range infos {
		if info.ValidAt(ms) {
			valid = append(valid, info)
		}
	}
	if len(valid) == 0 {
		return ObjectInfo{}, false
	}
	sortInfos(valid)
	return valid[len(valid)-1], true
}

// sortInfos orders descriptors by creation time, then file name.
func sortInfos(infos []ObjectInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].FileName < infos[j].FileName
	})
}

func toMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
