// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package live shares the progress of a running calibration through redis.
package live

import (
	"sort"
	"strconv"

	"github.com/rditech/rdi-noisecal/calib"

	"github.com/go-redis/redis"
)

type SetStringer interface {
	SetString(key, value string)
}

// Status is an insertion-ordered string table.
type Status struct {
	Keys       []string
	StringData map[string]string
}

func (s *Status) SetString(key, value string) {
	if s.StringData == nil {
		s.StringData = make(map[string]string)
	}
	if _, ok := s.StringData[key]; !ok {
		s.Keys = append(s.Keys, key)
	}
	s.StringData[key] = value
}

// SetSummary records the progress of one partition.
func SetSummary(s SetStringer, key calib.Key, sum calib.PartitionSummary) {
	prefix := string(key) + "."
	s.SetString(prefix+"frames", strconv.FormatUint(sum.Frames, 10))
	s.SetString(prefix+"anomalies", strconv.FormatUint(sum.Anomalies, 10))
	s.SetString(prefix+"ready", strconv.FormatBool(sum.Ready))
	s.SetString(prefix+"noisy", strconv.Itoa(sum.NoisyChannels))
}

func statusKey(run string) string { return "noisecal:" + run + ":status" }

// Publish merges the table into the run's status hash.
func (s *Status) Publish(client *redis.Client, run string) error {
	if len(s.Keys) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(s.Keys))
	for _, k := range s.Keys {
		fields[k] = s.StringData[k]
	}
	return client.HMSet(statusKey(run), fields).Err()
}

// LoadStatus reads the status hash of run with keys in sorted order.
func LoadStatus(client *redis.Client, run string) (*Status, error) {
	data, err := client.HGetAll(statusKey(run)).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := &Status{}
	for _, k := range keys {
		s.SetString(k, data[k])
	}
	return s, nil
}
