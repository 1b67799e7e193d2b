// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rditech/rdi-noisecal/noise"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPath    = "/MFT/Calib/NoiseMap"
	DefaultHorizon = 365 * 24 * time.Hour
	NoiseMapType   = "NoiseMap"

	// Auto is the start/end placeholder resolved at publish time.
	Auto int64 = -1
)

type Publisher struct {
	Store   Store
	Path    string
	Horizon time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

// Sub returns a publisher writing below p's path, e.g. one per partition.
func (p *Publisher) Sub(name string) *Publisher {
	sub := *p
	sub.Path = path.Join(p.path(), name)
	return &sub
}

func (p *Publisher) path() string {
	if p.Path == "" {
		return DefaultPath
	}
	return CleanPath(p.Path)
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Publisher) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Publish serializes m and stores it valid over [start, end) epoch
// milliseconds. A start of -1 means now, an end of -1 means now plus the
// horizon. Nothing is stored when the window is empty.
func (p *Publisher) Publish(ctx context.Context, m *noise.NoiseMap, start, end int64, meta Metadata) (*Object, error) {
	if p.Store == nil {
		return nil, errors.New("publisher has no store")
	}
	if m == nil {
		return nil, errors.New("nothing to publish")
	}

	now := p.now()
	horizon := p.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if start == Auto {
		start = toMillis(now)
	}
	if end == Auto {
		end = toMillis(now.Add(horizon))
	}
	if end <= start {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidValidity, start, end)
	}

	payload, err := noise.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serializing noise map: %w", err)
	}
	sum := sha256.Sum256(payload)

	obj := &Object{
		Info: ObjectInfo{
			Path:       p.path(),
			ObjectType: NoiseMapType,
			FileName:   fmt.Sprintf("noise_%s.bin", uuid.New()),
			Start:      start,
			End:        end,
			Metadata:   append(Metadata(nil), meta...),
			Size:       int64(len(payload)),
			Checksum:   hex.EncodeToString(sum[:]),
			CreatedAt:  now.UTC(),
		},
		Payload: payload,
	}

	if err := p.Store.Store(ctx, obj); err != nil {
		p.logger().Error("failed to store noise map",
			zap.String("path", obj.Info.Path),
			zap.String("file", obj.Info.FileName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrPublishFailure, obj.Info.Path, obj.Info.FileName, err)
	}

	p.logger().Info("published noise map",
		zap.String("path", obj.Info.Path),
		zap.String("file", obj.Info.FileName),
		zap.Int64("start", start),
		zap.Int64("end", end),
		zap.Int("noisyChannels", m.Len()),
		zap.Int64("size", obj.Info.Size),
		zap.Stringer("metadata", obj.Info.Metadata),
	)
	return obj, nil
}

// Fetch retrieves and decodes the noise map valid at ms.
func Fetch(ctx context.Context, s Store, objPath string, ms int64) (*noise.NoiseMap, *ObjectInfo, error) {
	obj, err := s.Retrieve(ctx, CleanPath(objPath), ms)
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(obj.Payload)
	if obj.Info.Checksum != "" && hex.EncodeToString(sum[:]) != obj.Info.Checksum {
		return nil, nil, fmt.Errorf("%s/%s: checksum mismatch", obj.Info.Path, obj.Info.FileName)
	}
	m, err := noise.Unmarshal(obj.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%s/%s: %w", obj.Info.Path, obj.Info.FileName, err)
	}
	return m, &obj.Info, nil
}
