// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists artifacts. Store must make the payload and its descriptor
// visible together or not at all.
type Store interface {
	Store(ctx context.Context, obj *Object) error
	// Retrieve returns the most recently created object under path whose
	// validity window contains ms.
	Retrieve(ctx context.Context, path string, ms int64) (*Object, error)
	// List returns the descriptors stored directly under path, oldest first.
	List(ctx context.Context, path string) ([]ObjectInfo, error)
	Close() error
}

// OpenStore opens a store by URL:
//
//	file://<dir>        descriptor + payload files on disk
//	gs://<bucket>/<prefix>  Google Cloud Storage objects
//	sqlite://<file>     a single SQLite database
//	mem://              process-local memory
func OpenStore(ctx context.Context, urlString, credentials string) (Store, error) {
	thisUrl, err := url.Parse(urlString)
	if err != nil {
		return nil, err
	}

	switch thisUrl.Scheme {
	case "file":
		return NewFileStore(filepath.Clean(fmt.Sprintf("%v/%v", thisUrl.Host, strings.TrimLeft(thisUrl.Path, "/"))))
	case "gs":
		return NewGCSStore(
			ctx,
			thisUrl.Host,
			strings.Trim(thisUrl.Path, "/"),
			[]byte(credentials),
		)
	case "sqlite":
		return OpenSQLiteStore(ctx, filepath.Clean(fmt.Sprintf("%v/%v", thisUrl.Host, strings.TrimLeft(thisUrl.Path, "/"))))
	case "mem":
		return NewMemStore(), nil
	default:
		return nil, errors.New("bad url scheme")
	}
}

type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]*Object
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]*Object)}
}

func (s *MemStore) Store(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := &Object{Info: obj.Info, Payload: append([]byte(nil), obj.Payload...)}
	stored.Info.Path = CleanPath(obj.Info.Path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[stored.Info.Path] = append(s.objects[stored.Info.Path], stored)
	return nil
}

func (s *MemStore) Retrieve(ctx context.Context, path string, ms int64) (*Object, error) {
	infos, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	info, ok := latestValid(infos, ms)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", ErrNotFound, path, ms)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obj := range s.objects[CleanPath(path)] {
		if obj.Info.FileName == info.FileName {
			return &Object{Info: obj.Info, Payload: append([]byte(nil), obj.Payload...)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, path, info.FileName)
}

func (s *MemStore) List(ctx context.Context, path string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []ObjectInfo
	for _, obj := range s.objects[CleanPath(path)] {
		infos = append(infos, obj.Info)
	}
	sortInfos(infos)
	return infos, nil
}

func (s *MemStore) Close() error { return nil }
