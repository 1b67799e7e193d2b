// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const descriptorExt = ".json"

// FileStore keeps each artifact as a payload file next to a JSON
// descriptor, under a directory tree mirroring the store path. The
// descriptor is renamed into place last, so List never sees a payload
// without its descriptor.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{Root: root}, nil
}

func (s *FileStore) dir(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(CleanPath(path)))
}

func (s *FileStore) Store(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info := obj.Info
	info.Path = CleanPath(info.Path)
	if info.FileName == "" || strings.ContainsAny(info.FileName, `/\`) {
		return fmt.Errorf("invalid file name %q", info.FileName)
	}

	dir := s.dir(info.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	desc, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	payloadPath := filepath.Join(dir, info.FileName)
	if err := writeFileAtomic(payloadPath, obj.Payload); err != nil {
		return err
	}
	if err := writeFileAtomic(payloadPath+descriptorExt, desc); err != nil {
		os.Remove(payloadPath)
		return err
	}
	return nil
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

func (s *FileStore) List(ctx context.Context, path string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(s.dir(path), "*"+descriptorExt))
	if err != nil {
		return nil, err
	}

	var infos []ObjectInfo
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var info ObjectInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

func (s *FileStore) Retrieve(ctx context.Context, path string, ms int64) (*Object, error) {
	infos, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	info, ok := latestValid(infos, ms)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", ErrNotFound, path, ms)
	}
	payload, err := os.ReadFile(filepath.Join(s.dir(path), info.FileName))
	if err != nil {
		return nil, err
	}
	return &Object{Info: info, Payload: payload}, nil
}

func (s *FileStore) Close() error { return nil }
