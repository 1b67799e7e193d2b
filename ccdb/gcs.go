// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts in a bucket with the same payload plus
// descriptor layout as FileStore.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix string, credentials []byte) (*GCSStore, error) {
	var opts []option.ClientOption
	if len(credentials) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *GCSStore) objectName(p, fileName string) string {
	return strings.TrimLeft(path.Join(s.prefix, CleanPath(p), fileName), "/")
}

func (s *GCSStore) Store(ctx context.Context, obj *Object) error {
	info := obj.Info
	info.Path = CleanPath(info.Path)
	desc, err := json.Marshal(info)
	if err != nil {
		return err
	}

	payloadName := s.objectName(info.Path, info.FileName)
	if err := s.write(ctx, payloadName, "application/octet-stream", obj.Payload); err != nil {
		return err
	}
	if err := s.write(ctx, payloadName+descriptorExt, "application/json", desc); err != nil {
		s.bucket.Object(payloadName).Delete(ctx)
		return err
	}
	return nil
}

func (s *GCSStore) write(ctx context.Context, name, contentType string, data []byte) error {
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *GCSStore) read(ctx context.Context, name string) ([]byte, error) {
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) List(ctx context.Context, p string) ([]ObjectInfo, error) {
	prefix := s.objectName(p, "") + "/"
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var infos []ObjectInfo
	for {
		objAttrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if objAttrs.Prefix != "" || !strings.HasSuffix(objAttrs.Name, descriptorExt) {
			continue
		}
		raw, err := s.read(ctx, objAttrs.Name)
		if err != nil {
			return nil, err
		}
		var info ObjectInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("%s: %w", objAttrs.Name, err)
		}
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

func (s *GCSStore) Retrieve(ctx context.Context, p string, ms int64) (*Object, error) {
	infos, err := s.List(ctx, p)
	if err != nil {
		return nil, err
	}
	info, ok := latestValid(infos, ms)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", ErrNotFound, p, ms)
	}
	payload, err := s.read(ctx, s.objectName(p, info.FileName))
	if err != nil {
		return nil, err
	}
	return &Object{Info: info, Payload: payload}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
