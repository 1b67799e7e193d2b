// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/proio-org/go-proio"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func gcsClient(ctx context.Context, credentials []byte) (*storage.Client, error) {
	var opts []option.ClientOption
	if len(credentials) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentials))
	}
	return storage.NewClient(ctx, opts...)
}

// ListGcsRuns lists the .proio objects below prefix.
func ListGcsRuns(ctx context.Context, bucket, prefix string, credentials []byte) ([]*RunObject, error) {
	client, err := gcsClient(ctx, credentials)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var runs []*RunObject
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		objAttrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(objAttrs.Name, ".proio") {
			runs = append(runs, &RunObject{Name: objAttrs.Name})
		}
	}
	return runs, nil
}

func CreateGcsReader(ctx context.Context, bucket, name string, credentials []byte) (*proio.Reader, error) {
	client, err := gcsClient(ctx, credentials)
	if err != nil {
		return nil, err
	}

	objectReader, err := client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	reader := proio.NewReader(objectReader)
	reader.DeferUntilClose(func() {
		objectReader.Close()
		client.Close()
	})
	return reader, nil
}

func CreateGcsWriter(ctx context.Context, bucket, name string, credentials []byte) (*proio.Writer, error) {
	client, err := gcsClient(ctx, credentials)
	if err != nil {
		return nil, err
	}

	objectWriter := client.Bucket(bucket).Object(name).NewWriter(ctx)
	objectWriter.ContentType = "application/octet-stream"
	writer := proio.NewWriter(objectWriter)
	writer.DeferUntilClose(func() error {
		defer client.Close()
		return objectWriter.Close()
	})
	return writer, nil
}
