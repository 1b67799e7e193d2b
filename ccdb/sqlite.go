// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS objects (
		path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		object_type TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		metadata TEXT NOT NULL,
		size INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (path, file_name)
	);
	CREATE INDEX IF NOT EXISTS objects_validity ON objects (path, start_ms, end_ms);
`

// SQLiteStore keeps descriptor and payload in one row, so a stored pair is
// atomic.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Store(ctx context.Context, obj *Object) error {
	meta, err := json.Marshal(obj.Info.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (path, file_name, object_type, start_ms, end_ms, metadata, size, checksum, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		CleanPath(obj.Info.Path),
		obj.Info.FileName,
		obj.Info.ObjectType,
		obj.Info.Start,
		obj.Info.End,
		string(meta),
		obj.Info.Size,
		obj.Info.Checksum,
		obj.Info.CreatedAt.UnixNano(),
		obj.Payload,
	)
	return err
}

const infoColumns = `path, file_name, object_type, start_ms, end_ms, metadata, size, checksum, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInfo(row rowScanner, extra ...interface{}) (ObjectInfo, error) {
	var (
		info      ObjectInfo
		meta      string
		createdAt int64
	)
	dest := append([]interface{}{
		&info.Path, &info.FileName, &info.ObjectType, &info.Start, &info.End,
		&meta, &info.Size, &info.Checksum, &createdAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ObjectInfo{}, err
	}
	if err := json.Unmarshal([]byte(meta), &info.Metadata); err != nil {
		return ObjectInfo{}, fmt.Errorf("%s/%s: metadata: %w", info.Path, info.FileName, err)
	}
	info.CreatedAt = time.Unix(0, createdAt).UTC()
	return info, nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, path string, ms int64) (*Object, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+infoColumns+`, payload FROM objects
		WHERE path = ? AND start_ms <= ? AND end_ms > ?
		ORDER BY created_at DESC, file_name DESC LIMIT 1`,
		CleanPath(path), ms, ms,
	)
	var payload []byte
	info, err := scanInfo(row, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s at %d", ErrNotFound, path, ms)
	}
	if err != nil {
		return nil, err
	}
	return &Object{Info: info, Payload: payload}, nil
}

func (s *SQLiteStore) List(ctx context.Context, path string) ([]ObjectInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+infoColumns+` FROM objects WHERE path = ? ORDER BY created_at, file_name`,
		CleanPath(path),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []ObjectInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
