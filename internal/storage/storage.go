// Package storage defines the object store that distributes dataset files.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrChecksumMismatch = errors.New("object checksum mismatch")
)

// ObjectInfo describes a stored dataset file. Checksum is the hex SHA-256 of
// the content recorded at upload time, empty for objects written elsewhere.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	Checksum     string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
	Checksum    string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns every object under prefix, recursively, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ContentTypeFor picks the media type a dataset file is stored with.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".db", ".sqlite", ".sqlite3":
		return "application/vnd.sqlite3"
	case ".duckdb":
		return "application/vnd.duckdb"
	default:
		return "application/octet-stream"
	}
}
