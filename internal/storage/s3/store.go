// Package s3 stores dataset files in an S3-compatible bucket through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/storage"
)

// checksumMeta is the user metadata key that carries the upload SHA-256.
const checksumMeta = "Statline-Sha256"

// partSize bounds multipart chunks; DuckDB files of a full NFL history run to
// several gigabytes.
const partSize uint64 = 64 << 20

type putRequest struct {
	ContentType string
	Metadata    map[string]string
}

// backend is the slice of the bucket API the store needs.
type backend interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, req putRequest) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	ListObjects(ctx context.Context, bucket, prefix string, visit func(storage.ObjectInfo) error) error
	EnsureBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	api    backend
	bucket string
	root   string
}

// New connects to the configured bucket, creating it when AutoCreateBucket
// is set.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	store, err := newStore(cfg.Bucket, cfg.Prefix, &minioBackend{client: client})
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.api.EnsureBucket(ctx, store.bucket, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, fmt.Errorf("ensure bucket %q: %w", store.bucket, err)
		}
	}
	return store, nil
}

func newStore(bucket, prefix string, api backend) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	root := strings.Trim(strings.TrimSpace(prefix), "/")
	if root != "" {
		if _, err := storage.BuildObjectKey(root, ""); err != nil {
			return nil, fmt.Errorf("s3 prefix: %w", err)
		}
	}
	return &Store{api: api, bucket: bucket, root: root}, nil
}

// Put uploads body. The content type defaults from the key extension and a
// checksum, when given, travels as object metadata.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	req := putRequest{ContentType: opts.ContentType}
	if req.ContentType == "" {
		req.ContentType = storage.ContentTypeFor(objectKey)
	}
	if opts.Checksum != "" {
		req.Metadata = map[string]string{checksumMeta: opts.Checksum}
	}
	info, err := s.api.PutObject(ctx, s.bucket, objectKey, body, size, req)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", objectKey, err)
	}
	info.Key = s.storeKey(info.Key)
	info.ContentType = req.ContentType
	info.Checksum = opts.Checksum
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.GetObject(ctx, s.bucket, objectKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return nil, fmt.Errorf("%s: %w", objectKey, storage.ErrObjectNotFound)
	case err != nil:
		return nil, fmt.Errorf("get object %q: %w", objectKey, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.StatObject(ctx, s.bucket, objectKey)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return storage.ObjectInfo{}, fmt.Errorf("%s: %w", objectKey, storage.ErrObjectNotFound)
	case err != nil:
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	info.Key = s.storeKey(info.Key)
	return info, nil
}

// List walks every file below prefix. Keys come back relative to the store
// root so they can be handed straight to Get.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objectPrefix, err := s.objectKey(prefix)
	if err != nil {
		return nil, err
	}
	var out []storage.ObjectInfo
	err = s.api.ListObjects(ctx, s.bucket, objectPrefix+"/", func(info storage.ObjectInfo) error {
		if strings.HasSuffix(info.Key, "/") {
			return nil
		}
		info.Key = s.storeKey(info.Key)
		out = append(out, info)
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", objectPrefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) objectKey(key string) (string, error) {
	if s.root == "" {
		return storage.BuildObjectKey(key, "")
	}
	if strings.Trim(strings.TrimSpace(key), "/") == "" {
		return "", fmt.Errorf("object key is required")
	}
	return storage.BuildObjectKey(s.root, key)
}

func (s *Store) storeKey(objectKey string) string {
	if s.root == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.root+"/")
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	switch parsed.Scheme {
	case "https":
		return parsed.Host, true, nil
	case "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported s3 endpoint scheme %q", parsed.Scheme)
	}
}
