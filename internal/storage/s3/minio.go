package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/statline/statline/internal/storage"
)

type minioBackend struct {
	client *minio.Client
}

func (m *minioBackend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, req putRequest) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  req.ContentType,
		UserMetadata: req.Metadata,
		PartSize:     partSize,
	})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{
		Key:          uploaded.Key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		LastModified: uploaded.LastModified,
	}, nil
}

// GetObject stats before returning so a missing key fails here instead of on
// the first Read.
func (m *minioBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translate(err)
	}
	return object, nil
}

func (m *minioBackend) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	object, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	info := objectInfo(object)
	info.Checksum = metadataValue(object.UserMetadata, checksumMeta)
	return info, nil
}

func (m *minioBackend) ListObjects(ctx context.Context, bucket, prefix string, visit func(storage.ObjectInfo) error) error {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for object := range m.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return translate(object.Err)
		}
		if err := visit(objectInfo(object)); err != nil {
			return err
		}
	}
	return nil
}

func (m *minioBackend) EnsureBucket(ctx context.Context, bucket, region string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return translate(err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return translate(err)
	}
	return nil
}

func objectInfo(object minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          object.Key,
		Size:         object.Size,
		ETag:         object.ETag,
		ContentType:  object.ContentType,
		LastModified: object.LastModified,
	}
}

// metadataValue looks a user metadata key up regardless of how the server
// canonicalized it.
func metadataValue(metadata map[string]string, key string) string {
	for name, value := range metadata {
		name = strings.TrimPrefix(strings.ToLower(name), "x-amz-meta-")
		if name == strings.ToLower(key) {
			return value
		}
	}
	return ""
}

func translate(err error) error {
	response := minio.ToErrorResponse(err)
	switch {
	case response.Code == "NoSuchKey", response.Code == "NoSuchBucket", response.Code == "NotFound":
		return errors.Join(storage.ErrObjectNotFound, err)
	case response.StatusCode == http.StatusNotFound:
		return errors.Join(storage.ErrObjectNotFound, err)
	}
	return err
}
