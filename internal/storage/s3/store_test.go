package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline/statline/internal/storage"
)

func TestPutResolvesKeyUnderRoot(t *testing.T) {
	api := newFakeBackend()
	store, err := newStore("datasets", "statline/prod/", api)
	require.NoError(t, err)

	info, err := store.Put(context.Background(), "/nfl/plays/plays.parquet", strings.NewReader("abc"), 3, storage.PutOptions{Checksum: "c0ffee"})
	require.NoError(t, err)

	assert.Equal(t, "statline/prod/nfl/plays/plays.parquet", api.lastPut.key)
	assert.Equal(t, "datasets", api.lastPut.bucket)
	assert.Equal(t, "application/vnd.apache.parquet", api.lastPut.req.ContentType)
	assert.Equal(t, map[string]string{checksumMeta: "c0ffee"}, api.lastPut.req.Metadata)
	assert.Equal(t, "nfl/plays/plays.parquet", info.Key)
	assert.Equal(t, "c0ffee", info.Checksum)
}

func TestPutKeepsExplicitContentTypeAndOmitsEmptyChecksum(t *testing.T) {
	api := newFakeBackend()
	store, err := newStore("datasets", "", api)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "nfl.db", strings.NewReader("x"), 1, storage.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", api.lastPut.req.ContentType)
	assert.Nil(t, api.lastPut.req.Metadata)
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	store, err := newStore("datasets", "statline", newFakeBackend())
	require.NoError(t, err)

	for _, key := range []string{"../secrets.txt", "nfl/../../etc/passwd", "", "/", "nfl/.hidden"} {
		_, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{})
		assert.Error(t, err, "key %q", key)
	}
}

func TestNewStoreValidatesBucketAndPrefix(t *testing.T) {
	_, err := newStore(" ", "", newFakeBackend())
	assert.Error(t, err)
	_, err = newStore("datasets", "a/../b", newFakeBackend())
	assert.Error(t, err)
}

func TestStatReturnsChecksumAndRelativeKey(t *testing.T) {
	api := newFakeBackend()
	api.objects["statline/nfl.db"] = fakeObject{body: []byte("sqlite"), checksum: "abc123"}
	store, err := newStore("datasets", "statline", api)
	require.NoError(t, err)

	info, err := store.Stat(context.Background(), "nfl.db")
	require.NoError(t, err)
	assert.Equal(t, "nfl.db", info.Key)
	assert.Equal(t, int64(6), info.Size)
	assert.Equal(t, "abc123", info.Checksum)
}

func TestMissingObjectsWrapNotFound(t *testing.T) {
	store, err := newStore("datasets", "", newFakeBackend())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing.db")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound), "Get error = %v", err)
	_, err = store.Stat(context.Background(), "missing.db")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound), "Stat error = %v", err)
}

func TestListStripsRootSkipsMarkersAndSorts(t *testing.T) {
	api := newFakeBackend()
	api.objects["statline/nfl/weekly_stats/weekly_stats.parquet"] = fakeObject{body: []byte("w")}
	api.objects["statline/nfl/plays/"] = fakeObject{}
	api.objects["statline/nfl/plays/plays.parquet"] = fakeObject{body: []byte("pp")}
	api.objects["statline/nflx/other.parquet"] = fakeObject{body: []byte("o")}
	store, err := newStore("datasets", "statline", api)
	require.NoError(t, err)

	objects, err := store.List(context.Background(), "nfl")
	require.NoError(t, err)
	assert.Equal(t, "statline/nfl/", api.lastListPrefix)
	require.Len(t, objects, 2)
	assert.Equal(t, "nfl/plays/plays.parquet", objects[0].Key)
	assert.Equal(t, "nfl/weekly_stats/weekly_stats.parquet", objects[1].Key)
}

func TestListStopsOnCancelledContext(t *testing.T) {
	api := newFakeBackend()
	api.objects["nfl/a.parquet"] = fakeObject{body: []byte("a")}
	api.objects["nfl/b.parquet"] = fakeObject{body: []byte("b")}
	store, err := newStore("datasets", "", api)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.List(ctx, "nfl")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/vnd.apache.parquet", storage.ContentTypeFor("nfl/plays/PLAYS.PARQUET"))
	assert.Equal(t, "application/vnd.sqlite3", storage.ContentTypeFor("nfl.sqlite"))
	assert.Equal(t, "application/vnd.duckdb", storage.ContentTypeFor("nfl.duckdb"))
	assert.Equal(t, "application/octet-stream", storage.ContentTypeFor("README"))
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{raw: "https://minio.example.com", wantHost: "minio.example.com", wantSecure: true},
		{raw: "http://localhost:9000", useSSL: true, wantHost: "localhost:9000", wantSecure: true},
		{raw: "localhost:9000", wantHost: "localhost:9000"},
		{raw: "ftp://files.example.com", wantErr: true},
		{raw: "https://", wantErr: true},
		{raw: " ", wantErr: true},
	}
	for _, tc := range cases {
		host, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.wantHost, host, tc.raw)
		assert.Equal(t, tc.wantSecure, secure, tc.raw)
	}
}

func TestMetadataValueIgnoresCanonicalization(t *testing.T) {
	assert.Equal(t, "abc", metadataValue(map[string]string{"X-Amz-Meta-Statline-Sha256": "abc"}, checksumMeta))
	assert.Equal(t, "def", metadataValue(map[string]string{"statline-sha256": "def"}, checksumMeta))
	assert.Empty(t, metadataValue(map[string]string{"Other": "x"}, checksumMeta))
}

func TestTranslateMapsMissingObjects(t *testing.T) {
	err := translate(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	err = translate(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	assert.NotErrorIs(t, err, storage.ErrObjectNotFound)
}

type fakeObject struct {
	body     []byte
	checksum string
}

type fakePut struct {
	bucket string
	key    string
	req    putRequest
}

type fakeBackend struct {
	objects        map[string]fakeObject
	lastPut        fakePut
	lastListPrefix string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string]fakeObject{}}
}

func (f *fakeBackend) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64, req putRequest) (storage.ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.lastPut = fakePut{bucket: bucket, key: key, req: req}
	f.objects[key] = fakeObject{body: payload, checksum: req.Metadata[checksumMeta]}
	return storage.ObjectInfo{Key: key, Size: int64(len(payload)), ETag: "etag"}, nil
}

func (f *fakeBackend) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	object, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.body)), nil
}

func (f *fakeBackend) StatObject(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	object, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(object.body)), Checksum: object.checksum, LastModified: time.Now().UTC()}, nil
}

func (f *fakeBackend) ListObjects(_ context.Context, _, prefix string, visit func(storage.ObjectInfo) error) error {
	f.lastListPrefix = prefix
	for key, object := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := visit(storage.ObjectInfo{Key: key, Size: int64(len(object.body))}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) EnsureBucket(context.Context, string, string) error {
	return nil
}
