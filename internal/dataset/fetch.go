package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/statline/statline/internal/storage"
)

type TransferReport struct {
	Files   int   `json:"files"`
	Bytes   int64 `json:"bytes"`
	Skipped bool  `json:"skipped"`
}

// Fetch downloads the dataset stored under key into dest when dest does not
// exist yet. Parquet datasets are stored as a prefix and fetched file by file.
func Fetch(ctx context.Context, store storage.ObjectStore, kind Kind, key, dest string) (TransferReport, error) {
	if store == nil {
		return TransferReport{}, fmt.Errorf("object store is required")
	}
	if _, err := os.Stat(dest); err == nil {
		return TransferReport{Skipped: true}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return TransferReport{}, fmt.Errorf("stat %q: %w", dest, err)
	}

	if kind != KindParquet {
		n, err := download(ctx, store, key, dest)
		if err != nil {
			return TransferReport{}, err
		}
		return TransferReport{Files: 1, Bytes: n}, nil
	}

	objects, err := store.List(ctx, key)
	if err != nil {
		return TransferReport{}, err
	}
	if len(objects) == 0 {
		return TransferReport{}, fmt.Errorf("no objects under %q: %w", key, storage.ErrObjectNotFound)
	}
	var report TransferReport
	for _, object := range objects {
		relative, err := storage.RelativePath(key, object.Key)
		if err != nil {
			return TransferReport{}, err
		}
		n, err := download(ctx, store, object.Key, filepath.Join(dest, filepath.FromSlash(relative)))
		if err != nil {
			return TransferReport{}, err
		}
		report.Files++
		report.Bytes += n
	}
	return report, nil
}

// Push uploads the dataset at src under key. A parquet directory is uploaded
// file by file with its relative layout preserved.
func Push(ctx context.Context, store storage.ObjectStore, kind Kind, src, key string) (TransferReport, error) {
	if store == nil {
		return TransferReport{}, fmt.Errorf("object store is required")
	}
	if kind != KindParquet {
		objectKey, err := storage.BuildObjectKey(key, "")
		if err != nil {
			return TransferReport{}, err
		}
		n, err := upload(ctx, store, src, objectKey)
		if err != nil {
			return TransferReport{}, err
		}
		return TransferReport{Files: 1, Bytes: n}, nil
	}

	var report TransferReport
	err := filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			return nil
		}
		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		objectKey, err := storage.BuildObjectKey(key, filepath.ToSlash(relative))
		if err != nil {
			return err
		}
		n, err := upload(ctx, store, path, objectKey)
		if err != nil {
			return err
		}
		report.Files++
		report.Bytes += n
		return nil
	})
	if err != nil {
		return TransferReport{}, err
	}
	if report.Files == 0 {
		return TransferReport{}, fmt.Errorf("no parquet files under %q", src)
	}
	return report, nil
}

func download(ctx context.Context, store storage.ObjectStore, key, dest string) (int64, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("stat object %q: %w", key, err)
	}
	reader, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %q: %w", dest, err)
	}
	n, err := writeFile(dest, reader, info.Checksum)
	if err != nil {
		return 0, fmt.Errorf("write %q: %w", dest, err)
	}
	return n, nil
}

func upload(ctx context.Context, store storage.ObjectStore, path, key string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return 0, fmt.Errorf("hash %q: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind %q: %w", path, err)
	}
	opts := storage.PutOptions{
		ContentType: storage.ContentTypeFor(key),
		Checksum:    hex.EncodeToString(hash.Sum(nil)),
	}
	if _, err := store.Put(ctx, key, file, size, opts); err != nil {
		return 0, fmt.Errorf("put object %q: %w", key, err)
	}
	return size, nil
}

// writeFile writes through a temporary sibling and renames it into place
// only once the content matches checksum, when one was recorded.
func writeFile(path string, reader io.Reader, checksum string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), reader)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if got := hex.EncodeToString(hash.Sum(nil)); checksum != "" && !strings.EqualFold(got, checksum) {
		return 0, fmt.Errorf("%w: got %s, recorded %s", storage.ErrChecksumMismatch, got, checksum)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return n, nil
}
