// Package maintenance runs the scheduled housekeeping of a statline
// deployment: history retention and dataset integrity checks.
package maintenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/statline/statline/internal/dataset"
	"github.com/statline/statline/internal/storage"
)

type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	Retention         time.Duration
	PruneSchedule     string
	IntegritySchedule string
	// DatasetKind, DatasetPath and DatasetKey locate the dataset checked
	// against the object store. An empty key disables the integrity check.
	DatasetKind dataset.Kind
	DatasetPath string
	DatasetKey  string
}

type Service struct {
	History     Pruner
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type PruneSummary struct {
	Cutoff      time.Time `json:"cutoff"`
	RowsDeleted int64     `json:"rows_deleted"`
}

type IntegritySummary struct {
	FilesChecked        int `json:"files_checked"`
	MissingLocal        int `json:"missing_local"`
	MissingRemote       int `json:"missing_remote"`
	SizeMismatchFiles   int `json:"size_mismatch_files"`
	ChecksumMismatches  int `json:"checksum_mismatches"`
	OperationalFailures int `json:"operational_failures"`
}

// Run schedules the configured jobs and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	scheduler := cron.New()
	if s.History != nil {
		if _, err := scheduler.AddFunc(s.Config.PruneSchedule, func() { s.pruneCycle(ctx) }); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", s.Config.PruneSchedule, err)
		}
	}
	if s.ObjectStore != nil && s.Config.DatasetKey != "" {
		if _, err := scheduler.AddFunc(s.Config.IntegritySchedule, func() { s.integrityCycle(ctx) }); err != nil {
			return fmt.Errorf("invalid integrity schedule %q: %w", s.Config.IntegritySchedule, err)
		}
	}
	if len(scheduler.Entries()) == 0 {
		s.logInfo(ctx, "maintenance has no jobs to schedule")
		<-ctx.Done()
		return nil
	}

	scheduler.Start()
	s.logInfo(ctx, "maintenance scheduler started",
		slog.String("prune_schedule", s.Config.PruneSchedule),
		slog.String("integrity_schedule", s.Config.IntegritySchedule))
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

func (s *Service) pruneCycle(ctx context.Context) {
	summary, err := s.RunPruneOnce(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.ErrorContext(ctx, "history prune failed", slog.Any("error", err))
		}
		return
	}
	s.logInfo(ctx, "history prune completed", slog.Any("summary", summary))
}

func (s *Service) integrityCycle(ctx context.Context) {
	summary, err := s.RunIntegrityCheckOnce(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.ErrorContext(ctx, "dataset integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
		}
		return
	}
	s.logInfo(ctx, "dataset integrity check completed", slog.Any("summary", summary))
}

// RunPruneOnce deletes history rows older than the retention window.
func (s *Service) RunPruneOnce(ctx context.Context) (PruneSummary, error) {
	s.ensureDefaults()
	if s.History == nil {
		return PruneSummary{}, fmt.Errorf("history store is required")
	}
	summary := PruneSummary{Cutoff: s.Clock().UTC().Add(-s.Config.Retention)}
	deleted, err := s.History.Prune(ctx, summary.Cutoff)
	if err != nil {
		pruneRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("prune history: %w", err)
	}
	summary.RowsDeleted = deleted
	if deleted > 0 {
		pruneRowsDeletedTotal.Add(float64(deleted))
	}
	pruneRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunIntegrityCheckOnce compares the local dataset with the copy in the
// object store by presence and size, and by SHA-256 where the object
// recorded one at upload.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(s.Config.DatasetKey) == "" {
		return IntegritySummary{}, fmt.Errorf("dataset key is required")
	}

	var summary IntegritySummary
	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	remote, err := s.remoteFiles(ctx)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	local, err := localFiles(s.Config.DatasetKind, s.Config.DatasetPath)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}

	for relative, object := range remote {
		summary.FilesChecked++
		localSize, ok := local[relative]
		if !ok {
			summary.MissingLocal++
			integrityMismatchesTotal.WithLabelValues("missing_local").Inc()
			addIssue(fmt.Sprintf("missing local file %s", relative))
			continue
		}
		if localSize != object.Size {
			summary.SizeMismatchFiles++
			integrityMismatchesTotal.WithLabelValues("size").Inc()
			addIssue(fmt.Sprintf("size mismatch for %s (local=%d remote=%d)", relative, localSize, object.Size))
			continue
		}
		if object.Checksum == "" {
			continue
		}
		sum, err := fileChecksum(s.localPath(relative))
		if err != nil {
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("hash %s: %v", relative, err))
			continue
		}
		if !strings.EqualFold(sum, object.Checksum) {
			summary.ChecksumMismatches++
			integrityMismatchesTotal.WithLabelValues("checksum").Inc()
			addIssue(fmt.Sprintf("checksum mismatch for %s", relative))
		}
	}
	for relative := range local {
		if _, ok := remote[relative]; !ok {
			summary.MissingRemote++
			integrityMismatchesTotal.WithLabelValues("missing_remote").Inc()
			addIssue(fmt.Sprintf("local file %s is not in the object store", relative))
		}
	}

	if summary.FilesChecked > 0 {
		integrityFilesCheckedTotal.Add(float64(summary.FilesChecked))
	}
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// remoteFiles maps relative file paths to their objects. Single-file
// datasets use the file base name as their relative path.
func (s *Service) remoteFiles(ctx context.Context) (map[string]storage.ObjectInfo, error) {
	key := s.Config.DatasetKey
	if s.Config.DatasetKind != dataset.KindParquet {
		objectKey, err := storage.BuildObjectKey(key, "")
		if err != nil {
			return nil, err
		}
		info, err := s.ObjectStore.Stat(ctx, objectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return map[string]storage.ObjectInfo{}, nil
			}
			return nil, fmt.Errorf("stat dataset object: %w", err)
		}
		return map[string]storage.ObjectInfo{filepath.Base(s.Config.DatasetPath): info}, nil
	}

	objects, err := s.ObjectStore.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list dataset objects: %w", err)
	}
	out := make(map[string]storage.ObjectInfo, len(objects))
	for _, object := range objects {
		relative, err := storage.RelativePath(key, object.Key)
		if err != nil {
			return nil, err
		}
		out[relative] = object
	}
	return out, nil
}

func (s *Service) localPath(relative string) string {
	if s.Config.DatasetKind != dataset.KindParquet {
		return s.Config.DatasetPath
	}
	return filepath.Join(s.Config.DatasetPath, filepath.FromSlash(relative))
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func localFiles(kind dataset.Kind, root string) (map[string]int64, error) {
	out := map[string]int64{}
	if kind != dataset.KindParquet {
		info, err := os.Stat(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return out, nil
			}
			return nil, fmt.Errorf("stat dataset file: %w", err)
		}
		out[filepath.Base(root)] = info.Size()
		return out, nil
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return walkErr
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(relative)] = info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset dir: %w", err)
	}
	return out, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...any) {
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, msg, attrs...)
	}
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.Retention <= 0 {
		s.Config.Retention = 30 * 24 * time.Hour
	}
	if strings.TrimSpace(s.Config.PruneSchedule) == "" {
		s.Config.PruneSchedule = "@every 1h"
	}
	if strings.TrimSpace(s.Config.IntegritySchedule) == "" {
		s.Config.IntegritySchedule = "@every 6h"
	}
}
