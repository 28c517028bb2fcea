// Package backup stages the signal ledger and ETF mapping into a
// compressed archive and ships it to S3-compatible object storage.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/database"
)

const (
	archivePrefix = "etfarb-backup-"
	archiveSuffix = ".tar.gz"

	// keepMinimum archives survive rotation no matter how old they are,
	// so a long outage never leaves the bucket empty.
	keepMinimum = 3
)

// Object describes one stored archive.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the object-store surface the service needs. *Client
// implements it against S3.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Options wires a Service.
type Options struct {
	DB            *database.DB // Signal ledger to snapshot
	MappingPath   string       // Mapping document, skipped when absent
	Store         Storage
	RetentionDays int // <= 0 disables age-based rotation
	Log           zerolog.Logger
}

// Service performs one full backup per Run: stage, verify, archive,
// upload, rotate.
type Service struct {
	db          *database.DB
	mappingPath string
	store       Storage
	retention   time.Duration
	log         zerolog.Logger
}

// NewService creates a backup service.
func NewService(opts Options) *Service {
	return &Service{
		db:          opts.DB,
		mappingPath: opts.MappingPath,
		store:       opts.Store,
		retention:   time.Duration(opts.RetentionDays) * 24 * time.Hour,
		log:         opts.Log.With().Str("component", "backup").Logger(),
	}
}

// Run executes one backup cycle. A rotation failure is logged but does
// not fail the run; the upload already succeeded.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()

	staging, err := os.MkdirTemp("", "etfarb-staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	dbPath := filepath.Join(staging, "signals.db")
	if err := s.db.BackupTo(dbPath); err != nil {
		return fmt.Errorf("stage signal ledger: %w", err)
	}
	if err := verifyBackup(dbPath); err != nil {
		return fmt.Errorf("staged ledger failed verification: %w", err)
	}

	if s.mappingPath != "" {
		err := copyFile(filepath.Join(staging, "mapping.json"), s.mappingPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			s.log.Debug().Str("path", s.mappingPath).Msg("No mapping document to stage")
		case err != nil:
			return fmt.Errorf("stage mapping document: %w", err)
		}
	}

	if err := writeManifest(staging, start); err != nil {
		return err
	}

	name := archivePrefix + start.Format("20060102-150405") + archiveSuffix
	size, err := s.uploadArchive(ctx, staging, name)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("archive", name).
		Int64("bytes", size).
		Dur("duration_ms", time.Since(start)).
		Msg("Backup uploaded")

	if err := s.rotate(ctx); err != nil {
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// uploadArchive writes the tar.gz to a scratch file outside the staging
// dir and streams it to storage.
func (s *Service) uploadArchive(ctx context.Context, staging, name string) (int64, error) {
	scratch, err := os.CreateTemp("", "etfarb-archive-*"+archiveSuffix)
	if err != nil {
		return 0, fmt.Errorf("create archive file: %w", err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if err := archiveDir(staging, scratch); err != nil {
		scratch.Close()
		return 0, fmt.Errorf("build archive: %w", err)
	}
	if err := scratch.Close(); err != nil {
		return 0, fmt.Errorf("close archive file: %w", err)
	}

	f, err := os.Open(scratchPath)
	if err != nil {
		return 0, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive file: %w", err)
	}

	if err := s.store.Upload(ctx, name, f); err != nil {
		return 0, fmt.Errorf("upload archive: %w", err)
	}
	return info.Size(), nil
}

// rotate deletes archives older than the retention window, always
// keeping the keepMinimum newest.
func (s *Service) rotate(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return err
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	cutoff := time.Now().Add(-s.retention)
	deleted := 0
	for i, obj := range objects {
		if i < keepMinimum || !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.log.Warn().Str("key", obj.Key).Err(err).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("Rotated old backups")
	}
	return nil
}

// verifyBackup opens the staged snapshot and runs an integrity check,
// the same gate the live databases pass at startup.
func verifyBackup(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open staged backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}

// CloudBackupJob adapts the service to the scheduler.
type CloudBackupJob struct {
	service *Service
}

// NewCloudBackupJob creates the scheduled backup job.
func NewCloudBackupJob(service *Service) *CloudBackupJob {
	return &CloudBackupJob{service: service}
}

// Run executes one backup cycle.
func (j *CloudBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.service.Run(ctx)
}

// Name returns the job name for the scheduler.
func (j *CloudBackupJob) Name() string {
	return "cloud_backup"
}
