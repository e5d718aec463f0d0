// Package backup archives the document store and SQLite databases and
// uploads the archive to object storage.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/rs/zerolog"
)

const (
	archivePrefix   = "sentinel-invest-backup-"
	archiveSuffix   = ".tar.gz"
	timestampLayout = "2006-01-02-150405"
	metadataFile    = "backup-metadata.json"

	// newest archives are never rotated out
	minBackupsToKeep = 3
)

// Metadata is stored in every archive next to the database files
type Metadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Format    int                `json:"format"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one file in the archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Result describes a completed backup
type Result struct {
	Key       string             `json:"key"`
	SizeBytes int64              `json:"size_bytes"`
	Databases []DatabaseMetadata `json:"databases"`
	Duration  time.Duration      `json:"duration"`
	Rotated   int                `json:"rotated"`
}

// Info is a stored archive
type Info struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// Options configures a Service
type Options struct {
	Prefix        string
	RetentionDays int
	StagingDir    string // defaults to the OS temp dir
}

// Service creates, uploads and rotates backups
type Service struct {
	store   ObjectStore
	sources []Source
	opts    Options
	bus     *events.Bus
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates a backup service. bus may be nil.
func NewService(store ObjectStore, sources []Source, opts Options, bus *events.Bus, log zerolog.Logger) *Service {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Service{
		store:   store,
		sources: sources,
		opts:    opts,
		bus:     bus,
		log:     log.With().Str("service", "backup").Logger(),
		now:     time.Now,
	}
}

// Run snapshots every source into one archive, uploads it and rotates old
// archives. Rotation failures are logged and do not fail the run.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := s.now()
	s.log.Info().Int("sources", len(s.sources)).Msg("Starting backup")

	staging, err := os.MkdirTemp(s.opts.StagingDir, "backup-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	meta := Metadata{
		Timestamp: start.UTC(),
		Format:    1,
		Databases: make([]DatabaseMetadata, 0, len(s.sources)),
	}
	files := make([]string, 0, len(s.sources)+1)

	for _, src := range s.sources {
		p := filepath.Join(staging, src.Filename())
		if err := src.Snapshot(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", src.Name(), err)
		}

		size, sum, err := checksum(p)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", src.Name(), err)
		}
		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:      src.Name(),
			Filename:  src.Filename(),
			SizeBytes: size,
			Checksum:  sum,
		})
		files = append(files, src.Filename())
	}

	if err := writeMetadata(filepath.Join(staging, metadataFile), meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	name := archivePrefix + start.UTC().Format(timestampLayout) + archiveSuffix
	archivePath := filepath.Join(staging, name)
	if err := createArchive(archivePath, staging, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()
	info, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.key(name)
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return nil, err
	}

	result := &Result{
		Key:       key,
		SizeBytes: info.Size(),
		Databases: meta.Databases,
	}

	if rotated, err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	} else {
		result.Rotated = rotated
	}
	result.Duration = s.now().Sub(start)

	if s.bus != nil {
		s.bus.Publish("backup", &events.BackupCompletedData{Key: key, Bytes: result.SizeBytes})
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", result.SizeBytes).
		Int("rotated", result.Rotated).
		Dur("duration", result.Duration).
		Msg("Backup completed")
	return result, nil
}

// List returns stored archives, newest first
func (s *Service) List(ctx context.Context) ([]Info, error) {
	objects, err := s.store.List(ctx, s.key(archivePrefix))
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(objects))
	for _, o := range objects {
		base := path.Base(o.Key)
		if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, archiveSuffix) {
			continue
		}
		ts, err := time.Parse(timestampLayout, strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), archiveSuffix))
		if err != nil {
			s.log.Warn().Str("key", o.Key).Msg("Skipping archive with unparseable timestamp")
			continue
		}
		out = append(out, Info{Key: o.Key, Timestamp: ts, SizeBytes: o.Size})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Rotate deletes archives older than the retention period, always keeping
// the newest few. It returns how many were deleted.
func (s *Service) Rotate(ctx context.Context) (int, error) {
	if s.opts.RetentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.opts.RetentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

func (s *Service) key(name string) string {
	if s.opts.Prefix == "" {
		return name
	}
	return s.opts.Prefix + "/" + name
}

func checksum(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(p string, meta Metadata) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func createArchive(archivePath, dir string, files []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, name := range files {
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, p, name string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
