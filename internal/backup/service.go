// Package backup archives the database and the public attachment tree and ships the archive
// to S3 or WebDAV.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"picvault/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownTarget is returned for a target with no configured uploader.
var ErrUnknownTarget = errors.New("backup target not configured")

// Snapshotter writes a consistent copy of the database to a path.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Service produces archives and hands them to uploaders.
type Service struct {
	fs        *storage.FileSystem
	db        Snapshotter
	publicDir string
	uploaders map[string]Uploader
	log       *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithUploader registers u under target.
func WithUploader(target string, u Uploader) Option {
	return func(s *Service) {
		s.uploaders[target] = u
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a Service archiving db and everything below publicDir.
func NewService(fs *storage.FileSystem, db Snapshotter, publicDir string, opts ...Option) *Service {
	s := &Service{
		fs:        fs,
		db:        db,
		publicDir: publicDir,
		uploaders: map[string]Uploader{},
		log:       zap.L(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Targets lists the configured upload targets.
func (s *Service) Targets() []string {
	targets := make([]string, 0, len(s.uploaders))
	for t := range s.uploaders {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Build writes the archive to a buffer.
func (s *Service) Build(ctx context.Context) (*bytes.Buffer, error) {
	snapshot := filepath.Join(s.fs.DataDir(), ".snapshot-"+uuid.NewString()+".db")
	if err := s.db.Snapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.fs.Remove(snapshot); err != nil {
			s.log.Warn("Failed to remove database snapshot", zap.String("path", snapshot), zap.Error(err))
		}
	}()

	buf := new(bytes.Buffer)
	err := Archive(s.fs, buf,
		Entry{Path: snapshot, Name: "picvault.db"},
		Entry{Path: s.publicDir, Name: "public"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}
	return buf, nil
}

// Run builds an archive and uploads it to target, returning the archive name.
func (s *Service) Run(ctx context.Context, target string) (string, error) {
	uploader, ok := s.uploaders[target]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	archive, err := s.Build(ctx)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("picvault_backup_%s.tar.gz", s.now().Format("20060102_150405"))
	if err := uploader.Upload(ctx, name, archive.Bytes()); err != nil {
		s.log.Error("Backup upload failed", zap.String("target", target), zap.Error(err))
		return "", err
	}

	s.log.Info("Backup uploaded",
		zap.String("target", target),
		zap.String("file", name),
		zap.Int("bytes", archive.Len()),
	)
	return name, nil
}
