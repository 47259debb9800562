// Package scheduler runs the periodic variant backfill sweep and scheduled backups.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"picvault/internal/attachment"
	"picvault/internal/variant"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Lister walks every stored attachment.
type Lister interface {
	Each(ctx context.Context, fn func(*attachment.Attachment) error) error
}

// Backfiller derives the missing variants of one attachment.
type Backfiller interface {
	Backfill(ctx context.Context, a *attachment.Attachment) (bool, error)
}

// BackupRunner uploads an archive to a named target.
type BackupRunner interface {
	Run(ctx context.Context, target string) (string, error)
}

// Stats summarizes one sweep.
type Stats struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
	Orphaned int `json:"orphaned"`
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron     *cron.Cron
	lister   Lister
	backfill Backfiller
	backup   BackupRunner
	target   string
	timeout  time.Duration
	log      *zap.Logger

	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBackup enables the backup job uploading to target.
func WithBackup(b BackupRunner, target string) Option {
	return func(s *Scheduler) {
		s.backup = b
		s.target = target
	}
}

// WithTimeout bounds each job run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// New creates a Scheduler. Jobs are registered by Start.
func New(lister Lister, backfill Backfiller, opts ...Option) *Scheduler {
	s := &Scheduler{
		lister:   lister,
		backfill: backfill,
		timeout:  time.Hour,
		log:      zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}

	l := cronLogger{s.log.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	return s
}

// Start registers the sweep on sweepSpec and, when a backup runner is configured and
// backupSpec is not empty, the backup job. Then it starts the cron loop.
func (s *Scheduler) Start(sweepSpec, backupSpec string) error {
	if sweepSpec != "" {
		if _, err := s.cron.AddFunc(sweepSpec, s.runSweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", sweepSpec, err)
		}
	}
	if s.backup != nil && backupSpec != "" {
		if _, err := s.cron.AddFunc(backupSpec, s.runBackup); err != nil {
			return fmt.Errorf("invalid backup schedule %q: %w", backupSpec, err)
		}
	}

	s.cron.Start()
	s.log.Info("Scheduler started",
		zap.String("sweep", sweepSpec),
		zap.String("backup", backupSpec),
		zap.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		s.log.Info("Scheduler stopped")
	})
}

// Sweep backfills every attachment. Attachments whose variants cannot be rendered or whose
// original is gone are counted and skipped.
func (s *Scheduler) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.lister.Each(ctx, func(a *attachment.Attachment) error {
		stats.Scanned++
		worked, err := s.backfill.Backfill(ctx, a)

		var verr *variant.VariantError
		switch {
		case errors.As(err, &verr):
			stats.Failed++
			s.log.Warn("Backfill left variants missing",
				zap.Int64("attachment_id", a.ID),
				zap.Strings("tokens", verr.Tokens()),
			)
		case errors.Is(err, attachment.ErrNotIngested):
			stats.Orphaned++
			s.log.Warn("Attachment original missing", zap.Int64("attachment_id", a.ID))
		case err != nil:
			return err
		case worked:
			stats.Repaired++
		}
		return nil
	})
	return stats, err
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	stats, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("Backfill sweep failed", zap.Error(err))
		return
	}
	s.log.Info("Backfill sweep finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("repaired", stats.Repaired),
		zap.Int("failed", stats.Failed),
		zap.Int("orphaned", stats.Orphaned),
		zap.Duration("took", time.Since(start)),
	)
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.backup.Run(ctx, s.target); err != nil {
		s.log.Error("Scheduled backup failed", zap.String("target", s.target), zap.Error(err))
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
