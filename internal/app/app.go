// Package app wires the storage, variant, lifecycle, persistence and backup components from a Config.
package app

import (
	"context"
	"fmt"

	"picvault/internal/attachment"
	"picvault/internal/backup"
	"picvault/internal/codec"
	"picvault/internal/config"
	"picvault/internal/pathnamer"
	"picvault/internal/repository"
	"picvault/internal/storage"
	"picvault/internal/variant"

	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	FS      *storage.FileSystem
	Namer   *pathnamer.Namer
	Manager *attachment.Manager
	Repo    *repository.Repository
	Backup  *backup.Service
}

// New builds every component on the host filesystem and opens the database.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	fs, err := storage.NewFileSystem(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.PublicDir, cfg.ImportDir} {
		if err := fs.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return Wire(ctx, cfg, fs, cfg.DSN(), log)
}

// Wire builds the components on fs using the database at dsn.
func Wire(ctx context.Context, cfg *config.Config, fs *storage.FileSystem, dsn string, log *zap.Logger) (*App, error) {
	namer := pathnamer.New(cfg.PublicDir, cfg.Folder)
	imgCodec := codec.New(fs,
		codec.WithJPEGQuality(cfg.JPEGQuality),
		codec.WithAnimation(cfg.GIFAnimation),
	)
	store := variant.New(fs, imgCodec, namer,
		variant.WithLogger(log.Named("variant")),
		variant.WithParallelism(cfg.Parallelism),
	)
	manager := attachment.NewManager(fs, namer, store, attachment.WithLogger(log.Named("attachment")))

	repo, err := repository.Open(ctx, dsn, manager, repository.WithLogger(log.Named("repository")))
	if err != nil {
		return nil, err
	}

	opts := []backup.Option{backup.WithLogger(log.Named("backup"))}
	if cfg.S3Bucket != "" {
		up, err := backup.NewS3Uploader(ctx, backup.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			repo.Close()
			return nil, err
		}
		opts = append(opts, backup.WithUploader("s3", up))
	}
	if cfg.WebDAVURL != "" {
		up, err := backup.NewWebDAVUploader(cfg.WebDAVURL, cfg.WebDAVUser, cfg.WebDAVPassword, "")
		if err != nil {
			repo.Close()
			return nil, err
		}
		opts = append(opts, backup.WithUploader("webdav", up))
	}

	return &App{
		Config:  cfg,
		FS:      fs,
		Namer:   namer,
		Manager: manager,
		Repo:    repo,
		Backup:  backup.NewService(fs, repo, cfg.PublicDir, opts...),
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.Repo.Close()
}
