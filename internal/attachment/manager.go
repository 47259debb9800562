package attachment

import (
	"context"
	"errors"
	"fmt"

	"picvault/internal/metrics"
	"picvault/internal/pathnamer"
	"picvault/internal/sizespec"
	"picvault/internal/storage"
	"picvault/internal/variant"

	"go.uber.org/zap"
)

// VariantStore produces and removes derived files.
type VariantStore interface {
	Materialize(ctx context.Context, originalPath, ext string, id pathnamer.Identity, specs []sizespec.Spec, allowUpscale bool) error
	Resample(ctx context.Context, path, ext string, spec sizespec.Spec, allowUpscale bool) error
	Remove(id pathnamer.Identity, ext string, specs []sizespec.Spec)
	Missing(id pathnamer.Identity, ext string, specs []sizespec.Spec) []sizespec.Spec
}

// Manager drives attachments from ingestion through variant generation to deletion.
// Persistence calls AfterCreate, BeforeUpdate and BeforeDelete at the matching points.
type Manager struct {
	fs       *storage.FileSystem
	namer    *pathnamer.Namer
	variants VariantStore
	log      *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a Manager.
func NewManager(fs *storage.FileSystem, namer *pathnamer.Namer, variants VariantStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		fs:       fs,
		namer:    namer,
		variants: variants,
		log:      zap.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OriginalPath is where the canonical original of a is stored.
func (m *Manager) OriginalPath(a *Attachment) string {
	return m.namer.CanonicalFile(a.Identity(), a.Extension)
}

// VariantPath is where the variant of a for token is stored.
func (m *Manager) VariantPath(a *Attachment, token string) string {
	return m.namer.VariantFile(a.Identity(), a.Extension, token)
}

// Create ingests tempPath as the original of a and derives all declared sizes.
// Any failure other than a *variant.VariantError undoes the ingestion: the source is put back
// unless it was kept, the attachment directory is removed and the error must abort the creation.
// A *variant.VariantError means the original is stored but some variants are missing.
func (m *Manager) Create(ctx context.Context, a *Attachment, tempPath string, keepSource bool) error {
	if tempPath == "" {
		return ErrNoSourceFile
	}
	exists, err := m.fs.Exists(tempPath)
	if err != nil || !exists {
		return fmt.Errorf("%w: %s", ErrNoSourceFile, tempPath)
	}
	if a.ID == 0 {
		return ErrNoIdentity
	}

	dst := m.OriginalPath(a)
	err = m.fs.MoveOrCopy(tempPath, dst, keepSource)
	metrics.ObserveIngestion(err)
	if err != nil {
		if rmErr := m.fs.Remove(dst); rmErr != nil {
			m.log.Warn("Failed to clean up partial original", zap.String("path", dst), zap.Error(rmErr))
		}
		return fmt.Errorf("%w: %w", ErrIngestionFailed, err)
	}

	a.State = StateIngested
	a.SourcePath = ""
	m.log.Info("Attachment ingested",
		zap.Int64("attachment_id", a.ID),
		zap.String("kind", a.Kind),
		zap.String("path", dst),
		zap.Bool("keep_source", keepSource),
	)

	err = m.Regenerate(ctx, a)
	var verr *variant.VariantError
	if err != nil && !errors.As(err, &verr) {
		m.unwind(a, tempPath, keepSource)
	}
	return err
}

// unwind reverts a successful ingestion after derivation failed hard.
func (m *Manager) unwind(a *Attachment, tempPath string, keepSource bool) {
	if !keepSource {
		if err := m.fs.MoveOrCopy(m.OriginalPath(a), tempPath, false); err != nil {
			m.log.Warn("Failed to restore source file", zap.String("path", tempPath), zap.Error(err))
		}
	}
	dir := m.namer.CanonicalDir(a.Identity())
	if err := m.fs.RemoveAll(dir); err != nil {
		m.log.Warn("Failed to remove attachment directory", zap.String("path", dir), zap.Error(err))
	}
	a.State = StateUnsaved
	a.SourcePath = tempPath
}

// Update rejects any attempt to attach a new source file; the payload is fixed at creation.
func (m *Manager) Update(a *Attachment) error {
	if a.SourcePath != "" {
		return ErrPayloadImmutable
	}
	return nil
}

// Delete removes the original, every declared variant and whatever else is left in the
// attachment directory, such as variants of sizes declared earlier. Missing files are ignored.
func (m *Manager) Delete(a *Attachment) {
	m.variants.Remove(a.Identity(), a.Extension, a.Specs())
	dir := m.namer.CanonicalDir(a.Identity())
	if err := m.fs.RemoveAll(dir); err != nil {
		m.log.Warn("Failed to remove attachment directory", zap.String("path", dir), zap.Error(err))
	}
	a.State = StateDeleted
	m.log.Info("Attachment files removed", zap.Int64("attachment_id", a.ID))
}

// Prune removes the variants of tokens in previous that a no longer declares.
func (m *Manager) Prune(a *Attachment, previous []string) {
	declared := make(map[string]bool, len(a.Sizes))
	for _, token := range a.Sizes {
		declared[token] = true
	}
	for _, token := range previous {
		if declared[token] {
			continue
		}
		path := m.VariantPath(a, token)
		if err := m.fs.Remove(path); err != nil {
			m.log.Warn("Failed to remove dropped variant", zap.String("path", path), zap.Error(err))
		}
	}
}

// Regenerate re-derives every declared size from the stored original, first shrinking the
// original itself when OriginalMaxSize is set.
func (m *Manager) Regenerate(ctx context.Context, a *Attachment) error {
	if a.ID == 0 {
		return ErrNoIdentity
	}
	original := m.OriginalPath(a)
	if exists, err := m.fs.Exists(original); err != nil || !exists {
		return fmt.Errorf("%w: %s", ErrNotIngested, original)
	}
	a.State = StateIngested

	var failures []*variant.CodecError
	if a.OriginalMaxSize != "" {
		err := m.variants.Resample(ctx, original, a.Extension, sizespec.Parse(a.OriginalMaxSize), false)
		var cerr *variant.CodecError
		switch {
		case errors.As(err, &cerr):
			failures = append(failures, cerr)
		case err != nil:
			return err
		}
	}

	err := m.variants.Materialize(ctx, original, a.Extension, a.Identity(), a.Specs(), a.AllowUpscale)
	var verr *variant.VariantError
	switch {
	case errors.As(err, &verr):
		failures = append(failures, verr.Failures...)
	case err != nil:
		return err
	}

	if len(failures) > 0 {
		return &variant.VariantError{Failures: failures}
	}
	m.log.Debug("Variants regenerated",
		zap.Int64("attachment_id", a.ID),
		zap.Strings("sizes", a.Sizes),
	)
	return nil
}

// Backfill derives only the declared sizes whose files are missing. It reports whether any
// work was attempted.
func (m *Manager) Backfill(ctx context.Context, a *Attachment) (bool, error) {
	missing := m.variants.Missing(a.Identity(), a.Extension, a.Specs())
	if len(missing) == 0 {
		return false, nil
	}
	original := m.OriginalPath(a)
	if exists, err := m.fs.Exists(original); err != nil || !exists {
		return false, fmt.Errorf("%w: %s", ErrNotIngested, original)
	}
	return true, m.variants.Materialize(ctx, original, a.Extension, a.Identity(), missing, a.AllowUpscale)
}

// AfterCreate is called by persistence once a has been assigned an id.
func (m *Manager) AfterCreate(ctx context.Context, a *Attachment) error {
	return m.Create(ctx, a, a.SourcePath, a.KeepSource)
}

// BeforeUpdate is called by persistence before changes to a are written.
func (m *Manager) BeforeUpdate(a *Attachment) error {
	return m.Update(a)
}

// BeforeDelete is called by persistence before a is removed.
func (m *Manager) BeforeDelete(a *Attachment) {
	m.Delete(a)
}
