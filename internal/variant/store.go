// Package variant keeps the derived files of an attachment in step with its original.
package variant

import (
	"context"
	"image"
	"time"

	"picvault/internal/codec"
	"picvault/internal/geometry"
	"picvault/internal/metrics"
	"picvault/internal/pathnamer"
	"picvault/internal/sizespec"
	"picvault/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Store produces and removes variant files.
type Store struct {
	fs          *storage.FileSystem
	codec       codec.ImageCodec
	namer       *pathnamer.Namer
	log         *zap.Logger
	parallelism int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped and failed work.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithParallelism bounds how many variants of one original are rendered at once.
func WithParallelism(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// New creates a Store.
func New(fs *storage.FileSystem, c codec.ImageCodec, namer *pathnamer.Namer, opts ...Option) *Store {
	s := &Store{
		fs:          fs,
		codec:       c,
		namer:       namer,
		log:         zap.L(),
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type job struct {
	spec      sizespec.Spec
	transform geometry.Transform
	path      string
}

// Materialize writes one variant per spec next to the original. Extensions without a codec are
// skipped. Geometry errors are returned as is; I/O and codec failures are collected per spec
// into a *VariantError and do not stop the other specs.
func (s *Store) Materialize(ctx context.Context, originalPath, ext string, id pathnamer.Identity, specs []sizespec.Spec, allowUpscale bool) error {
	format, ok := codec.FormatFromExtension(ext)
	if !ok {
		s.log.Debug("Skipping variants for non-image extension",
			zap.Int64("attachment_id", id.ID),
			zap.String("extension", ext),
		)
		return nil
	}

	specs = unique(specs)
	if len(specs) == 0 {
		return nil
	}

	width, height, err := s.codec.ProbeDimensions(originalPath)
	if err != nil {
		return s.failAll(id, ext, specs, err)
	}

	jobs := make([]job, 0, len(specs))
	for _, spec := range specs {
		t, err := geometry.Compute(width, height, spec, allowUpscale)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{spec: spec, transform: t, path: s.namer.VariantFile(id, ext, spec.Token)})
	}

	src, err := s.codec.Decode(originalPath)
	if err != nil {
		return s.failAll(id, ext, specs, err)
	}

	results := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = err
				return nil
			}
			start := time.Now()
			err := s.codec.Encode(Render(src, j.transform, format), j.path, format)
			metrics.ObserveVariant(j.spec.Mode.String(), err, time.Since(start))
			results[i] = err
			return nil
		})
	}
	g.Wait()

	var failures []*CodecError
	for i, err := range results {
		if err == nil {
			continue
		}
		failures = append(failures, &CodecError{Token: jobs[i].spec.Token, Path: jobs[i].path, Err: err})
		s.log.Warn("Variant generation failed",
			zap.Int64("attachment_id", id.ID),
			zap.String("size", jobs[i].spec.Token),
			zap.Error(err),
		)
	}
	if len(failures) > 0 {
		return &VariantError{Failures: failures}
	}
	return nil
}

// Resample rewrites the file at path through a single spec. A spec that would leave the image
// unchanged does not touch the file.
func (s *Store) Resample(ctx context.Context, path, ext string, spec sizespec.Spec, allowUpscale bool) error {
	format, ok := codec.FormatFromExtension(ext)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	width, height, err := s.codec.ProbeDimensions(path)
	if err != nil {
		return &CodecError{Token: spec.Token, Path: path, Err: err}
	}
	t, err := geometry.Compute(width, height, spec, allowUpscale)
	if err != nil {
		return err
	}
	if t.IsIdentity(width, height) {
		return nil
	}

	src, err := s.codec.Decode(path)
	if err != nil {
		return &CodecError{Token: spec.Token, Path: path, Err: err}
	}
	if err := s.codec.Encode(Render(src, t, format), path, format); err != nil {
		return &CodecError{Token: spec.Token, Path: path, Err: err}
	}
	return nil
}

// Remove deletes the original and every variant implied by specs. Files that are already gone
// are fine and other failures are only logged.
func (s *Store) Remove(id pathnamer.Identity, ext string, specs []sizespec.Spec) {
	paths := []string{s.namer.CanonicalFile(id, ext)}
	for _, spec := range specs {
		paths = append(paths, s.namer.VariantFile(id, ext, spec.Token))
	}

	for _, p := range paths {
		if err := s.fs.Remove(p); err != nil {
			s.log.Warn("Failed to remove attachment file",
				zap.Int64("attachment_id", id.ID),
				zap.String("path", p),
				zap.Error(err),
			)
		}
	}
}

// Missing returns the specs whose variant file does not exist yet.
func (s *Store) Missing(id pathnamer.Identity, ext string, specs []sizespec.Spec) []sizespec.Spec {
	if _, ok := codec.FormatFromExtension(ext); !ok {
		return nil
	}

	var missing []sizespec.Spec
	for _, spec := range unique(specs) {
		exists, err := s.fs.Exists(s.namer.VariantFile(id, ext, spec.Token))
		if err != nil || !exists {
			missing = append(missing, spec)
		}
	}
	return missing
}

func (s *Store) failAll(id pathnamer.Identity, ext string, specs []sizespec.Spec, err error) error {
	s.log.Warn("Cannot read original for variants",
		zap.Int64("attachment_id", id.ID),
		zap.Error(err),
	)
	failures := make([]*CodecError, 0, len(specs))
	for _, spec := range specs {
		failures = append(failures, &CodecError{Token: spec.Token, Path: s.namer.VariantFile(id, ext, spec.Token), Err: err})
	}
	return &VariantError{Failures: failures}
}

// Render applies t to every frame of src. Formats without alpha get a white background.
func Render(src *codec.Raster, t geometry.Transform, format codec.Format) *codec.Raster {
	origin := src.Bounds().Min
	srcRect := image.Rect(t.SrcX, t.SrcY, t.SrcX+t.SrcWidth, t.SrcY+t.SrcHeight).Add(origin)
	dstRect := image.Rect(t.DestX, t.DestY, t.DestX+t.DestWidth, t.DestY+t.DestHeight)

	out := &codec.Raster{
		LoopCount: src.LoopCount,
		Delays:    append([]int(nil), src.Delays...),
	}
	for _, frame := range src.Frames {
		canvas := image.NewRGBA(image.Rect(0, 0, t.CanvasWidth, t.CanvasHeight))
		if !format.SupportsAlpha() {
			draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
		}
		draw.CatmullRom.Scale(canvas, dstRect, frame, srcRect, draw.Over, nil)
		out.Frames = append(out.Frames, canvas)
	}
	return out
}

func unique(specs []sizespec.Spec) []sizespec.Spec {
	seen := make(map[string]bool, len(specs))
	out := make([]sizespec.Spec, 0, len(specs))
	for _, spec := range specs {
		// An empty token would name the original itself.
		if spec.Token == "" || seen[spec.Token] {
			continue
		}
		seen[spec.Token] = true
		out = append(out, spec)
	}
	return out
}
