// Package repository persists attachments in SQLite and runs the lifecycle hooks around each write.
package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"picvault/internal/attachment"
	"picvault/internal/variant"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/lib-x/entsqlite"
	"go.uber.org/zap"
)

const table = "attachments"

// ErrNotFound is returned when no attachment has the requested id.
var ErrNotFound = errors.New("attachment not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		filename TEXT NOT NULL,
		extension TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT '',
		owner_type TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		sizes TEXT NOT NULL DEFAULT '[]',
		original_max_size TEXT NOT NULL DEFAULT '',
		allow_upscale INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS attachments_owner ON attachments (owner_type, owner_id)`,
	`CREATE INDEX IF NOT EXISTS attachments_kind ON attachments (kind)`,
}

var columns = []string{
	"id", "kind", "filename", "extension", "size", "file_type", "owner_type", "owner_id",
	"sizes", "original_max_size", "allow_upscale", "created_at", "updated_at",
}

// Hooks are the lifecycle callbacks run around each write. *attachment.Manager implements them.
type Hooks interface {
	AfterCreate(ctx context.Context, a *attachment.Attachment) error
	BeforeUpdate(a *attachment.Attachment) error
	BeforeDelete(a *attachment.Attachment)
}

// Filter narrows List. Offset only applies together with a positive Limit.
type Filter struct {
	Kind   string
	Owner  attachment.Owner
	Limit  int
	Offset int
}

// Repository stores attachment rows.
type Repository struct {
	db    *stdsql.DB
	hooks Hooks
	log   *zap.Logger
	b     *entsql.DialectBuilder
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMaxOpenConns limits the connection pool. Shared in-memory databases need 1.
func WithMaxOpenConns(n int) Option {
	return func(r *Repository) {
		r.db.SetMaxOpenConns(n)
	}
}

// Open connects to the SQLite database at dsn and creates the schema if missing.
func Open(ctx context.Context, dsn string, hooks Hooks, opts ...Option) (*Repository, error) {
	drv, err := entsql.Open(dialect.SQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &Repository{
		db:    drv.DB(),
		hooks: hooks,
		log:   zap.L(),
		b:     entsql.Dialect(dialect.SQLite),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			r.db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return r, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a and then ingests its source file. The row is committed before any file work
// so no write lock is held during ingestion and rendering. When ingestion fails the row is
// deleted again and a.ID reset; AUTOINCREMENT keeps the id from being reused. Variant failures
// keep the row and are returned.
func (r *Repository) Create(ctx context.Context, a *attachment.Attachment) error {
	sizes, err := json.Marshal(nonNil(a.Sizes))
	if err != nil {
		return fmt.Errorf("failed to encode sizes: %w", err)
	}
	now := time.Now().UTC()

	query, args := r.b.Insert(table).
		Columns(columns[1:]...).
		Values(a.Kind, a.Filename, a.Extension, a.Size, a.FileType, a.Owner.Type, a.Owner.ID,
			string(sizes), a.OriginalMaxSize, a.AllowUpscale, now.UnixMilli(), now.UnixMilli()).
		Query()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read attachment id: %w", err)
	}
	a.ID = id
	a.CreatedAt = now.Truncate(time.Millisecond)
	a.UpdatedAt = a.CreatedAt

	hookErr := r.hooks.AfterCreate(ctx, a)
	var verr *variant.VariantError
	if hookErr != nil && !errors.As(hookErr, &verr) {
		if a.State == attachment.StateIngested {
			r.hooks.BeforeDelete(a)
		}
		// the request context may be what failed
		query, args := r.b.Delete(table).Where(entsql.EQ("id", id)).Query()
		if _, err := r.db.ExecContext(context.WithoutCancel(ctx), query, args...); err != nil {
			r.log.Error("Failed to remove attachment row after ingestion failure",
				zap.Int64("attachment_id", id),
				zap.Error(err),
			)
		}
		a.ID = 0
		return hookErr
	}

	r.log.Info("Attachment created",
		zap.Int64("attachment_id", a.ID),
		zap.String("kind", a.Kind),
		zap.String("filename", a.Filename),
	)
	return hookErr
}

// Update persists the owner and size policy of a. Attempts to supply a new source file are rejected.
func (r *Repository) Update(ctx context.Context, a *attachment.Attachment) error {
	if err := r.hooks.BeforeUpdate(a); err != nil {
		return err
	}
	sizes, err := json.Marshal(nonNil(a.Sizes))
	if err != nil {
		return fmt.Errorf("failed to encode sizes: %w", err)
	}
	now := time.Now().UTC()

	query, args := r.b.Update(table).
		Set("owner_type", a.Owner.Type).
		Set("owner_id", a.Owner.ID).
		Set("sizes", string(sizes)).
		Set("original_max_size", a.OriginalMaxSize).
		Set("allow_upscale", a.AllowUpscale).
		Set("updated_at", now.UnixMilli()).
		Where(entsql.EQ("id", a.ID)).
		Query()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	a.UpdatedAt = now.Truncate(time.Millisecond)
	return nil
}

// Delete removes the files of a and then its row.
func (r *Repository) Delete(ctx context.Context, a *attachment.Attachment) error {
	r.hooks.BeforeDelete(a)

	query, args := r.b.Delete(table).Where(entsql.EQ("id", a.ID)).Query()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	r.log.Info("Attachment deleted", zap.Int64("attachment_id", a.ID))
	return nil
}

// Get loads the attachment with the given id.
func (r *Repository) Get(ctx context.Context, id int64) (*attachment.Attachment, error) {
	query, args := r.b.Select(columns...).
		From(entsql.Table(table)).
		Where(entsql.EQ("id", id)).
		Query()
	items, err := r.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// List returns attachments matching f, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]*attachment.Attachment, error) {
	sel := r.b.Select(columns...).From(entsql.Table(table))

	var preds []*entsql.Predicate
	if f.Kind != "" {
		preds = append(preds, entsql.EQ("kind", f.Kind))
	}
	if f.Owner.Type != "" {
		preds = append(preds, entsql.EQ("owner_type", f.Owner.Type))
	}
	if f.Owner.ID != "" {
		preds = append(preds, entsql.EQ("owner_id", f.Owner.ID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}

	sel.OrderBy(entsql.Desc("id"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
		if f.Offset > 0 {
			sel.Offset(f.Offset)
		}
	}

	query, args := sel.Query()
	return r.query(ctx, query, args)
}

// Each calls fn for every attachment in id order. Rows are read in batches so fn may use the
// repository itself.
func (r *Repository) Each(ctx context.Context, fn func(*attachment.Attachment) error) error {
	const batch = 100
	var last int64
	for {
		query, args := r.b.Select(columns...).
			From(entsql.Table(table)).
			Where(entsql.GT("id", last)).
			OrderBy("id").
			Limit(batch).
			Query()
		items, err := r.query(ctx, query, args)
		if err != nil {
			return err
		}
		for _, a := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(a); err != nil {
				return err
			}
			last = a.ID
		}
		if len(items) < batch {
			return nil
		}
	}
}

// Snapshot writes a consistent copy of the database to path, which must not exist.
func (r *Repository) Snapshot(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, query string, args []any) ([]*attachment.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var items []*attachment.Attachment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	return items, nil
}

func scan(rows *stdsql.Rows) (*attachment.Attachment, error) {
	var (
		a                attachment.Attachment
		sizes            string
		created, updated int64
	)
	if err := rows.Scan(&a.ID, &a.Kind, &a.Filename, &a.Extension, &a.Size, &a.FileType,
		&a.Owner.Type, &a.Owner.ID, &sizes, &a.OriginalMaxSize, &a.AllowUpscale,
		&created, &updated); err != nil {
		return nil, fmt.Errorf("failed to scan attachment: %w", err)
	}
	if err := json.Unmarshal([]byte(sizes), &a.Sizes); err != nil {
		return nil, fmt.Errorf("failed to decode sizes of attachment %d: %w", a.ID, err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	a.State = attachment.StateIngested
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
