// Package attachment manages the lifecycle of stored originals and their derived variants.
package attachment

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"picvault/internal/pathnamer"
	"picvault/internal/sizespec"
	"picvault/internal/storage"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultKind is used for attachments created without a kind.
const DefaultKind = "attachment"

// State tracks where an attachment is in its lifecycle.
type State int

const (
	StateUnsaved State = iota
	StateIngested
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateIngested:
		return "ingested"
	case StateDeleted:
		return "deleted"
	default:
		return "unsaved"
	}
}

// Owner is a non-owning reference to the entity an attachment belongs to.
type Owner struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IsZero reports whether no owner is set.
func (o Owner) IsZero() bool {
	return o.Type == "" && o.ID == ""
}

// Attachment is a stored file and the sizes derived from it.
type Attachment struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	FileType  string `json:"file_type"`
	Owner     Owner  `json:"owner"`

	Sizes           []string `json:"sizes"`
	OriginalMaxSize string   `json:"original_max_size,omitempty"`
	AllowUpscale    bool     `json:"allow_upscale"`
	KeepSource      bool     `json:"-"`

	// SourcePath is the upload to ingest. It is only meaningful before creation.
	SourcePath string `json:"-"`
	State      State  `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an unsaved attachment of the given kind configured by profile.
func New(kind string, profile Profile) *Attachment {
	if kind == "" {
		kind = DefaultKind
	}
	a := &Attachment{Kind: kind}
	a.Apply(profile)
	return a
}

// AddFile points the attachment at a file to ingest and records its metadata.
func (a *Attachment) AddFile(fs *storage.FileSystem, path string) error {
	size, err := fs.SizeOf(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSourceFile, err)
	}

	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSourceFile, err)
	}
	defer f.Close()

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	a.SourcePath = path
	a.Filename = strings.TrimSuffix(base, ext)
	a.Extension = strings.TrimPrefix(ext, ".")
	a.Size = size
	a.FileType = mime.String()
	return nil
}

// Identity addresses the attachment's files.
func (a *Attachment) Identity() pathnamer.Identity {
	return pathnamer.Identity{Kind: a.Kind, ID: a.ID, Stem: a.Filename}
}

// Specs parses the declared sizes.
func (a *Attachment) Specs() []sizespec.Spec {
	return sizespec.ParseAll(a.Sizes)
}

// IsImage reports whether the stored content type is an image.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.FileType, "image/")
}

// Profile is the size declaration shared by every attachment of a kind.
type Profile struct {
	Sizes           []string `yaml:"sizes" json:"sizes"`
	OriginalMaxSize string   `yaml:"original_max_size" json:"original_max_size"`
	AllowUpscale    bool     `yaml:"allow_upscale" json:"allow_upscale"`
	KeepSource      bool     `yaml:"keep_source" json:"keep_source"`
}

// Apply copies the profile's policy onto the attachment.
func (a *Attachment) Apply(p Profile) {
	a.Sizes = append([]string(nil), p.Sizes...)
	a.OriginalMaxSize = p.OriginalMaxSize
	a.AllowUpscale = p.AllowUpscale
	a.KeepSource = p.KeepSource
}
