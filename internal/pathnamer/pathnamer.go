// Package pathnamer derives the storage layout of attachments from their identity.
package pathnamer

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Identity is what a stored attachment is addressed by.
type Identity struct {
	Kind string // collection the attachment belongs to, e.g. "avatar"
	ID   int64
	Stem string // original filename without extension
}

// Namer maps identities onto paths below root/folder.
type Namer struct {
	root   string
	folder string
}

// New returns a Namer storing attachments under root/folder.
func New(root, folder string) *Namer {
	return &Namer{
		root:   filepath.Clean(root),
		folder: strings.Trim(folder, "/"),
	}
}

// Root is the directory public files are served from.
func (n *Namer) Root() string {
	return n.root
}

// Folder is the attachments folder below Root.
func (n *Namer) Folder() string {
	return n.folder
}

// CanonicalDir is the directory holding the original and all variants of id.
func (n *Namer) CanonicalDir(id Identity) string {
	return filepath.Join(n.root, filepath.FromSlash(n.relativeDir(id)))
}

// CanonicalFile is the path of the stored original.
func (n *Namer) CanonicalFile(id Identity, ext string) string {
	return filepath.Join(n.CanonicalDir(id), filename(id.Stem, ext, ""))
}

// VariantFile is the path of the variant derived for a size token.
func (n *Namer) VariantFile(id Identity, ext, token string) string {
	return filepath.Join(n.CanonicalDir(id), filename(id.Stem, ext, token))
}

// RelativeURL is the slash separated path of the original (empty token) or a variant,
// relative to the public root.
func (n *Namer) RelativeURL(id Identity, ext, token string) string {
	return "/" + path.Join(n.relativeDir(id), filename(id.Stem, ext, token))
}

func (n *Namer) relativeDir(id Identity) string {
	return path.Join(n.folder, Sanitize(id.Kind, true, true), strconv.FormatInt(id.ID, 10))
}

func filename(stem, ext, token string) string {
	name := stem
	if token != "" {
		name += "_" + token
	}
	if ext != "" {
		name += "." + ext
	}
	return name
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	nonAlnumPattern   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	stripReplacer     = strings.NewReplacer(
		"~", "", "`", "", "!", "", "@", "", "#", "", "$", "", "%", "", "^", "", "&", "", "*", "",
		"(", "", ")", "", "=", "", "+", "", "[", "", "{", "", "]", "", "}", "", "\\", "", "|", "",
		";", "", ":", "", "\"", "", "'", "", "‘", "", "’", "", "“", "", "”", "",
		"–", "", "—", "", ",", "", "<", "", ".", "", ">", "", "/", "", "?", "",
	)
)

// Sanitize strips markup and path-unsafe punctuation and turns whitespace runs into dashes.
// alphaOnly additionally drops everything outside [a-zA-Z0-9].
func Sanitize(s string, lower, alphaOnly bool) string {
	clean := tagPattern.ReplaceAllString(s, "")
	clean = strings.TrimSpace(stripReplacer.Replace(clean))
	clean = whitespacePattern.ReplaceAllString(clean, "-")
	if alphaOnly {
		clean = nonAlnumPattern.ReplaceAllString(clean, "")
	}
	if lower {
		clean = strings.ToLower(clean)
	}
	return clean
}
