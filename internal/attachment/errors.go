package attachment

import "errors"

var (
	// ErrNoSourceFile means there is no upload to ingest.
	ErrNoSourceFile = errors.New("no source file")
	// ErrNoIdentity means the attachment has not been assigned an id by persistence.
	ErrNoIdentity = errors.New("attachment has no identity")
	// ErrIngestionFailed means the upload could not be placed into canonical storage.
	ErrIngestionFailed = errors.New("ingestion failed")
	// ErrPayloadImmutable rejects a new source file for an attachment that already has one.
	ErrPayloadImmutable = errors.New("attachment payload is immutable")
	// ErrNotIngested means the canonical original does not exist.
	ErrNotIngested = errors.New("attachment original is not stored")
)
