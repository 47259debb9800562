package variant

import (
	"fmt"
	"strings"
)

// CodecError is the failure of a single size spec.
type CodecError struct {
	Token string
	Path  string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("variant %q (%s): %v", e.Token, e.Path, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// VariantError aggregates the per-spec failures of one materialization. Variants that were
// produced successfully are left in place.
type VariantError struct {
	Failures []*CodecError
}

func (e *VariantError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d variant(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *VariantError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// Tokens lists the size tokens that failed.
func (e *VariantError) Tokens() []string {
	tokens := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		tokens = append(tokens, f.Token)
	}
	return tokens
}
