// Package sizespec parses size tokens such as "400w" or "200x200c" into typed resize requests.
package sizespec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Mode selects how a source image is fitted to the requested dimensions.
type Mode int

const (
	// ModeProportionalBox fits the image inside a box keeping its aspect ratio, without padding.
	// Without a target it leaves the image at its source size.
	ModeProportionalBox Mode = iota
	// ModeFixedWidth scales the image to an exact width.
	ModeFixedWidth
	// ModeFixedHeight scales the image to an exact height.
	ModeFixedHeight
	// ModeCroppedBox fills the box exactly and crops the centered overflow.
	ModeCroppedBox
	// ModeExpandedBox fits the image inside the box and pads it to the exact box size.
	ModeExpandedBox
)

func (m Mode) String() string {
	switch m {
	case ModeFixedWidth:
		return "fixed-width"
	case ModeFixedHeight:
		return "fixed-height"
	case ModeCroppedBox:
		return "cropped-box"
	case ModeExpandedBox:
		return "expanded-box"
	default:
		return "proportional-box"
	}
}

// ErrUnrecognized is reported by Validate for tokens Parse treats as the default spec.
var ErrUnrecognized = errors.New("unrecognized size token")

// Spec is a parsed size token. Token is kept verbatim because it names the variant file.
type Spec struct {
	Token  string
	Mode   Mode
	Width  int
	Height int
}

// HasTarget reports whether the spec carries explicit target dimensions.
func (s Spec) HasTarget() bool {
	switch s.Mode {
	case ModeFixedWidth:
		return s.Width > 0
	case ModeFixedHeight:
		return s.Height > 0
	default:
		return s.Width > 0 && s.Height > 0
	}
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%s %dx%d)", s.Token, s.Mode, s.Width, s.Height)
}

var (
	widthPattern  = regexp.MustCompile(`(?i)^([0-9]+)w$`)
	heightPattern = regexp.MustCompile(`(?i)^([0-9]+)h$`)
	boxPattern    = regexp.MustCompile(`(?i)^([0-9]+)x([0-9]+)([bce])$`)
)

// Parse never fails: tokens outside the grammar yield a target-less proportional box.
func Parse(token string) Spec {
	spec, ok := parse(token)
	if !ok {
		return Spec{Token: token, Mode: ModeProportionalBox}
	}
	return spec
}

// ParseAll parses every token, preserving order.
func ParseAll(tokens []string) []Spec {
	specs := make([]Spec, 0, len(tokens))
	for _, t := range tokens {
		specs = append(specs, Parse(t))
	}
	return specs
}

// Validate reports whether token belongs to the grammar.
func Validate(token string) error {
	if _, ok := parse(token); !ok {
		return fmt.Errorf("%w: %q", ErrUnrecognized, token)
	}
	return nil
}

func parse(token string) (Spec, bool) {
	if m := widthPattern.FindStringSubmatch(token); m != nil {
		w, ok := positive(m[1])
		return Spec{Token: token, Mode: ModeFixedWidth, Width: w}, ok
	}
	if m := heightPattern.FindStringSubmatch(token); m != nil {
		h, ok := positive(m[1])
		return Spec{Token: token, Mode: ModeFixedHeight, Height: h}, ok
	}
	if m := boxPattern.FindStringSubmatch(token); m != nil {
		w, okW := positive(m[1])
		h, okH := positive(m[2])
		if !okW || !okH {
			return Spec{}, false
		}
		spec := Spec{Token: token, Width: w, Height: h}
		switch m[3] {
		case "b", "B":
			spec.Mode = ModeProportionalBox
		case "c", "C":
			spec.Mode = ModeCroppedBox
		case "e", "E":
			spec.Mode = ModeExpandedBox
		}
		return spec, true
	}
	return Spec{}, false
}

func positive(digits string) (int, bool) {
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
