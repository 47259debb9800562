// Package geometry turns a size spec and source dimensions into a single blit description.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"picvault/internal/sizespec"
)

// ErrInvalidDimensions is returned when the source width or height is not positive.
var ErrInvalidDimensions = errors.New("invalid source dimensions")

// Transform copies the source rectangle (SrcX, SrcY, SrcWidth, SrcHeight) scaled into the
// destination rectangle (DestX, DestY, DestWidth, DestHeight) of a CanvasWidth x CanvasHeight canvas.
type Transform struct {
	CanvasWidth  int `json:"canvas_width"`
	CanvasHeight int `json:"canvas_height"`
	DestX        int `json:"dest_x"`
	DestY        int `json:"dest_y"`
	DestWidth    int `json:"dest_width"`
	DestHeight   int `json:"dest_height"`
	SrcX         int `json:"src_x"`
	SrcY         int `json:"src_y"`
	SrcWidth     int `json:"src_width"`
	SrcHeight    int `json:"src_height"`
}

// Identity copies a w x h source unchanged onto a canvas of the same size.
func Identity(w, h int) Transform {
	return fullFrame(w, h, w, h)
}

// IsIdentity reports whether t leaves a w x h source untouched.
func (t Transform) IsIdentity(w, h int) bool {
	return t == Identity(w, h)
}

// Compute derives the transform for spec applied to a srcW x srcH source. When allowUpscale is
// false, a request that would enlarge the source on every constrained axis yields Identity.
func Compute(srcW, srcH int, spec sizespec.Spec, allowUpscale bool) (Transform, error) {
	if srcW <= 0 || srcH <= 0 {
		return Transform{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, srcW, srcH)
	}
	if !spec.HasTarget() {
		return Identity(srcW, srcH), nil
	}

	switch spec.Mode {
	case sizespec.ModeFixedWidth:
		return fixedWidth(srcW, srcH, spec.Width, allowUpscale), nil
	case sizespec.ModeFixedHeight:
		return fixedHeight(srcW, srcH, spec.Height, allowUpscale), nil
	case sizespec.ModeCroppedBox:
		return croppedBox(srcW, srcH, spec.Width, spec.Height, allowUpscale), nil
	case sizespec.ModeExpandedBox:
		return expandedBox(srcW, srcH, spec.Width, spec.Height, allowUpscale), nil
	default:
		return proportionalBox(srcW, srcH, spec.Width, spec.Height, allowUpscale), nil
	}
}

func fixedWidth(w, h, newW int, allowUpscale bool) Transform {
	if newW > w && !allowUpscale {
		return Identity(w, h)
	}
	newH := round(float64(newW) / float64(w) * float64(h))
	return fullFrame(w, h, newW, newH)
}

func fixedHeight(w, h, newH int, allowUpscale bool) Transform {
	if newH > h && !allowUpscale {
		return Identity(w, h)
	}
	newW := round(float64(newH) / float64(h) * float64(w))
	return fullFrame(w, h, newW, newH)
}

func proportionalBox(w, h, newW, newH int, allowUpscale bool) Transform {
	if guarded(w, h, newW, newH, allowUpscale) {
		return Identity(w, h)
	}
	if ratio(w, h) >= ratio(newW, newH) {
		newH = round(float64(newW) / float64(w) * float64(h))
	} else {
		newW = round(float64(newH) / float64(h) * float64(w))
	}
	return fullFrame(w, h, newW, newH)
}

func croppedBox(w, h, newW, newH int, allowUpscale bool) Transform {
	if guarded(w, h, newW, newH, allowUpscale) {
		return Identity(w, h)
	}

	t := Transform{
		CanvasWidth:  newW,
		CanvasHeight: newH,
		DestWidth:    newW,
		DestHeight:   newH,
	}
	if ratio(w, h) < ratio(newW, newH) {
		scale := float64(newW) / float64(w)
		t.SrcY = round((float64(h) - float64(newH)/scale) / 2)
		t.SrcWidth = w
		t.SrcHeight = clamp(round(float64(newH)/scale), h)
	} else {
		scale := float64(newH) / float64(h)
		t.SrcX = round((float64(w) - float64(newW)/scale) / 2)
		t.SrcWidth = clamp(round(float64(newW)/scale), w)
		t.SrcHeight = h
	}
	return t
}

func expandedBox(w, h, newW, newH int, allowUpscale bool) Transform {
	if guarded(w, h, newW, newH, allowUpscale) {
		return Identity(w, h)
	}

	t := Transform{
		CanvasWidth:  newW,
		CanvasHeight: newH,
		SrcWidth:     w,
		SrcHeight:    h,
	}
	if ratio(w, h) < ratio(newW, newH) {
		t.DestWidth = clamp(round(float64(w)*(float64(newH)/float64(h))), newW)
		t.DestHeight = newH
		t.DestX = round(float64(newW-t.DestWidth) / 2)
	} else {
		t.DestWidth = newW
		t.DestHeight = clamp(round(float64(h)*(float64(newW)/float64(w))), newH)
		t.DestY = round(float64(newH-t.DestHeight) / 2)
	}
	return t
}

// guarded is the shared upscale guard of the two-dimensional modes.
func guarded(w, h, newW, newH int, allowUpscale bool) bool {
	return newW > w && newH > h && !allowUpscale
}

func fullFrame(w, h, newW, newH int) Transform {
	newW, newH = atLeastOne(newW), atLeastOne(newH)
	return Transform{
		CanvasWidth:  newW,
		CanvasHeight: newH,
		DestWidth:    newW,
		DestHeight:   newH,
		SrcWidth:     w,
		SrcHeight:    h,
	}
}

func ratio(w, h int) float64 {
	return float64(w) / float64(h)
}

// round is half away from zero.
func round(v float64) int {
	return int(math.Round(v))
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	return atLeastOne(v)
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
