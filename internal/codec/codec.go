// Package codec reads and writes the raster formats attachments are derived from.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"picvault/internal/storage"

	"golang.org/x/image/draw"
)

// Format is an output encoding.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
)

// ErrUnsupportedFormat is returned for formats the codec cannot read or write.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFromExtension maps a file extension, with or without the dot and in any case,
// onto a Format. Extensions without a codec report false.
func FormatFromExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return JPEG, true
	case "png":
		return PNG, true
	case "gif":
		return GIF, true
	}
	return "", false
}

// SupportsAlpha reports whether f can store transparent pixels.
func (f Format) SupportsAlpha() bool {
	return f == PNG || f == GIF
}

// Raster is a decoded image. Still images have a single frame; animated GIFs keep every
// frame fully composited at canvas size along with its delay in hundredths of a second.
type Raster struct {
	Frames    []image.Image
	Delays    []int
	LoopCount int
}

// Bounds returns the canvas bounds of the raster.
func (r *Raster) Bounds() image.Rectangle {
	if len(r.Frames) == 0 {
		return image.Rectangle{}
	}
	return r.Frames[0].Bounds()
}

// Animated reports whether the raster has more than one frame.
func (r *Raster) Animated() bool {
	return len(r.Frames) > 1
}

// ImageCodec decodes, encodes and probes image files by path.
type ImageCodec interface {
	Decode(path string) (*Raster, error)
	Encode(r *Raster, path string, format Format) error
	ProbeDimensions(path string) (width, height int, err error)
}

// Option configures a Codec.
type Option func(*Codec)

// WithJPEGQuality sets the quality used for JPEG output (1-100).
func WithJPEGQuality(q int) Option {
	return func(c *Codec) {
		if q >= 1 && q <= 100 {
			c.jpegQuality = q
		}
	}
}

// WithAnimation toggles multi-frame GIF handling. Without it only the first frame is used.
func WithAnimation(enabled bool) Option {
	return func(c *Codec) {
		c.animation = enabled
	}
}

// Codec implements ImageCodec with the standard library encoders on top of a FileSystem.
type Codec struct {
	fs          *storage.FileSystem
	jpegQuality int
	animation   bool
}

var _ ImageCodec = (*Codec)(nil)

// New creates a Codec reading and writing through fs.
func New(fs *storage.FileSystem, opts ...Option) *Codec {
	c := &Codec{
		fs:          fs,
		jpegQuality: 75,
		animation:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProbeDimensions reads only the image header.
func (c *Codec) ProbeDimensions(path string) (int, int, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Decode reads the whole image. GIFs are decoded frame by frame when animation is enabled and
// reduced to their first frame otherwise.
func (c *Codec) Decode(path string) (*Raster, error) {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	// frames may be smaller than the logical screen, so even a single frame is placed on it
	if format == "gif" {
		anim, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gif: %w", err)
		}
		if !c.animation && len(anim.Image) > 1 {
			anim.Image = anim.Image[:1]
		}
		return coalesce(anim), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Raster{Frames: []image.Image{img}, Delays: []int{0}}, nil
}

// Encode writes r to path in the given format, replacing any existing file atomically.
func (c *Codec) Encode(r *Raster, path string, format Format) error {
	if len(r.Frames) == 0 {
		return errors.New("raster has no frames")
	}
	return c.fs.WriteAtomic(path, func(w io.Writer) error {
		switch format {
		case JPEG:
			return jpeg.Encode(w, r.Frames[0], &jpeg.Options{Quality: c.jpegQuality})
		case PNG:
			return png.Encode(w, r.Frames[0])
		case GIF:
			return encodeGIF(w, r, c.animation)
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
		}
	})
}

func encodeGIF(w io.Writer, r *Raster, animated bool) error {
	if !animated || !r.Animated() {
		return gif.Encode(w, paletted(r.Frames[0]), &gif.Options{NumColors: len(gifPalette)})
	}

	out := &gif.GIF{LoopCount: r.LoopCount}
	for i, frame := range r.Frames {
		out.Image = append(out.Image, paletted(frame))
		out.Delay = append(out.Delay, r.Delays[i])
		out.Disposal = append(out.Disposal, gif.DisposalBackground)
	}
	return gif.EncodeAll(w, out)
}

// gifPalette is the web-safe palette plus a fully transparent entry.
var gifPalette = append(append(color.Palette{}, palette.WebSafe...), color.RGBA{})

func paletted(img image.Image) *image.Paletted {
	if p, ok := img.(*image.Paletted); ok {
		return p
	}
	b := img.Bounds()
	dst := image.NewPaletted(b, gifPalette)
	draw.FloydSteinberg.Draw(dst, b, img, b.Min)
	return dst
}

// coalesce flattens GIF frames, which may cover only part of the logical screen and rely on
// disposal of the previous frame, into full canvas snapshots.
func coalesce(anim *gif.GIF) *Raster {
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() && len(anim.Image) > 0 {
		bounds = anim.Image[0].Bounds()
	}

	canvas := image.NewRGBA(bounds)
	r := &Raster{LoopCount: anim.LoopCount}
	for i, frame := range anim.Image {
		var previous *image.RGBA
		disposal := byte(gif.DisposalNone)
		if i < len(anim.Disposal) {
			disposal = anim.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		r.Frames = append(r.Frames, cloneRGBA(canvas))
		delay := 0
		if i < len(anim.Delay) {
			delay = anim.Delay[i]
		}
		r.Delays = append(r.Delays, delay)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return r
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
