package variant

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"picvault/internal/codec"
	"picvault/internal/geometry"
	"picvault/internal/pathnamer"
	"picvault/internal/sizespec"
	"picvault/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	fs    *storage.FileSystem
	codec *codec.Codec
	namer *pathnamer.Namer
	store *Store
	id    pathnamer.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := storage.NewMemoryFileSystem()
	c := codec.New(fs)
	namer := pathnamer.New("public", "attachments")
	return &fixture{
		fs:    fs,
		codec: c,
		namer: namer,
		store: New(fs, c, namer, WithLogger(zap.NewNop()), WithParallelism(3)),
		id:    pathnamer.Identity{Kind: "photo", ID: 1, Stem: "beach"},
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func (f *fixture) writeOriginal(t *testing.T, ext string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	switch ext {
	case "jpg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	default:
		require.NoError(t, png.Encode(&buf, img))
	}
	path := f.namer.CanonicalFile(f.id, ext)
	require.NoError(t, f.fs.WriteFile(path, buf.Bytes()))
	return path
}

func (f *fixture) dims(t *testing.T, path string) (int, int) {
	t.Helper()
	w, h, err := f.codec.ProbeDimensions(path)
	require.NoError(t, err)
	return w, h
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, f.fs.Walk(f.namer.CanonicalDir(f.id), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			names = append(names, filepath.Base(path))
		}
		return nil
	}))
	return names
}

func TestStore_Materialize(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "jpg", gradient(800, 600))
	specs := sizespec.ParseAll([]string{"400x400c", "100h", "200x200b", "300x100e"})

	require.NoError(t, f.store.Materialize(context.Background(), original, "jpg", f.id, specs, true))

	tests := map[string][2]int{
		"400x400c": {400, 400},
		"100h":     {133, 100},
		"200x200b": {200, 150},
		"300x100e": {300, 100},
	}
	for token, want := range tests {
		w, h := f.dims(t, f.namer.VariantFile(f.id, "jpg", token))
		assert.Equal(t, want[0], w, token)
		assert.Equal(t, want[1], h, token)
	}
}

func TestStore_MaterializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "png", gradient(120, 80))
	specs := sizespec.ParseAll([]string{"60w", "50x50c", "60w"})

	require.NoError(t, f.store.Materialize(context.Background(), original, "png", f.id, specs, false))
	first, err := f.fs.ReadFile(f.namer.VariantFile(f.id, "png", "50x50c"))
	require.NoError(t, err)
	filesAfterFirst := f.files(t)

	require.NoError(t, f.store.Materialize(context.Background(), original, "png", f.id, specs, false))
	second, err := f.fs.ReadFile(f.namer.VariantFile(f.id, "png", "50x50c"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, filesAfterFirst, f.files(t))
	assert.ElementsMatch(t, []string{"beach.png", "beach_60w.png", "beach_50x50c.png"}, f.files(t))
}

func TestStore_MaterializeSkipsUnsupportedExtensions(t *testing.T) {
	f := newFixture(t)
	path := f.namer.CanonicalFile(f.id, "pdf")
	require.NoError(t, f.fs.WriteFile(path, []byte("%PDF-1.4")))

	err := f.store.Materialize(context.Background(), path, "pdf", f.id, sizespec.ParseAll([]string{"100w"}), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"beach.pdf"}, f.files(t))
}

func TestStore_MaterializeUnreadableOriginal(t *testing.T) {
	f := newFixture(t)
	path := f.namer.CanonicalFile(f.id, "jpg")
	require.NoError(t, f.fs.WriteFile(path, []byte("garbage")))

	err := f.store.Materialize(context.Background(), path, "jpg", f.id, sizespec.ParseAll([]string{"100w", "10x10c"}), true)

	var verr *VariantError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"100w", "10x10c"}, verr.Tokens())
}

// failingCodec fails to encode any path containing failOn.
type failingCodec struct {
	*codec.Codec
	failOn string
}

var errDiskFull = errors.New("disk full")

func (c *failingCodec) Encode(r *codec.Raster, path string, format codec.Format) error {
	if strings.Contains(path, c.failOn) {
		return errDiskFull
	}
	return c.Codec.Encode(r, path, format)
}

func TestStore_MaterializePartialFailure(t *testing.T) {
	f := newFixture(t)
	store := New(f.fs, &failingCodec{Codec: f.codec, failOn: "_20w"}, f.namer, WithLogger(zap.NewNop()))
	original := f.writeOriginal(t, "png", gradient(100, 100))

	err := store.Materialize(context.Background(), original, "png", f.id, sizespec.ParseAll([]string{"10w", "20w", "30w"}), true)

	var verr *VariantError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Failures, 1)
	assert.Equal(t, "20w", verr.Failures[0].Token)
	assert.ErrorIs(t, err, errDiskFull)

	for _, token := range []string{"10w", "30w"} {
		exists, err := f.fs.Exists(f.namer.VariantFile(f.id, "png", token))
		require.NoError(t, err)
		assert.True(t, exists, token)
	}
}

func TestStore_MaterializeCancelled(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "png", gradient(10, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.store.Materialize(ctx, original, "png", f.id, sizespec.ParseAll([]string{"5w"}), true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "png", gradient(40, 40))
	specs := sizespec.ParseAll([]string{"20w", "10x10c"})
	require.NoError(t, f.store.Materialize(context.Background(), original, "png", f.id, specs, true))

	f.store.Remove(f.id, "png", specs)
	assert.Empty(t, f.files(t))

	assert.NotPanics(t, func() { f.store.Remove(f.id, "png", specs) })
}

func TestStore_Missing(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "png", gradient(40, 40))
	require.NoError(t, f.store.Materialize(context.Background(), original, "png", f.id, sizespec.ParseAll([]string{"20w"}), true))

	missing := f.store.Missing(f.id, "png", sizespec.ParseAll([]string{"20w", "30h"}))
	require.Len(t, missing, 1)
	assert.Equal(t, "30h", missing[0].Token)

	assert.Nil(t, f.store.Missing(f.id, "txt", sizespec.ParseAll([]string{"20w"})))
}

func TestStore_Resample(t *testing.T) {
	f := newFixture(t)
	original := f.writeOriginal(t, "png", gradient(400, 200))

	require.NoError(t, f.store.Resample(context.Background(), original, "png", sizespec.Parse("100x100b"), false))
	w, h := f.dims(t, original)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	before, err := f.fs.ReadFile(original)
	require.NoError(t, err)
	require.NoError(t, f.store.Resample(context.Background(), original, "png", sizespec.Parse("1000x1000b"), false))
	after, err := f.fs.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRender_Background(t *testing.T) {
	src := &codec.Raster{Frames: []image.Image{gradient(100, 50)}, Delays: []int{0}}
	tr, err := geometry.Compute(100, 50, sizespec.Parse("100x100e"), true)
	require.NoError(t, err)

	t.Run("transparent padding for png", func(t *testing.T) {
		out := Render(src, tr, codec.PNG)
		require.Len(t, out.Frames, 1)
		assert.Equal(t, image.Rect(0, 0, 100, 100), out.Frames[0].Bounds())
		_, _, _, a := out.Frames[0].At(0, 0).RGBA()
		assert.Zero(t, a)
		_, _, _, a = out.Frames[0].At(50, 50).RGBA()
		assert.NotZero(t, a)
	})

	t.Run("white padding for jpeg", func(t *testing.T) {
		out := Render(src, tr, codec.JPEG)
		r, g, b, a := out.Frames[0].At(0, 0).RGBA()
		assert.Equal(t, [4]uint32{0xffff, 0xffff, 0xffff, 0xffff}, [4]uint32{r, g, b, a})
	})
}
