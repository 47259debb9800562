package attachment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"picvault/internal/codec"
	"picvault/internal/pathnamer"
	"picvault/internal/storage"
	"picvault/internal/variant"

	"github.com/o1egl/govatar"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(fs *storage.FileSystem) *Manager {
	c := codec.New(fs)
	namer := pathnamer.New("public", "attachments")
	store := variant.New(fs, c, namer, variant.WithLogger(zap.NewNop()))
	return NewManager(fs, namer, store, WithLogger(zap.NewNop()))
}

func writeImage(t *testing.T, fs *storage.FileSystem, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, fs.WriteFile(path, buf.Bytes()))
}

func checker(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/10+y/10)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 200, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{B: 200, A: 255})
			}
		}
	}
	return img
}

func exists(t *testing.T, fs *storage.FileSystem, path string) bool {
	t.Helper()
	ok, err := fs.Exists(path)
	require.NoError(t, err)
	return ok
}

func prepared(t *testing.T, fs *storage.FileSystem, profile Profile) *Attachment {
	t.Helper()
	writeImage(t, fs, "incoming/Holiday.PNG", checker(200, 100))
	a := New("gallery", profile)
	require.NoError(t, a.AddFile(fs, "incoming/Holiday.PNG"))
	a.ID = 7
	return a
}

func TestAttachment_AddFile(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	a := prepared(t, fs, Profile{})

	assert.Equal(t, "Holiday", a.Filename)
	assert.Equal(t, "PNG", a.Extension)
	assert.Equal(t, "image/png", a.FileType)
	assert.True(t, a.IsImage())
	assert.Positive(t, a.Size)
	assert.Equal(t, "incoming/Holiday.PNG", a.SourcePath)

	err := New("", Profile{}).AddFile(fs, "incoming/none.png")
	assert.ErrorIs(t, err, ErrNoSourceFile)
}

func TestManager_Create(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{Sizes: []string{"100w", "50x50c"}})

	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	assert.Equal(t, StateIngested, a.State)
	assert.Empty(t, a.SourcePath)
	assert.False(t, exists(t, fs, "incoming/Holiday.PNG"))
	assert.True(t, exists(t, fs, m.OriginalPath(a)))
	assert.True(t, exists(t, fs, m.VariantPath(a, "100w")))
	assert.True(t, exists(t, fs, m.VariantPath(a, "50x50c")))
}

func TestManager_CreateKeepSource(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{KeepSource: true})

	require.NoError(t, m.AfterCreate(context.Background(), a))
	assert.True(t, exists(t, fs, "incoming/Holiday.PNG"))
	assert.True(t, exists(t, fs, m.OriginalPath(a)))
}

func TestManager_CreateFailures(t *testing.T) {
	t.Run("no source path", func(t *testing.T) {
		fs := storage.NewMemoryFileSystem()
		a := &Attachment{ID: 1, Kind: "x", Filename: "f", Extension: "png"}
		assert.ErrorIs(t, newManager(fs).Create(context.Background(), a, "", false), ErrNoSourceFile)
	})

	t.Run("source missing", func(t *testing.T) {
		fs := storage.NewMemoryFileSystem()
		a := &Attachment{ID: 1, Kind: "x", Filename: "f", Extension: "png"}
		assert.ErrorIs(t, newManager(fs).Create(context.Background(), a, "incoming/gone.png", false), ErrNoSourceFile)
	})

	t.Run("no identity", func(t *testing.T) {
		fs := storage.NewMemoryFileSystem()
		a := prepared(t, fs, Profile{})
		a.ID = 0
		assert.ErrorIs(t, newManager(fs).Create(context.Background(), a, a.SourcePath, false), ErrNoIdentity)
	})

	t.Run("storage not writable", func(t *testing.T) {
		base := storage.NewMemoryFileSystem()
		a := prepared(t, base, Profile{Sizes: []string{"10w"}})
		fs := storage.NewWithFs(afero.NewReadOnlyFs(base.Fs()), "data")
		m := newManager(fs)

		err := m.Create(context.Background(), a, a.SourcePath, false)
		assert.ErrorIs(t, err, ErrIngestionFailed)
		assert.Equal(t, StateUnsaved, a.State)
		assert.True(t, exists(t, base, "incoming/Holiday.PNG"))
		assert.False(t, exists(t, base, m.OriginalPath(a)))
	})
}

// zeroScreenGIF writes a GIF whose logical screen claims to be 0x0.
func zeroScreenGIF(t *testing.T, fs *storage.FileSystem, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{color.Black, color.White}), nil))
	data := buf.Bytes()
	for i := 6; i < 10; i++ {
		data[i] = 0
	}
	require.NoError(t, fs.WriteFile(path, data))
}

func TestManager_CreateUndoesIngestion(t *testing.T) {
	for _, keep := range []bool{false, true} {
		fs := storage.NewMemoryFileSystem()
		m := newManager(fs)
		zeroScreenGIF(t, fs, "incoming/zero.gif")
		a := New("photo", Profile{Sizes: []string{"10w"}, KeepSource: keep})
		require.NoError(t, a.AddFile(fs, "incoming/zero.gif"))
		a.ID = 4

		err := m.AfterCreate(context.Background(), a)
		require.Error(t, err)
		var verr *variant.VariantError
		assert.False(t, errors.As(err, &verr))

		assert.Equal(t, StateUnsaved, a.State, "keep=%v", keep)
		assert.Equal(t, "incoming/zero.gif", a.SourcePath)
		assert.True(t, exists(t, fs, "incoming/zero.gif"), "keep=%v", keep)
		assert.False(t, exists(t, fs, m.OriginalPath(a)), "keep=%v", keep)
		assert.False(t, exists(t, fs, m.namer.CanonicalDir(a.Identity())), "keep=%v", keep)
	}
}

func TestManager_CreateReportsVariantFailures(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	require.NoError(t, fs.WriteFile("incoming/broken.png", []byte("definitely not a png")))
	a := New("gallery", Profile{Sizes: []string{"10w"}})
	require.NoError(t, a.AddFile(fs, "incoming/broken.png"))
	a.ID = 3

	err := m.Create(context.Background(), a, a.SourcePath, false)

	var verr *variant.VariantError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"10w"}, verr.Tokens())
	assert.Equal(t, StateIngested, a.State)
	assert.True(t, exists(t, fs, m.OriginalPath(a)))
}

func TestManager_CreateNonImage(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	require.NoError(t, fs.WriteFile("incoming/notes.txt", []byte("plain text notes")))
	a := New("docs", Profile{Sizes: []string{"100w"}})
	require.NoError(t, a.AddFile(fs, "incoming/notes.txt"))
	a.ID = 9

	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))
	assert.False(t, a.IsImage())
	assert.True(t, exists(t, fs, m.OriginalPath(a)))
	assert.False(t, exists(t, fs, m.VariantPath(a, "100w")))
}

func TestManager_Update(t *testing.T) {
	m := newManager(storage.NewMemoryFileSystem())
	a := &Attachment{ID: 1, State: StateIngested}

	assert.NoError(t, m.BeforeUpdate(a))

	a.SourcePath = "incoming/replacement.png"
	assert.ErrorIs(t, m.BeforeUpdate(a), ErrPayloadImmutable)
}

func TestManager_Delete(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{Sizes: []string{"100w", "20h"}})
	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	m.BeforeDelete(a)

	assert.Equal(t, StateDeleted, a.State)
	for _, p := range []string{m.OriginalPath(a), m.VariantPath(a, "100w"), m.VariantPath(a, "20h")} {
		assert.False(t, exists(t, fs, p), p)
	}
	assert.NotPanics(t, func() { m.Delete(a) })
}

func TestManager_DroppedSizes(t *testing.T) {
	t.Run("prune removes only dropped variants", func(t *testing.T) {
		fs := storage.NewMemoryFileSystem()
		m := newManager(fs)
		a := prepared(t, fs, Profile{Sizes: []string{"60w", "30w"}})
		require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

		previous := a.Sizes
		a.Sizes = []string{"60w"}
		m.Prune(a, previous)

		assert.True(t, exists(t, fs, m.OriginalPath(a)))
		assert.True(t, exists(t, fs, m.VariantPath(a, "60w")))
		assert.False(t, exists(t, fs, m.VariantPath(a, "30w")))
	})

	t.Run("delete clears variants no longer declared", func(t *testing.T) {
		fs := storage.NewMemoryFileSystem()
		m := newManager(fs)
		a := prepared(t, fs, Profile{Sizes: []string{"60w", "30w"}})
		require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

		a.Sizes = []string{"60w"}
		m.Delete(a)

		for _, p := range []string{m.OriginalPath(a), m.VariantPath(a, "60w"), m.VariantPath(a, "30w")} {
			assert.False(t, exists(t, fs, p), p)
		}
	})
}

func TestManager_Regenerate(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{Sizes: []string{"100w"}})
	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	t.Run("derives newly declared sizes", func(t *testing.T) {
		a.Sizes = append(a.Sizes, "30x30e")
		require.NoError(t, m.Regenerate(context.Background(), a))
		assert.True(t, exists(t, fs, m.VariantPath(a, "30x30e")))
	})

	t.Run("repairs deleted variants", func(t *testing.T) {
		require.NoError(t, fs.Remove(m.VariantPath(a, "100w")))
		require.NoError(t, m.Regenerate(context.Background(), a))
		assert.True(t, exists(t, fs, m.VariantPath(a, "100w")))
	})

	t.Run("requires the original", func(t *testing.T) {
		other := &Attachment{ID: 99, Kind: "gallery", Filename: "missing", Extension: "png"}
		assert.ErrorIs(t, m.Regenerate(context.Background(), other), ErrNotIngested)
	})
}

func TestManager_OriginalMaxSize(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{OriginalMaxSize: "100x100b", Sizes: []string{"400w"}, AllowUpscale: true})

	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	w, h, err := codec.New(fs).ProbeDimensions(m.OriginalPath(a))
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	w, h, err = codec.New(fs).ProbeDimensions(m.VariantPath(a, "400w"))
	require.NoError(t, err)
	assert.Equal(t, 400, w)
	assert.Equal(t, 200, h)
}

func TestManager_Backfill(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)
	a := prepared(t, fs, Profile{Sizes: []string{"50w"}})
	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	worked, err := m.Backfill(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, worked)

	a.Sizes = append(a.Sizes, "25h")
	worked, err = m.Backfill(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.True(t, exists(t, fs, m.VariantPath(a, "25h")))
}

func TestManager_AvatarProfile(t *testing.T) {
	fs := storage.NewMemoryFileSystem()
	m := newManager(fs)

	img, err := govatar.GenerateForUsername(govatar.FEMALE, "ada")
	require.NoError(t, err)
	writeImage(t, fs, "incoming/ada.png", img)

	a := New("avatar", Profile{Sizes: []string{"64x64c", "32x32c"}})
	require.NoError(t, a.AddFile(fs, "incoming/ada.png"))
	a.ID = 1
	require.NoError(t, m.Create(context.Background(), a, a.SourcePath, false))

	for token, side := range map[string]int{"64x64c": 64, "32x32c": 32} {
		w, h, err := codec.New(fs).ProbeDimensions(m.VariantPath(a, token))
		require.NoError(t, err)
		assert.Equal(t, side, w)
		assert.Equal(t, side, h)
	}
}
