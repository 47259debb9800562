package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"picvault/internal/attachment"
	"picvault/internal/config"
	"picvault/internal/storage"

	env "github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWire(t *testing.T) {
	cfg, err := config.FromEnvSet(afero.NewMemMapFs(), env.EnvSet{
		"PICVAULT_DEFAULT_SIZES": "40w",
		"PICVAULT_WEBDAV_URL":    "http://dav.invalid/backups",
		"PICVAULT_S3_BUCKET":     "vault",
		"PICVAULT_S3_ACCESS_KEY": "ak",
		"PICVAULT_S3_SECRET_KEY": "sk",
	})
	require.NoError(t, err)

	fs := storage.NewMemoryFileSystem()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	a, err := Wire(context.Background(), cfg, fs, dsn, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"s3", "webdav"}, a.Backup.Targets())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 80, 40))))
	require.NoError(t, fs.WriteFile("data/incoming/g.png", buf.Bytes()))

	att := attachment.New("scan", cfg.Profile("scan"))
	require.NoError(t, att.AddFile(fs, "data/incoming/g.png"))
	require.NoError(t, a.Repo.Create(context.Background(), att))

	exists, err := fs.Exists(a.Manager.VariantPath(att, "40w"))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "data/public/attachments/scan/1/g_40w.png", a.Manager.VariantPath(att, "40w"))
}
