package capture

import (
	"bytes"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/stretchr/testify/require"
)

func TestJPEGWriter(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewStorageFS(logs.NewTestingLog(t), root)
	require.NoError(t, err)
	w := NewJPEGWriter(store, "RESULT_IMAGE/drive01", 0)
	require.Equal(t, DefaultQuality, w.Quality)

	name := w.ImageName(7)
	require.Regexp(t, regexp.MustCompile(`^7_[0-9a-f-]{36}\.jpg$`), name)
	require.NotEqual(t, name, w.ImageName(7))

	img := cimg.NewImage(64, 32, cimg.PixelFormatRGB)
	require.NoError(t, w.Write(name, img))
	require.Equal(t, 1, w.Written())

	raw, err := os.ReadFile(filepath.Join(root, "RESULT_IMAGE", "drive01", name))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Width)
	require.Equal(t, 32, cfg.Height)
}
