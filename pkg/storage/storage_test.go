package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	require.True(t, ValidName("a.json"))
	require.True(t, ValidName("RESULT_IMAGE/drive/7_x.jpg"))
	require.True(t, ValidName("a..b.jpg"))
	require.False(t, ValidName(""))
	require.False(t, ValidName("/etc/passwd"))
	require.False(t, ValidName("../x"))
	require.False(t, ValidName("a/../../x"))
	require.False(t, ValidName(`a\b`))
}

func TestStorageFS(t *testing.T) {
	root := t.TempDir()
	s, err := NewStorageFS(logs.NewTestingLog(t), root)
	require.NoError(t, err)

	require.NoError(t, WriteFile(s, "images/drive/1_a.jpg", bytes.NewReader([]byte("jpeg"))))
	require.NoError(t, WriteBytes(s, "report.json", []byte("[]")))

	raw, err := os.ReadFile(filepath.Join(root, "images", "drive", "1_a.jpg"))
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(raw))

	b, err := ReadFile(s, "report.json")
	require.NoError(t, err)
	require.Equal(t, "[]", string(b))

	_, err = s.WriteFile("../escape.txt")
	require.Error(t, err)

	_, err = s.URL("report.json")
	require.ErrorIs(t, err, ErrNoPublicUrl)

	require.NoError(t, s.DeleteFile("report.json"))
	_, err = s.ReadFile("report.json")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.MkdirAll("video"))
	st, err := os.Stat(filepath.Join(root, "video"))
	require.NoError(t, err)
	require.True(t, st.IsDir())
}
