package storage

import (
	"bytes"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var ErrNoPublicUrl = errors.New("Storage has no public URL for this file")

// Storage is an abstraction of a blob store (eg a local directory, or a GCS bucket).
// Names are slash separated paths, relative to the root of the store.
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error

	// URL returns a public URL for the file, or ErrNoPublicUrl
	URL(name string) (string, error)
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func WriteBytes(s Storage, name string, content []byte) error {
	return WriteFile(s, name, bytes.NewReader(content))
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}

// ValidName rejects names that could escape the root of the store
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// Join builds a storage name from parts
func Join(parts ...string) string {
	return path.Join(parts...)
}
