package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
)

// StorageFS is a filesystem-based blob store
type StorageFS struct {
	Root string
	log  logs.Log
}

func NewStorageFS(log logs.Log, root string) (*StorageFS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create root directory %v (relative path %v): %w", absRoot, root, err)
	}
	return &StorageFS{
		Root: absRoot,
		log:  log,
	}, nil
}

// Filename returns the path of 'name' on disk
func (fs *StorageFS) Filename(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("Invalid file name %v", name)
	}
	return filepath.Join(fs.Root, filepath.FromSlash(name)), nil
}

// MkdirAll creates the directory 'name' (eg so that an external process can write into it)
func (fs *StorageFS) MkdirAll(name string) error {
	full, err := fs.Filename(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0755)
}

func (fs *StorageFS) WriteFile(name string) (io.WriteCloser, error) {
	fullPath, err := fs.Filename(name)
	if err != nil {
		return nil, err
	}
	fs.log.Debugf("Writing file %v", name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (fs *StorageFS) ReadFile(name string) (*File, error) {
	fullPath, err := fs.Filename(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &File{
		Reader:     file,
		ModifiedAt: st.ModTime(),
		Size:       st.Size(),
	}, nil
}

func (fs *StorageFS) DeleteFile(name string) error {
	fullPath, err := fs.Filename(name)
	if err != nil {
		return err
	}
	fs.log.Infof("Deleting file %v", name)
	return os.Remove(fullPath)
}

func (fs *StorageFS) URL(name string) (string, error) {
	return "", ErrNoPublicUrl
}
