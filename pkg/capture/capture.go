// Package capture saves the frames on which new defects are first seen.
package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/google/uuid"
)

const DefaultQuality = 90

// JPEGWriter compresses frames and writes them into a directory of a blob store
type JPEGWriter struct {
	Store   storage.Storage
	Dir     string // Prefix inside Store, eg "RESULT_IMAGE/drive01"
	Quality int

	newID   func() string
	written atomic.Int64
}

func NewJPEGWriter(store storage.Storage, dir string, quality int) *JPEGWriter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEGWriter{
		Store:   store,
		Dir:     dir,
		Quality: quality,
		newID:   func() string { return uuid.NewString() },
	}
}

// ImageName returns a new unique name for a capture of the given track, such as "7_0b1f....jpg"
func (w *JPEGWriter) ImageName(trackID int64) string {
	return fmt.Sprintf("%v_%v.jpg", trackID, w.newID())
}

// Path returns the storage name of an image
func (w *JPEGWriter) Path(imageName string) string {
	return storage.Join(w.Dir, imageName)
}

func (w *JPEGWriter) Write(imageName string, img *cimg.Image) error {
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, w.Quality, 0))
	if err != nil {
		return fmt.Errorf("Failed to compress %v: %w", imageName, err)
	}
	if err := storage.WriteBytes(w.Store, w.Path(imageName), jpg); err != nil {
		return fmt.Errorf("Failed to save %v: %w", imageName, err)
	}
	w.written.Add(1)
	return nil
}

// Written is the number of images saved so far
func (w *JPEGWriter) Written() int {
	return int(w.written.Load())
}
