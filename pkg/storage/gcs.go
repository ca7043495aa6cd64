package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
)

// StorageGCS is a Google Cloud Storage-based blob store
type StorageGCS struct {
	bucketName string
	prefix     string
	client     *gcs.Client
	bucket     *gcs.BucketHandle
	isPublic   bool
	log        logs.Log
}

// NewStorageGCS opens a bucket. All names are placed under 'prefix' (which may be empty).
func NewStorageGCS(log logs.Log, bucketName, prefix string, isPublic bool) (*StorageGCS, error) {
	ctx := context.Background()
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	bucket := client.Bucket(bucketName)
	return &StorageGCS{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
		bucket:     bucket,
		isPublic:   isPublic,
		log:        log,
	}, nil
}

func (s *StorageGCS) objectName(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("Invalid file name %v", name)
	}
	if s.prefix == "" {
		return name, nil
	}
	return Join(s.prefix, name), nil
}

func (s *StorageGCS) WriteFile(name string) (io.WriteCloser, error) {
	obj, err := s.objectName(name)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Writing gs://%v/%v", s.bucketName, obj)
	w := s.bucket.Object(obj).NewWriter(context.Background())
	return w, nil
}

func (s *StorageGCS) ReadFile(name string) (*File, error) {
	obj, err := s.objectName(name)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(obj).NewReader(context.Background())
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%v: %w", name, os.ErrNotExist)
	} else if err != nil {
		return nil, err
	}
	return &File{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *StorageGCS) DeleteFile(name string) error {
	obj, err := s.objectName(name)
	if err != nil {
		return err
	}
	return s.bucket.Object(obj).Delete(context.Background())
}

func (s *StorageGCS) URL(name string) (string, error) {
	if !s.isPublic {
		// We could also use signed URLs, but I haven't bothered with that yet
		return "", ErrNoPublicUrl
	}
	obj, err := s.objectName(name)
	if err != nil {
		return "", err
	}
	return "https://storage.googleapis.com/" + s.bucketName + "/" + obj, nil
}

func (s *StorageGCS) Close() error {
	return s.client.Close()
}
