package storage

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the minimal S3-compatible operations run exports need.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DownloadObject(ctx context.Context, key string, destPath string) error
	UploadObject(ctx context.Context, key string, data []byte) error
	// PresignURL returns a time-limited download link for key.
	PresignURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// New picks the bucket client when storage is enabled and a local directory
// otherwise.
func New(cfg config.StorageConfig, localRoot string) (ObjectStorage, error) {
	if !cfg.Enabled {
		local, err := NewLocalStorage(localRoot)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	client, err := NewMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
