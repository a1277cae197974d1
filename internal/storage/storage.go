// Package storage publishes built assets to a storage backend.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// HashMetadataKey holds the BLAKE3 hash of a published object.
const HashMetadataKey = "blake3"

// Object represents a stored file
type Object struct {
	Key             string            `json:"key"`
	Size            int64             `json:"size"`
	ContentType     string            `json:"content_type"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	CacheControl    string            `json:"cache_control,omitempty"`
	LastModified    time.Time         `json:"last_modified"`
	ETag            string            `json:"etag,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// MetadataValue returns a metadata value regardless of key case. S3
// backends canonicalize user metadata keys.
func (o *Object) MetadataValue(key string) string {
	for k, v := range o.Metadata {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// UploadOptions contains options for uploading files
type UploadOptions struct {
	ContentType     string
	Metadata        map[string]string
	CacheControl    string
	ContentEncoding string
}

// Provider is the interface that storage providers must implement. Keys
// are slash-separated.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Health checks that the destination is reachable and writable
	Health(ctx context.Context) error

	// Upload uploads a file to storage
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)

	// GetObject gets object metadata without downloading the file.
	// It returns ErrNotFound for missing objects.
	GetObject(ctx context.Context, key string) (*Object, error)

	// Delete deletes a file from storage
	Delete(ctx context.Context, key string) error

	// List lists the keys below prefix
	List(ctx context.Context, prefix string) ([]Object, error)
}
