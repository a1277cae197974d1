package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage implements Provider on one bucket of S3-compatible storage
// (AWS S3, MinIO, etc.)
type S3Storage struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Storage creates a new S3-compatible storage provider.
// Works with AWS S3, MinIO, Wasabi, DigitalOcean Spaces, and other S3-compatible services
func NewS3Storage(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Str("region", region).
		Bool("ssl", useSSL).
		Msg("S3-compatible storage initialized")

	return &S3Storage{
		client: client,
		bucket: bucket,
		region: region,
	}, nil
}

// Name returns the provider name
func (s3 *S3Storage) Name() string {
	return "s3"
}

// Health checks that the bucket exists
func (s3 *S3Storage) Health(ctx context.Context) error {
	exists, err := s3.client.BucketExists(ctx, s3.bucket)
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s3.bucket)
	}
	return nil
}

// Upload uploads a file to S3
func (s3 *S3Storage) Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	putOpts := minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		UserMetadata:    opts.Metadata,
		CacheControl:    opts.CacheControl,
		ContentEncoding: opts.ContentEncoding,
	}

	info, err := s3.client.PutObject(ctx, s3.bucket, key, data, size, putOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("bucket", s3.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("File uploaded to S3")

	return &Object{
		Key:             key,
		Size:            info.Size,
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		CacheControl:    opts.CacheControl,
		LastModified:    info.LastModified,
		ETag:            info.ETag,
		Metadata:        opts.Metadata,
	}, nil
}

// GetObject gets object metadata without downloading the file
func (s3 *S3Storage) GetObject(ctx context.Context, key string) (*Object, error) {
	stat, err := s3.client.StatObject(ctx, s3.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object info: %w", err)
	}

	return &Object{
		Key:             key,
		Size:            stat.Size,
		ContentType:     stat.ContentType,
		ContentEncoding: stat.Metadata.Get("Content-Encoding"),
		CacheControl:    stat.Metadata.Get("Cache-Control"),
		LastModified:    stat.LastModified,
		ETag:            stat.ETag,
		Metadata:        stat.UserMetadata,
	}, nil
}

// Delete deletes a file from S3
func (s3 *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s3.client.RemoveObject(ctx, s3.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List lists objects below prefix
func (s3 *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for obj := range s3.client.ListObjects(ctx, s3.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		objects = append(objects, Object{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
			ETag:         strings.Trim(obj.ETag, `"`),
		})
	}
	return objects, nil
}
