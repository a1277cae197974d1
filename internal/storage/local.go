package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/mediapack/internal/assets"
)

// metaDir holds per-object metadata below the base path, outside the
// published tree.
const metaDir = ".mediapack-meta"

// LocalStorage implements Provider using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage provider
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil { //nolint:gosec // publish destination
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// Health checks if the storage is healthy
func (ls *LocalStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("storage directory not accessible: %w", err)
	}

	testFile := filepath.Join(ls.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	return nil
}

// getPath returns the full filesystem path for a key
func (ls *LocalStorage) getPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(ls.basePath, clean), nil
}

func (ls *LocalStorage) metaPath(key string) string {
	return filepath.Join(ls.basePath, metaDir, filepath.FromSlash(key)+".meta")
}

// Upload uploads a file to local storage
func (ls *LocalStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	filePath, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if size >= 0 && int64(len(content)) != size {
		return nil, fmt.Errorf("upload %s: expected %d bytes, got %d", key, size, len(content))
	}
	if err := assets.WriteFileAtomic(filePath, content); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	meta := map[string]string{}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if opts.ContentType != "" {
		meta["content-type"] = opts.ContentType
	}
	if opts.ContentEncoding != "" {
		meta["content-encoding"] = opts.ContentEncoding
	}
	if opts.CacheControl != "" {
		meta["cache-control"] = opts.CacheControl
	}
	if err := ls.writeMeta(key, meta); err != nil {
		return nil, err
	}

	log.Debug().
		Str("key", key).
		Int("size", len(content)).
		Msg("File copied to local storage")

	return ls.GetObject(ctx, key)
}

func (ls *LocalStorage) writeMeta(key string, meta map[string]string) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, meta[k])
	}
	if err := assets.WriteFileAtomic(ls.metaPath(key), []byte(b.String())); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (ls *LocalStorage) readMeta(key string) map[string]string {
	meta := make(map[string]string)
	f, err := os.Open(ls.metaPath(key))
	if err != nil {
		return meta
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) == 2 {
			meta[parts[0]] = parts[1]
		}
	}
	return meta
}

// GetObject gets object metadata
func (ls *LocalStorage) GetObject(ctx context.Context, key string) (*Object, error) {
	filePath, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	meta := ls.readMeta(key)
	obj := &Object{
		Key:          key,
		Size:         info.Size(),
		ContentType:  "application/octet-stream",
		LastModified: info.ModTime(),
		Metadata:     make(map[string]string),
	}
	for k, v := range meta {
		switch k {
		case "content-type":
			obj.ContentType = v
		case "content-encoding":
			obj.ContentEncoding = v
		case "cache-control":
			obj.CacheControl = v
		default:
			obj.Metadata[k] = v
		}
	}
	obj.ETag = obj.Metadata[HashMetadataKey]
	return obj, nil
}

// Delete deletes a file and its metadata
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath, err := ls.getPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	_ = os.Remove(ls.metaPath(key))
	return nil
}

// List lists the files below prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(ls.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == metaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(ls.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || key == ".health_check" {
			return nil
		}
		obj, err := ls.GetObject(ctx, key)
		if err != nil {
			return err
		}
		objects = append(objects, *obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return objects, nil
}
