// Package storage mirrors finished section videos into a file store: a local
// directory or an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"video-extender/internal/domain"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. A missing file yields an error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating it. Close flushes.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Location renders a human-readable address for path.
	Location(path string) string
}

// sizedUploader is implemented by stores that prefer a known-length body.
type sizedUploader interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64) error
}

// Publisher copies local artifacts into a FileStore.
type Publisher struct {
	store FileStore
	open  func(name string) (*os.File, error)
}

// NewPublisher wraps store.
func NewPublisher(store FileStore) *Publisher {
	return &Publisher{store: store, open: os.Open}
}

// Store returns the underlying file store.
func (p *Publisher) Store() FileStore {
	return p.store
}

// Key is the store path an artifact is published under.
func Key(localPath string) string {
	return path.Join("videos", filepath.Base(localPath))
}

// Publish uploads localPath and returns the location it was stored at.
func (p *Publisher) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := p.open(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := Key(localPath)
	if up, ok := p.store.(sizedUploader); ok {
		info, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("storage: stat %s: %w", localPath, err)
		}
		if err := up.Upload(ctx, key, f, info.Size()); err != nil {
			return "", fmt.Errorf("storage: upload %s: %w", key, err)
		}
		return p.store.Location(key), nil
	}

	w, err := p.store.Write(ctx, key)
	if err != nil {
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: copy %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", key, err)
	}
	return p.store.Location(key), nil
}

// Open builds the store selected by cfg. It returns nil, nil when artifact
// mirroring is disabled.
func Open(cfg domain.ArtifactStore) (FileStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return nil, nil
	case "local":
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, fmt.Errorf("storage: local store needs a directory")
		}
		local, err := NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	case "s3":
		if strings.TrimSpace(cfg.Bucket) == "" {
			return nil, fmt.Errorf("storage: s3 store needs a bucket")
		}
		client, err := NewS3Client(context.Background(), cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewS3(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("storage: unknown store kind %q", cfg.Kind)
	}
}
