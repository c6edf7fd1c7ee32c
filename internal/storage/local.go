// Package storage persists uploaded CSV files on local disk, keyed by the
// owning import batch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrTooLarge indicates the uploaded file exceeded the configured limit.
var ErrTooLarge = errors.New("storage: file exceeds size limit")

// LocalStore writes and reads files under a base directory.
type LocalStore struct {
	baseDir  string
	maxBytes int64
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(baseDir string, maxBytes int64) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "."
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir, maxBytes: maxBytes}, nil
}

// Save streams src to disk under a name derived from the batch id and
// returns the stored filename. Files larger than the limit are rejected
// and the partial write removed.
func (s *LocalStore) Save(ctx context.Context, batchID uuid.UUID, src io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := batchID.String() + ".csv"
	path := filepath.Join(s.baseDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file %s: %w", path, err)
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	written, err := io.Copy(dst, io.LimitReader(src, limit+1))
	closeErr := dst.Close()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file %s: %w", path, err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("close file %s: %w", path, closeErr)
	}
	if written > limit {
		os.Remove(path)
		return "", ErrTooLarge
	}

	return name, nil
}

// Open returns a reader over a previously stored file.
func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.baseDir, name)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	return file, nil
}

// Remove deletes a stored file; missing files are not an error.
func (s *LocalStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.baseDir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file %s: %w", name, err)
	}
	return nil
}
