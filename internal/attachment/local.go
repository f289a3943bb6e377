package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LocalStore writes attachments as standalone files under one directory.
type LocalStore struct {
	dir string
	now func() time.Time
}

// NewLocalStore prepares dir (creating it and any parents) and returns a store rooted
// at its absolute path. Calling it for an existing directory is a no-op.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("attachment directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attachment directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	return &LocalStore{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute storage directory.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Persist writes content to a new file. The file is created exclusively, so an
// existing file is never overwritten; a partially written file is removed.
func (s *LocalStore) Persist(ctx context.Context, filename, contentType string, content []byte) (*Handle, error) {
	name := uniqueName(s.now(), filename)
	path := filepath.Join(s.dir, name)

	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Filename: filename, Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &StorageError{Filename: filename, Path: path, Err: err}
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return nil, &StorageError{Filename: filename, Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, &StorageError{Filename: filename, Path: path, Err: err}
	}

	slog.Debug("attachment stored",
		"filename", filename,
		"path", path,
		"size", len(content),
	)

	return &Handle{
		Name:        name,
		Path:        path,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}, nil
}
