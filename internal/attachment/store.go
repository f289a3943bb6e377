// Package attachment persists attachment bytes and hands back a reference to the
// stored copy.
package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// defaultFilename names attachments that arrive without a usable file name.
const defaultFilename = "attachment"

// Handle references one persisted attachment.
type Handle struct {
	// Name is the generated, unique storage name.
	Name string
	// Path is the absolute file path, or an object URI for remote backends.
	Path        string
	Filename    string
	ContentType string
	Content     []byte
}

// Store persists attachments. Implementations must be safe for concurrent use.
type Store interface {
	Persist(ctx context.Context, filename, contentType string, content []byte) (*Handle, error)
}

// StorageError reports a failed attachment write.
type StorageError struct {
	Filename string
	Path     string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to store attachment %q at %s: %v", e.Filename, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// uniqueName builds "<unix-millis>-<uuid>-<filename>". The timestamp keeps names
// sortable by arrival, the UUID makes them unique across concurrent sessions.
func uniqueName(now time.Time, filename string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString(), sanitizeFilename(filename))
}

// sanitizeFilename strips any directory components so a submitted name can never
// escape the storage root.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", "/":
		return defaultFilename
	}
	return name
}
