// Package upload streams media to object storage in resumable chunks and
// reports progress and a single terminal outcome.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrOffsetMismatch = errors.New("upload offset does not match stored data")
	ErrNotFound       = errors.New("object not found")
	ErrInvalidPath    = errors.New("invalid object path")
)

// Backend is the object store an upload session writes to. Data is
// appended to a partial object with Write and becomes visible under path
// only after Commit.
type Backend interface {
	// Offset reports how many bytes of a partial object already exist.
	Offset(ctx context.Context, path string) (int64, error)
	// Write appends chunk to the partial object; offset must equal its size.
	Write(ctx context.Context, path string, offset int64, chunk []byte) error
	Commit(ctx context.Context, path string, meta Metadata) error
	// Abort drops a partial object. Aborting a missing object is not an error.
	Abort(ctx context.Context, path string) error
	// DownloadURL resolves the public URL of a committed object.
	DownloadURL(ctx context.Context, path string) (string, error)
}

// Metadata describes the file being uploaded.
type Metadata struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png"`
	Size        int64  `json:"size" validate:"gte=0"`
}

var validate = validator.New()

func (m Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid upload metadata: %w", err)
	}
	return nil
}

// Ext returns the file extension for the object name, without the dot.
func (m Metadata) Ext() string {
	switch m.ContentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	}
	if ext := strings.TrimPrefix(filepath.Ext(m.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, _ := mime.ExtensionsByType(m.ContentType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "jpg"
}

// CleanPath normalizes an object path and rejects anything that could escape
// the storage root.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasSuffix(clean, partSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
