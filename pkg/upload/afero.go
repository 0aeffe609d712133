package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"
)

const partSuffix = ".part"

// AferoBackend stores objects on an afero filesystem. Partial objects live
// next to their final path with a ".part" suffix until committed.
type AferoBackend struct {
	mu      sync.Mutex
	fs      afero.Fs
	baseURL string
}

// NewAferoBackend serves download URLs as baseURL + "/" + path.
func NewAferoBackend(fs afero.Fs, baseURL string) *AferoBackend {
	return &AferoBackend{fs: fs, baseURL: baseURL}
}

func (b *AferoBackend) Offset(ctx context.Context, p string) (int64, error) {
	p, err := CleanPath(p)
	if err != nil {
		return 0, err
	}
	info, err := b.fs.Stat(p + partSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *AferoBackend) Write(ctx context.Context, p string, offset int64, chunk []byte) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := b.fs.OpenFile(p+partSuffix, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != offset {
		return fmt.Errorf("%w: have %d, got %d", ErrOffsetMismatch, info.Size(), offset)
	}
	if _, err := f.WriteAt(chunk, offset); err != nil {
		return err
	}
	return nil
}

func (b *AferoBackend) Commit(ctx context.Context, p string, meta Metadata) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	part := p + partSuffix
	if _, err := b.fs.Stat(part); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Zero-length files never produce a Write.
			if meta.Size == 0 {
				return afero.WriteFile(b.fs, p, nil, 0o644)
			}
			return fmt.Errorf("%w: %s", ErrNotFound, part)
		}
		return err
	}
	return b.fs.Rename(part, p)
}

func (b *AferoBackend) Abort(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fs.Remove(p + partSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *AferoBackend) DownloadURL(ctx context.Context, p string) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	ok, err := afero.Exists(b.fs, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return url.JoinPath(b.baseURL, p)
}

// Open returns a committed object for reading.
func (b *AferoBackend) Open(p string) (afero.File, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return f, err
}
