package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// dirFetcher reads feed documents from a directory.
type dirFetcher struct {
	root string
}

func (d *dirFetcher) fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, 0, fmt.Errorf("feed path %q escapes %s", name, d.root)
	}
	path := filepath.Join(d.root, filepath.FromSlash(name))

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}

func (d *dirFetcher) String() string {
	return d.root
}

// OpenLocal returns a Source over the feed directory dir.
func OpenLocal(dir string, opts Options) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("feed path %s is not a directory", dir)
	}
	return newSource(&dirFetcher{root: dir}, opts), nil
}
