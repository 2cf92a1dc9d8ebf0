package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores asset bytes on the filesystem under a single uploads
// directory, served by the HTTP layer at urlPrefix.
type Local struct {
	dir       string
	urlPrefix string
}

func NewLocal(dir, urlPrefix string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Local{dir: dir, urlPrefix: urlPrefix}, nil
}

// Dir returns the directory backing this store.
func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	destination := filepath.Join(l.dir, filepath.Base(name))
	f, err := os.Create(destination)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(destination)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(destination)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return l.urlPrefix + "/" + filepath.Base(name), nil
}
