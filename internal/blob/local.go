package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local keeps attachments on the filesystem under a root directory.
type Local struct {
	root  string
	limit int64
}

func NewLocal(dir string, limit int64) (*Local, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{root: dir, limit: limit}, nil
}

func (l *Local) Backend() string { return "local" }

func (l *Local) Put(ctx context.Context, fileName, contentType string, data []byte) (*Object, error) {
	if err := checkSize(data, l.limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := objectKey(fileName, time.Now())
	full := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}

	return &Object{Ref: key, FileName: fileName, ContentType: contentType, Size: int64(len(data))}, nil
}

func (l *Local) Get(ctx context.Context, ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(ref)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}
