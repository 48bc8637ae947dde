// Package blob stores uploaded attachments and hands back a reference that
// can be resolved at send time.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/internal/config"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("file too large")
	// ErrNotFound is returned when a reference resolves to nothing.
	ErrNotFound = errors.New("attachment not found")
)

// Object is a stored attachment.
type Object struct {
	Ref         string
	FileName    string
	ContentType string
	Size        int64
}

// Storage persists attachment bytes.
type Storage interface {
	Put(ctx context.Context, fileName, contentType string, data []byte) (*Object, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Backend() string
}

// New builds the configured backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.MaxUploadBytes)
	case "s3":
		return NewS3(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey namespaces uploads by day and a random id so equal names never
// collide.
func objectKey(fileName string, now time.Time) string {
	name := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(fileName, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "attachment"
	}
	return path.Join("attachments", now.UTC().Format("2006/01/02"), uuid.NewString()+"_"+name)
}

func checkSize(data []byte, limit int64) error {
	if limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), limit)
	}
	return nil
}

// validRef rejects references that could escape the storage root.
func validRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, `\`) {
		return false
	}
	return path.Clean(ref) == ref && !strings.HasPrefix(ref, "..")
}
