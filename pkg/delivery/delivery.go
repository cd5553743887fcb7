// Package delivery hands a finalized archive to the user.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultName is the file name suggested for every archive.
const DefaultName = "output.zip"

const contentTypeZip = "application/zip"

// Location describes where a saved archive ended up: a file path or a URL.
type Location string

// Saver presents a blob to the user as a file named name.
type Saver interface {
	Save(ctx context.Context, blob []byte, name string) (Location, error)
}

// DownloadError reports that delivery failed. The archive itself is intact.
type DownloadError struct {
	Name string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Name, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FileSaver writes archives into a directory.
type FileSaver struct {
	Dir string
}

// Save writes blob to a temp file in Dir and renames it to name. The temp
// file never outlives the call.
func (s FileSaver) Save(ctx context.Context, blob []byte, name string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return "", &DownloadError{Name: name, Err: err}
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("create output dir: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", &DownloadError{Name: name, Err: fmt.Errorf("write temp file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("close temp file: %w", err)}
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmpName, target); err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("rename into place: %w", err)}
	}
	return Location(target), nil
}

// ResponseSaver streams archives as HTTP attachments.
type ResponseSaver struct {
	W http.ResponseWriter
}

func (s ResponseSaver) Save(_ context.Context, blob []byte, name string) (Location, error) {
	if s.W == nil {
		return "", &DownloadError{Name: name, Err: errors.New("nil response writer")}
	}
	h := s.W.Header()
	h.Set("Content-Type", contentTypeZip)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("Content-Length", fmt.Sprint(len(blob)))
	s.W.WriteHeader(http.StatusOK)
	if _, err := s.W.Write(blob); err != nil {
		return "", &DownloadError{Name: name, Err: err}
	}
	return Location(name), nil
}

// ObjectStore uploads objects and presigns downloads.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// S3Saver uploads archives to a bucket and returns a presigned download URL.
type S3Saver struct {
	Store  ObjectStore
	Bucket string
	// Prefix is prepended to the object key; KeyFunc can replace the key scheme.
	Prefix  string
	KeyFunc func(name string) string
	TTL     time.Duration
}

const defaultPresignTTL = 15 * time.Minute

func (s S3Saver) Save(ctx context.Context, blob []byte, name string) (Location, error) {
	if s.Store == nil || s.Bucket == "" {
		return "", &DownloadError{Name: name, Err: errors.New("s3 delivery is not configured")}
	}
	key := name
	if s.KeyFunc != nil {
		key = s.KeyFunc(name)
	}
	if prefix := strings.Trim(s.Prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}

	if err := s.Store.PutObject(ctx, s.Bucket, key, contentTypeZip, blob); err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("upload: %w", err)}
	}
	url, err := s.Store.PresignGet(ctx, s.Bucket, key, ttl)
	if err != nil {
		return "", &DownloadError{Name: name, Err: fmt.Errorf("presign: %w", err)}
	}
	return Location(url), nil
}
