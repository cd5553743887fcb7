package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultFetchTimeout = 30 * time.Second

// HTTPSource fetches archives relative to a base URL.
type HTTPSource struct {
	baseURL *url.URL
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSource returns a source that GETs <baseURL>/<id>. A zero timeout uses 30s.
func NewHTTPSource(baseURL string, client *http.Client, timeout time.Duration) (*HTTPSource, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse bundle base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported bundle url scheme %q", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSource{baseURL: parsed, client: client, timeout: timeout}, nil
}

func (s *HTTPSource) FetchArchive(ctx context.Context, id string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	target := s.baseURL.JoinPath(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %s", target, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return Decode(raw)
}

// FSSource reads archives from a filesystem, typically os.DirFS.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource returns a source backed by fsys.
func NewFSSource(fsys fs.FS) (*FSSource, error) {
	if fsys == nil {
		return nil, errors.New("bundle filesystem is required")
	}
	return &FSSource{fsys: fsys}, nil
}

func (s *FSSource) FetchArchive(ctx context.Context, id string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := fs.ReadFile(s.fsys, strings.TrimPrefix(id, "/"))
	if err != nil {
		return nil, fmt.Errorf("read bundle %q: %w", id, err)
	}
	return Decode(raw)
}

// ObjectGetter downloads an object from a bucket.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// S3Source reads archives from an S3 bucket, with the id as object key below prefix.
type S3Source struct {
	client  ObjectGetter
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Source returns a source backed by client.
func NewS3Source(client ObjectGetter, bucket, prefix string, timeout time.Duration) (*S3Source, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bundle bucket is required")
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), timeout: timeout}, nil
}

func (s *S3Source) FetchArchive(ctx context.Context, id string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := strings.TrimPrefix(id, "/")
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	raw, err := s.client.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	return Decode(raw)
}
