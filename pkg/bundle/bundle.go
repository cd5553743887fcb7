// Package bundle fetches pre-packaged zip archives and exposes their files.
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry is one regular file inside a bundle archive.
type Entry struct {
	Name string
	Data []byte
}

// Source is a read-only archive provider.
type Source interface {
	// FetchArchive returns the regular files of the archive identified by id,
	// in archive order.
	FetchArchive(ctx context.Context, id string) ([]Entry, error)
}

// Decode reads every non-directory entry of a zip archive.
func Decode(raw []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decompress %q: %w", f.Name, err)
		}
		entries = append(entries, Entry{Name: f.Name, Data: data})
	}
	return entries, nil
}

// metadataDir holds resource forks added by macOS archivers.
const metadataDir = "__MACOSX/"

// StripRoot removes the top-level directory shared by every entry. When the
// entries do not share one, they are returned unchanged. Archiver metadata
// entries are dropped first.
func StripRoot(entries []Entry) []Entry {
	entries = dropMetadata(entries)
	return trimPrefix(entries, sharedRoot(entries))
}

// Reroot strips root from every entry that starts with it, leaving the rest
// untouched. When no entry starts with root it falls back to StripRoot.
// Archiver metadata entries are dropped either way.
func Reroot(entries []Entry, root string) []Entry {
	entries = dropMetadata(entries)
	root = strings.Trim(root, "/")
	if root == "" {
		return StripRoot(entries)
	}
	root += "/"
	for _, e := range entries {
		if strings.HasPrefix(e.Name, root) {
			return trimPrefix(entries, root)
		}
	}
	return StripRoot(entries)
}

func trimPrefix(entries []Entry, prefix string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimPrefix(e.Name, prefix)
		if name == "" {
			continue
		}
		out = append(out, Entry{Name: name, Data: e.Data})
	}
	return out
}

func dropMetadata(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name, metadataDir) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func sharedRoot(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var root string
	for i, e := range entries {
		idx := strings.Index(e.Name, "/")
		if idx <= 0 || idx == len(e.Name)-1 {
			return ""
		}
		prefix := e.Name[:idx+1]
		if i == 0 {
			root = prefix
			continue
		}
		if prefix != root {
			return ""
		}
	}
	return root
}

// Static serves a fixed set of entries. It is used for tests and for
// archives that are already in memory.
type Static map[string][]Entry

func (s Static) FetchArchive(_ context.Context, id string) ([]Entry, error) {
	entries, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("bundle %q not found", id)
	}
	return entries, nil
}
