// Package packager lays out, zips, signs and extracts generation archives.
package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"wilbrand/pkg/bundle"
	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
	"wilbrand/pkg/payload"
)

const rootDateLayout = "02012006"

// DefaultBundleID names the installer archive merged into outputs on request.
const DefaultBundleID = "hackmii_installer_v1.2.zip"

// Progress receives human readable progress lines.
type Progress interface {
	Info(format string, args ...any)
}

// Config configures an Assembler.
type Config struct {
	// Source provides the extra bundle. Nil disables bundling.
	Source   bundle.Source
	BundleID string
	Progress Progress
	Now      func() time.Time
}

// Assembler builds output archives from payload handles.
type Assembler struct {
	source   bundle.Source
	bundleID string
	progress Progress
	now      func() time.Time
}

// NewAssembler applies defaults to cfg.
func NewAssembler(cfg Config) *Assembler {
	if cfg.BundleID == "" {
		cfg.BundleID = DefaultBundleID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Progress == nil {
		cfg.Progress = nopProgress{}
	}
	return &Assembler{
		source:   cfg.Source,
		bundleID: cfg.BundleID,
		progress: cfg.Progress,
		now:      cfg.Now,
	}
}

// CanBundle reports whether a bundle source is configured.
func (a *Assembler) CanBundle() bool {
	return a.source != nil
}

// RootName is the archive's top-level directory for a submission:
// {mac without separators}-{ddMMyyyy}-{version token}.
func RootName(addr mac.Address, date time.Time, version catalog.Version) string {
	return fmt.Sprintf("%s-%s-%s", addr.Compact(), date.Format(rootDateLayout), version.Token())
}

// Build lays out the payload below rootName and, when bundleExtra is set,
// the extra bundle's files with its top-level directory (named after the
// bundle id) replaced by rootName. A bundle failure aborts the whole build.
func (a *Assembler) Build(ctx context.Context, rootName string, h payload.Handle, bundleExtra bool) (*Manifest, error) {
	if strings.ContainsAny(rootName, "/\\") || rootName == "" {
		return nil, &ArchiveError{Op: "build", Err: fmt.Errorf("invalid root name %q", rootName)}
	}

	m := NewManifest(rootName, a.now().UTC().Truncate(time.Second))

	a.progress.Info("creating zip...")
	// The handle's buffer is not ours once it is released.
	m.Put(KindPayload, joinPath(rootName, h.Path(), h.FileName()), bytes.Clone(h.Bin()))

	if !bundleExtra {
		return m, nil
	}
	if a.source == nil {
		return nil, &BundleFetchError{ID: a.bundleID, Err: errors.New("no bundle source configured")}
	}

	a.progress.Info("adding %s files...", strings.TrimSuffix(a.bundleID, ".zip"))
	entries, err := a.source.FetchArchive(ctx, a.bundleID)
	if err != nil {
		return nil, &BundleFetchError{ID: a.bundleID, Err: err}
	}
	for _, e := range bundle.Reroot(entries, strings.TrimSuffix(path.Base(a.bundleID), ".zip")) {
		m.Put(KindBundle, joinPath(rootName, e.Name), e.Data)
	}
	return m, nil
}

// Finalize serializes the manifest into a zip archive.
func (a *Assembler) Finalize(ctx context.Context, m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, p := range m.Paths() {
		if err := ctx.Err(); err != nil {
			return nil, &ArchiveError{Op: "finalize", Err: err}
		}
		data, _ := m.File(p)
		header := &zip.FileHeader{
			Name:     p,
			Method:   zip.Deflate,
			Modified: m.CreatedAt,
		}
		header.SetMode(0o644)
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, &ArchiveError{Op: "finalize", Err: fmt.Errorf("write header for %q: %w", p, err)}
		}
		if _, err := w.Write(data); err != nil {
			return nil, &ArchiveError{Op: "finalize", Err: fmt.Errorf("write %q: %w", p, err)}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &ArchiveError{Op: "finalize", Err: fmt.Errorf("close zip: %w", err)}
	}
	return buf.Bytes(), nil
}

func joinPath(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

type nopProgress struct{}

func (nopProgress) Info(string, ...any) {}

// BundleFetchError reports that the extra bundle could not be fetched or decoded.
type BundleFetchError struct {
	ID  string
	Err error
}

func (e *BundleFetchError) Error() string {
	return fmt.Sprintf("fetch bundle %s: %v", e.ID, e.Err)
}

func (e *BundleFetchError) Unwrap() error {
	return e.Err
}

// ArchiveError reports any other failure while building or finalizing an archive.
type ArchiveError struct {
	Op  string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("%s archive: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}
