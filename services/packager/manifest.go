package packager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind tells where a manifest entry came from.
type Kind string

const (
	KindPayload Kind = "payload"
	KindBundle  Kind = "bundle"
)

// Manifest maps archive paths to contents, in insertion order. It lives for
// one generation only.
type Manifest struct {
	Root      string
	CreatedAt time.Time

	order []string
	files map[string]manifestFile
}

type manifestFile struct {
	kind Kind
	data []byte
}

// NewManifest returns an empty manifest rooted at root.
func NewManifest(root string, createdAt time.Time) *Manifest {
	return &Manifest{
		Root:      root,
		CreatedAt: createdAt,
		files:     make(map[string]manifestFile),
	}
}

// Put records data at path. Writing an existing path replaces its content
// and keeps its original position.
func (m *Manifest) Put(kind Kind, path string, data []byte) {
	if _, ok := m.files[path]; !ok {
		m.order = append(m.order, path)
	}
	m.files[path] = manifestFile{kind: kind, data: data}
}

// Paths returns the entry paths in insertion order.
func (m *Manifest) Paths() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// File returns the content stored at path.
func (m *Manifest) File(path string) ([]byte, bool) {
	f, ok := m.files[path]
	return f.data, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.order)
}

// Summary describes a manifest without its contents.
type Summary struct {
	Root      string         `yaml:"root" json:"root"`
	CreatedAt time.Time      `yaml:"created_at" json:"created_at"`
	Entries   []SummaryEntry `yaml:"entries" json:"entries"`
}

// SummaryEntry describes a single file within the archive.
type SummaryEntry struct {
	Path   string `yaml:"path" json:"path"`
	Kind   Kind   `yaml:"kind" json:"kind"`
	Size   int64  `yaml:"size" json:"size"`
	SHA256 string `yaml:"sha256" json:"sha256"`
}

// Summary lists every entry with its size and digest.
func (m *Manifest) Summary() Summary {
	s := Summary{Root: m.Root, CreatedAt: m.CreatedAt, Entries: make([]SummaryEntry, 0, len(m.order))}
	for _, p := range m.order {
		f := m.files[p]
		sum := sha256.Sum256(f.data)
		s.Entries = append(s.Entries, SummaryEntry{
			Path:   p,
			Kind:   f.kind,
			Size:   int64(len(f.data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	return s
}

// YAML marshals the summary.
func (s Summary) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// Extract writes every entry below dir, recreating the archive's directory tree.
func (m *Manifest) Extract(dir string) error {
	base, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	for _, p := range m.order {
		target := filepath.Join(base, filepath.FromSlash(p))
		if !strings.HasPrefix(target, base+string(filepath.Separator)) {
			return fmt.Errorf("invalid entry path %q", p)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("mkdir %q: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, m.files[p].data, 0o644); err != nil {
			return fmt.Errorf("write %q: %w", p, err)
		}
	}
	return nil
}
