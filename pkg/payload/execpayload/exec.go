// Package execpayload drives an external payload generator executable.
//
// The executable is invoked as
//
//	<binary> [args...] <MAC> <dd-MM-yyyy> <version> <output dir>
//
// and is expected to write exactly one file somewhere below the output
// directory, logging progress to stderr.
package execpayload

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/logsink"
	"wilbrand/pkg/payload"
)

// Config configures a Constructor.
type Config struct {
	// Binary is the generator executable.
	Binary string
	// Args are inserted before the positional arguments.
	Args []string
	// Env is appended to the current environment.
	Env []string
	// WorkDir is where per-payload temp directories are created. Empty uses os.TempDir.
	WorkDir string
	// Versions are the tokens reported by SupportedVersions. Empty uses the built-in catalog.
	Versions []string
}

// Constructor implements payload.Constructor on top of an executable.
type Constructor struct {
	cfg Config

	mu     sync.Mutex
	buffer []string
}

// New validates cfg and returns a Constructor.
func New(cfg Config) (*Constructor, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, errors.New("payload generator binary is required")
	}
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		return nil, fmt.Errorf("locate payload generator: %w", err)
	}
	if len(cfg.Versions) == 0 {
		cfg.Versions = catalog.DefaultTokens()
	}
	return &Constructor{cfg: cfg}, nil
}

func (c *Constructor) SupportedVersions(context.Context) ([]string, error) {
	out := make([]string, len(c.cfg.Versions))
	copy(out, c.cfg.Versions)
	return out, nil
}

func (c *Constructor) InitLogger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = nil
}

func (c *Constructor) DrainLogs(sink func(string)) {
	c.mu.Lock()
	lines := c.buffer
	c.buffer = nil
	c.mu.Unlock()
	for _, l := range lines {
		sink(l)
	}
}

func (c *Constructor) Construct(ctx context.Context, mac, date, version string) (payload.Handle, error) {
	dir, err := os.MkdirTemp(c.cfg.WorkDir, "wilbrand-payload-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}

	h, err := c.run(ctx, dir, mac, date, version)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return h, nil
}

func (c *Constructor) run(ctx context.Context, dir, mac, date, version string) (*handle, error) {
	args := append(append([]string{}, c.cfg.Args...), mac, date, version, dir)
	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Env = append(os.Environ(), c.cfg.Env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	runErr := cmd.Run()
	last := c.collect(&stderr)
	if runErr != nil {
		if last != "" {
			return nil, errors.New(last)
		}
		return nil, fmt.Errorf("run payload generator: %w", runErr)
	}

	return locate(dir)
}

// collect moves the process output into the log buffer and returns the last
// non-empty message, which is where the generator reports failures.
func (c *Constructor) collect(out *bytes.Buffer) string {
	var last string
	scanner := bufio.NewScanner(out)
	c.mu.Lock()
	defer c.mu.Unlock()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		normalized := NormalizeLine(line)
		c.buffer = append(c.buffer, normalized)
		_, last = logsink.ParseLevel(normalized)
	}
	return strings.TrimPrefix(last, "Error: ")
}

// NormalizeLine rewrites env_logger style lines such as
// "[2026-02-13T10:00:00Z INFO  lib::payload] message" into "[INFO] message".
// Anything else is returned unchanged.
func NormalizeLine(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return line
	}
	for _, field := range strings.Fields(line[1:end]) {
		switch upper := strings.ToUpper(field); upper {
		case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
			return fmt.Sprintf("[%s] %s", upper, strings.TrimSpace(line[end+1:]))
		}
	}
	return line
}

func locate(dir string) (*handle, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan generator output: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("payload generator produced %d files, want 1", len(files))
	}

	rel, err := filepath.Rel(dir, files[0])
	if err != nil {
		return nil, fmt.Errorf("relative path for %q: %w", files[0], err)
	}
	rel = filepath.ToSlash(rel)

	bin, err := os.ReadFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	path, name := "", rel
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		path, name = rel[:idx], rel[idx+1:]
	}
	return &handle{dir: dir, bin: bin, path: path, fileName: name}, nil
}

type handle struct {
	dir      string
	bin      []byte
	path     string
	fileName string
}

func (h *handle) Bin() []byte      { return h.bin }
func (h *handle) Path() string     { return h.path }
func (h *handle) FileName() string { return h.fileName }

func (h *handle) Release() {
	h.bin = nil
	_ = os.RemoveAll(h.dir)
}

var _ payload.Constructor = (*Constructor)(nil)
