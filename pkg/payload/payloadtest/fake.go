// Package payloadtest provides an in-memory payload constructor for tests.
package payloadtest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/payload"
)

// Call records the arguments of one Construct call.
type Call struct {
	MAC     string
	Date    string
	Version string
}

// Constructor is a fake payload component that records call counts and can
// be configured to fail.
type Constructor struct {
	// Bin, Path and FileName are returned by every handle.
	Bin      []byte
	Path     string
	FileName string
	// Err makes Construct fail with this error.
	Err error
	// Versions overrides the default catalog tokens.
	Versions []string
	// Logs are appended to the buffer by every Construct call.
	Logs []string

	mu          sync.Mutex
	calls       []Call
	inits       int
	releases    int
	doubleFrees int
	buffer      []string
}

// New returns a fake that succeeds with a small payload at apps/x/boot.dol.
func New() *Constructor {
	return &Constructor{
		Bin:      []byte("payload"),
		Path:     "apps/x",
		FileName: "boot.dol",
		Logs:     []string{"[INFO] building payload"},
	}
}

func (c *Constructor) SupportedVersions(context.Context) ([]string, error) {
	if len(c.Versions) > 0 {
		return c.Versions, nil
	}
	return catalog.DefaultTokens(), nil
}

func (c *Constructor) InitLogger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	c.buffer = nil
}

func (c *Constructor) Construct(_ context.Context, mac, date, version string) (payload.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{MAC: mac, Date: date, Version: version})
	c.buffer = append(c.buffer, fmt.Sprintf("[INFO] MAC address: %s", mac))
	c.buffer = append(c.buffer, c.Logs...)
	if c.Err != nil {
		c.buffer = append(c.buffer, fmt.Sprintf("[ERROR] %v", c.Err))
		return nil, c.Err
	}
	return &Handle{owner: c, bin: bytes.Clone(c.Bin), path: c.Path, fileName: c.FileName}, nil
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

// Calls returns the recorded Construct calls.
func (c *Constructor) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Releases returns how many handles were released.
func (c *Constructor) Releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases
}

// DoubleFrees returns how many releases hit an already released handle.
func (c *Constructor) DoubleFrees() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doubleFrees
}

// Inits returns how many times InitLogger was called.
func (c *Constructor) Inits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

// Handle is the fake payload handle. Reading it after Release panics, and
// Release zeroes the buffer Bin returned.
type Handle struct {
	owner    *Constructor
	bin      []byte
	path     string
	fileName string
	released bool
}

func (h *Handle) Bin() []byte {
	h.mustBeLive()
	return h.bin
}

func (h *Handle) Path() string {
	h.mustBeLive()
	return h.path
}

func (h *Handle) FileName() string {
	h.mustBeLive()
	return h.fileName
}

func (h *Handle) Release() {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.released {
		h.owner.doubleFrees++
		return
	}
	h.released = true
	h.owner.releases++
	clear(h.bin)
}

func (h *Handle) mustBeLive() {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.released {
		panic("payloadtest: handle used after release")
	}
}

var _ payload.Constructor = (*Constructor)(nil)
