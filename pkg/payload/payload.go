// Package payload wraps the external component that constructs the mailbox
// payload, and owns the lifetime of the handles it returns.
package payload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
)

// DateLayout is the dd-MM-yyyy form the constructor expects.
const DateLayout = "02-01-2006"

// Handle is a constructed payload owned by the caller until Release.
// Nothing may be read from a handle after Release.
type Handle interface {
	// Bin is the raw payload content.
	Bin() []byte
	// Path is the archive-relative directory, without leading or trailing '/'.
	Path() string
	// FileName is the payload file name inside Path.
	FileName() string
	// Release frees the handle. It must be called exactly once.
	Release()
}

// Constructor is the contract of the external payload component.
type Constructor interface {
	// SupportedVersions lists version tokens such as "4.3u".
	SupportedVersions(ctx context.Context) ([]string, error)
	// InitLogger resets the component's log buffer.
	InitLogger()
	// Construct builds a payload from "XX-XX-XX-XX-XX-XX", "dd-MM-yyyy" and a version token.
	Construct(ctx context.Context, mac, date, version string) (Handle, error)
	// DrainLogs pushes buffered lines into sink in production order, then clears the buffer.
	DrainLogs(sink func(string))
}

// Builder invokes a Constructor with normalized inputs.
type Builder struct {
	constructor Constructor
	onRelease   func()
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithReleaseHook registers fn to run after every handle release.
func WithReleaseHook(fn func()) BuilderOption {
	return func(b *Builder) {
		b.onRelease = fn
	}
}

// NewBuilder returns a Builder bound to c.
func NewBuilder(c Constructor, opts ...BuilderOption) (*Builder, error) {
	if c == nil {
		return nil, errors.New("payload constructor is required")
	}
	b := &Builder{constructor: c}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Generate formats the inputs and calls the constructor once. On failure no
// handle is returned and there is nothing to release.
func (b *Builder) Generate(ctx context.Context, addr mac.Address, date time.Time, version catalog.Version) (Handle, error) {
	h, err := b.constructor.Construct(ctx, addr.String(), date.Format(DateLayout), version.Token())
	if err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if h == nil {
		return nil, &ConstructionError{Err: errors.New("constructor returned no payload")}
	}
	return h, nil
}

// Release frees h.
func (b *Builder) Release(h Handle) {
	h.Release()
	if b.onRelease != nil {
		b.onRelease()
	}
}

// With generates a handle, passes it to fn and releases it on every exit path
// of fn, panics included. When generation fails fn is not called and nothing
// is released.
func (b *Builder) With(ctx context.Context, addr mac.Address, date time.Time, version catalog.Version, fn func(Handle) error) error {
	h, err := b.Generate(ctx, addr, date, version)
	if err != nil {
		return err
	}
	defer b.Release(h)
	return fn(h)
}

// ConstructionError reports that the external component rejected the input.
// Retrying the same input will not help.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct payload: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
