package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
	"wilbrand/pkg/payload"
	"wilbrand/services/generator"
)

// Prompter walks the user through a generation form.
type Prompter struct {
	driver  Driver
	catalog *catalog.Catalog
	now     func() time.Time
}

// New returns a Prompter offering the versions in cat.
func New(driver Driver, cat *catalog.Catalog, now func() time.Time) (*Prompter, error) {
	if driver == nil {
		return nil, errors.New("prompt driver is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Prompter{driver: driver, catalog: cat, now: now}, nil
}

// Form asks for the MAC address, version, date and, when canBundle is set,
// whether to include the extra bundle. The result still needs Submission.
func (p *Prompter) Form(ctx context.Context, canBundle bool) (generator.Form, error) {
	form := generator.NewForm(p.now())

	octets, err := p.MAC(ctx)
	if err != nil {
		return generator.Form{}, err
	}
	form.Octets = octets

	version, err := p.Version(ctx)
	if err != nil {
		return generator.Form{}, err
	}
	form.Number, form.Region = version.Number, version.Region

	date, err := p.Date(ctx, form.Date)
	if err != nil {
		return generator.Form{}, err
	}
	form.Date = date

	if canBundle {
		bundleExtra, err := p.driver.Confirm(ctx, ConfirmConfig{
			Message: "Bundle the HackMii installer?",
			Default: false,
		})
		if err != nil {
			return generator.Form{}, err
		}
		form.BundleExtra = bundleExtra
	}
	return form, nil
}

// MAC edits the six octets one cell at a time, following the editor's focus.
// An empty answer acts as backspace. A full address pasted into any cell
// fills every octet.
func (p *Prompter) MAC(ctx context.Context) (mac.Octets, error) {
	editor := mac.NewEditor()
	for !editor.Complete() {
		index := editor.Focus()
		raw, err := p.driver.Input(ctx, InputConfig{
			Message: fmt.Sprintf("MAC octet %d of %d [%s]", index+1, mac.Cells, display(editor.Octets())),
			Help:    "Two hex digits. Leave empty to go back a cell.",
		})
		if err != nil {
			return mac.Octets{}, err
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			editor.Backspace()
			continue
		}
		if len(raw) > 2 {
			if addr, err := mac.Parse(raw); err == nil {
				return addr.Octets(), nil
			}
		}

		value := editor.Input(raw)
		if len(value) < 2 {
			if err := p.driver.Info(ctx, fmt.Sprintf("octet %d needs two hex digits", index+1)); err != nil {
				return mac.Octets{}, err
			}
			continue
		}
		if editor.Focus() == index {
			// The last cell is full; revisit the first cell still missing digits.
			editor.MoveTo(firstIncomplete(editor.Octets()))
		}
	}
	return editor.Octets(), nil
}

// Version offers every supported version token.
func (p *Prompter) Version(ctx context.Context) (catalog.Version, error) {
	supported := p.catalog.Supported()
	options := make([]string, len(supported))
	for i, v := range supported {
		options[i] = v.String()
	}
	idx, err := p.driver.Select(ctx, SelectConfig{
		Message:  "System menu version",
		Options:  options,
		PageSize: 12,
	})
	if err != nil {
		return catalog.Version{}, err
	}
	if idx < 0 || idx >= len(supported) {
		return catalog.Version{}, errors.New("no version selected")
	}
	return supported[idx], nil
}

// Date asks for the console date, defaulting to def.
func (p *Prompter) Date(ctx context.Context, def time.Time) (time.Time, error) {
	raw, err := p.driver.Input(ctx, InputConfig{
		Message: "System date (dd-MM-yyyy)",
		Default: def.Format(payload.DateLayout),
		Validator: func(s string) error {
			_, err := generator.ParseDate(s)
			return err
		},
	})
	if err != nil {
		return time.Time{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return generator.ParseDate(raw)
}

func display(o mac.Octets) string {
	cells := make([]string, mac.Cells)
	for i, v := range o {
		cells[i] = v + strings.Repeat("_", 2-len(v))
	}
	return strings.Join(cells, "-")
}

func firstIncomplete(o mac.Octets) int {
	for i, v := range o {
		if len(v) < 2 {
			return i
		}
	}
	return mac.Cells - 1
}
