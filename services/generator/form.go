package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
	"wilbrand/pkg/payload"
)

const dateLayout = payload.DateLayout

const (
	minYear = 2000
	maxYear = 2035
)

// Form is the raw user input for one generation.
type Form struct {
	Octets      mac.Octets
	Number      string
	Region      string
	Date        time.Time
	BundleExtra bool
}

// NewForm returns an empty form dated today.
func NewForm(now time.Time) Form {
	return Form{Date: dateOnly(now)}
}

// Request is a validated submission. Only Submission produces one.
type Request struct {
	// ID optionally fixes the generation id; Run assigns one when empty.
	ID          string
	MAC         mac.Address
	Version     catalog.Version
	Date        time.Time
	BundleExtra bool
}

// VersionStatus reports whether the selected version pair is known to be
// valid or invalid. An incomplete pair is neither.
func (f Form) VersionStatus(cat *catalog.Catalog) (valid, invalid bool) {
	return cat.Check(f.Number, f.Region)
}

// Submission validates the form against cat. Invalid forms never produce a
// Request.
func (f Form) Submission(cat *catalog.Catalog) (Request, error) {
	addr, ok := f.Octets.Address()
	if !ok {
		return Request{}, &ValidationError{Field: "mac", Err: fmt.Errorf("address %q is incomplete", f.Octets.String())}
	}

	number := strings.TrimSpace(f.Number)
	region := strings.ToLower(strings.TrimSpace(f.Region))
	if number == "" || region == "" {
		return Request{}, &ValidationError{Field: "version", Err: errors.New("version and region are required")}
	}
	if cat == nil || !cat.IsSupported(number, region) {
		return Request{}, &ValidationError{Field: "version", Err: fmt.Errorf("%s%s is not supported", number, region)}
	}

	if f.Date.IsZero() {
		return Request{}, &ValidationError{Field: "date", Err: errors.New("date is required")}
	}
	if y := f.Date.Year(); y < minYear || y > maxYear {
		return Request{}, &ValidationError{Field: "date", Err: fmt.Errorf("year %d is outside %d..%d", y, minYear, maxYear)}
	}

	return Request{
		MAC:         addr,
		Version:     catalog.Version{Number: number, Region: region},
		Date:        dateOnly(f.Date),
		BundleExtra: f.BundleExtra,
	}, nil
}

// ParseDate parses a dd-MM-yyyy date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Err: fmt.Errorf("%q is not dd-MM-yyyy", raw)}
	}
	return t, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidationError reports input that cannot be submitted.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
