package main

import (
	"errors"
	"testing"
	"time"

	"wilbrand/pkg/catalog"
	"wilbrand/services/generator"
)

func TestFormFromFlags(t *testing.T) {
	form, err := formFromFlags(generateFlags{
		mac:     "aabbccddeeff",
		version: "4.3U",
		date:    "01-02-2024",
	}, true)
	if err != nil {
		t.Fatalf("formFromFlags() error = %v", err)
	}
	req, err := form.Submission(catalog.Default())
	if err != nil {
		t.Fatalf("Submission() error = %v", err)
	}
	if req.MAC.String() != "AA-BB-CC-DD-EE-FF" || req.Version.Token() != "4.3u" || !req.BundleExtra {
		t.Fatalf("request = %+v", req)
	}
	if !req.Date.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", req.Date)
	}
}

func TestFormFromFlagsErrors(t *testing.T) {
	tests := []struct {
		name      string
		flags     generateFlags
		wantField string
	}{
		{name: "missing mac", flags: generateFlags{version: "4.3u"}},
		{name: "bad mac", flags: generateFlags{mac: "zz", version: "4.3u"}, wantField: "mac"},
		{name: "missing version", flags: generateFlags{mac: "AA-BB-CC-DD-EE-FF"}},
		{name: "bad version", flags: generateFlags{mac: "AA-BB-CC-DD-EE-FF", version: "4.3"}, wantField: "version"},
		{name: "bad date", flags: generateFlags{mac: "AA-BB-CC-DD-EE-FF", version: "4.3u", date: "2024/02/01"}, wantField: "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := formFromFlags(tt.flags, false)
			if err == nil {
				t.Fatal("formFromFlags() succeeded")
			}
			if tt.wantField == "" {
				return
			}
			var verr *generator.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantField {
				t.Fatalf("formFromFlags() error = %v, want invalid %s", err, tt.wantField)
			}
		})
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"versions", "generate", "verify", "watch"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}
}
