package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
)

type fakeDriver struct {
	inputs   []string
	selects  []int
	confirms []bool
	messages []string
	infos    []string
}

func (f *fakeDriver) Input(_ context.Context, cfg InputConfig) (string, error) {
	f.messages = append(f.messages, cfg.Message)
	if len(f.inputs) == 0 {
		return "", errors.New("unexpected input prompt: " + cfg.Message)
	}
	next := f.inputs[0]
	f.inputs = f.inputs[1:]
	if cfg.Validator != nil && next != "" {
		if err := cfg.Validator(next); err != nil {
			return "", err
		}
	}
	return next, nil
}

func (f *fakeDriver) Confirm(_ context.Context, cfg ConfirmConfig) (bool, error) {
	f.messages = append(f.messages, cfg.Message)
	if len(f.confirms) == 0 {
		return false, errors.New("unexpected confirm prompt")
	}
	next := f.confirms[0]
	f.confirms = f.confirms[1:]
	return next, nil
}

func (f *fakeDriver) Select(_ context.Context, cfg SelectConfig) (int, error) {
	f.messages = append(f.messages, cfg.Message)
	if len(f.selects) == 0 {
		return 0, errors.New("unexpected select prompt")
	}
	next := f.selects[0]
	f.selects = f.selects[1:]
	return next, nil
}

func (f *fakeDriver) Info(_ context.Context, msg string) error {
	f.infos = append(f.infos, msg)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2024, 2, 1, 15, 4, 5, 0, time.UTC)
}

func TestMACFollowsFocus(t *testing.T) {
	driver := &fakeDriver{inputs: []string{"aa", "b", "", "", "aa", "bb", "cc", "dd", "ee", "ff"}}
	p, err := New(driver, catalog.Default(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}

	octets, err := p.MAC(context.Background())
	if err != nil {
		t.Fatalf("MAC() error = %v", err)
	}
	want := mac.Octets{"AA", "BB", "CC", "DD", "EE", "FF"}
	if diff := cmp.Diff(want, octets); diff != "" {
		t.Fatalf("octets mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"octet 2 needs two hex digits"}, driver.infos); diff != "" {
		t.Fatalf("infos mismatch (-want +got):\n%s", diff)
	}
	// The first empty answer clears cell 2, the second moves back to cell 1.
	if driver.messages[4] != "MAC octet 1 of 6 [AA-__-__-__-__-__]" {
		t.Fatalf("fifth prompt = %q", driver.messages[4])
	}
}

func TestMACAcceptsPastedAddress(t *testing.T) {
	driver := &fakeDriver{inputs: []string{"aa:bb:cc:dd:ee:ff"}}
	p, err := New(driver, catalog.Default(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	octets, err := p.MAC(context.Background())
	if err != nil {
		t.Fatalf("MAC() error = %v", err)
	}
	if octets.String() != "AA-BB-CC-DD-EE-FF" {
		t.Fatalf("octets = %s", octets)
	}
}

func TestForm(t *testing.T) {
	cat := catalog.Default()
	driver := &fakeDriver{
		inputs:   []string{"AA-BB-CC-DD-EE-FF", "24-12-2030"},
		selects:  []int{0},
		confirms: []bool{true},
	}
	p, err := New(driver, cat, fixedNow)
	if err != nil {
		t.Fatal(err)
	}

	form, err := p.Form(context.Background(), true)
	if err != nil {
		t.Fatalf("Form() error = %v", err)
	}
	first := cat.Supported()[0]
	if form.Number != first.Number || form.Region != first.Region {
		t.Fatalf("version = %s%s, want %s", form.Number, form.Region, first.Token())
	}
	if !form.Date.Equal(time.Date(2030, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v", form.Date)
	}
	if !form.BundleExtra {
		t.Fatal("BundleExtra = false")
	}

	req, err := form.Submission(cat)
	if err != nil {
		t.Fatalf("Submission() error = %v", err)
	}
	if req.MAC.String() != "AA-BB-CC-DD-EE-FF" {
		t.Fatalf("MAC = %s", req.MAC)
	}
}

func TestFormDefaultsDateAndSkipsBundle(t *testing.T) {
	driver := &fakeDriver{
		inputs:  []string{"AABBCCDDEEFF", ""},
		selects: []int{1},
	}
	p, err := New(driver, catalog.Default(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	form, err := p.Form(context.Background(), false)
	if err != nil {
		t.Fatalf("Form() error = %v", err)
	}
	if !form.Date.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date = %v, want today", form.Date)
	}
	if form.BundleExtra {
		t.Fatal("BundleExtra = true without a bundle source")
	}
}

func TestFormAborted(t *testing.T) {
	driver := &fakeDriver{}
	p, err := New(driver, catalog.Default(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Form(context.Background(), false); err == nil {
		t.Fatal("Form() succeeded without answers")
	}
}
