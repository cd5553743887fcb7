package packager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"

	"wilbrand/pkg/bundle"
	"wilbrand/pkg/catalog"
	"wilbrand/pkg/mac"
	"wilbrand/pkg/payload/payloadtest"
)

type recordedProgress struct {
	lines []string
}

func (r *recordedProgress) Info(format string, args ...any) {
	r.lines = append(r.lines, format)
}

func fixedNow() time.Time {
	return time.Date(2024, 2, 1, 12, 30, 45, 0, time.UTC)
}

func newHandle(t *testing.T) *payloadtest.Handle {
	t.Helper()
	c := payloadtest.New()
	h, err := c.Construct(context.Background(), "AA-BB-CC-DD-EE-FF", "01-02-2024", "4.3u")
	if err != nil {
		t.Fatalf("Construct() error = %v", err)
	}
	return h.(*payloadtest.Handle)
}

func TestRootName(t *testing.T) {
	addr, err := mac.Parse("AA-BB-CC-DD-EE-FF")
	if err != nil {
		t.Fatal(err)
	}
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	got := RootName(addr, date, catalog.Version{Number: "4.3", Region: "u"})
	if got != "AABBCCDDEEFF-01022024-4.3u" {
		t.Fatalf("RootName() = %q", got)
	}
}

func TestBuildPayloadOnly(t *testing.T) {
	progress := &recordedProgress{}
	a := NewAssembler(Config{Progress: progress, Now: fixedNow})

	m, err := a.Build(context.Background(), "AABBCCDDEEFF-01022024-4.3u", newHandle(t), false)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"AABBCCDDEEFF-01022024-4.3u/apps/x/boot.dol"}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	data, _ := m.File(want[0])
	if string(data) != "payload" {
		t.Fatalf("payload bytes = %q", data)
	}
	if diff := cmp.Diff([]string{"creating zip..."}, progress.lines); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildOutlivesHandleRelease(t *testing.T) {
	a := NewAssembler(Config{Now: fixedNow})
	h := newHandle(t)

	m, err := a.Build(context.Background(), "root", h, false)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	h.Release()

	data, ok := m.File("root/apps/x/boot.dol")
	if !ok || string(data) != "payload" {
		t.Fatalf("manifest content after release = %q, want %q", data, "payload")
	}
}

func TestBuildWithBundle(t *testing.T) {
	source := bundle.Static{
		DefaultBundleID: {
			{Name: "hackmii_installer_v1.2/boot.elf", Data: []byte("elf")},
			{Name: "hackmii_installer_v1.2/README.txt", Data: []byte("readme")},
		},
	}
	a := NewAssembler(Config{Source: source, Now: fixedNow})

	m, err := a.Build(context.Background(), "root", newHandle(t), true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"root/apps/x/boot.dol", "root/boot.elf", "root/README.txt"}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}

	summary := m.Summary()
	if summary.Entries[1].Kind != KindBundle || summary.Entries[0].Kind != KindPayload {
		t.Fatalf("entry kinds = %v, %v", summary.Entries[0].Kind, summary.Entries[1].Kind)
	}
}

func TestBuildBundleWithStrayEntries(t *testing.T) {
	source := bundle.Static{
		DefaultBundleID: {
			{Name: "hackmii_installer_v1.2/boot.elf", Data: []byte("elf")},
			{Name: "__MACOSX/hackmii_installer_v1.2/._boot.elf", Data: []byte("fork")},
			{Name: "LICENSE", Data: []byte("license")},
		},
	}
	a := NewAssembler(Config{Source: source, Now: fixedNow})

	m, err := a.Build(context.Background(), "root", newHandle(t), true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []string{"root/apps/x/boot.dol", "root/boot.elf", "root/LICENSE"}
	if diff := cmp.Diff(want, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildBundleFetchFailure(t *testing.T) {
	a := NewAssembler(Config{Source: bundle.Static{}, Now: fixedNow})

	m, err := a.Build(context.Background(), "root", newHandle(t), true)
	if m != nil {
		t.Fatalf("Build() returned a manifest on failure")
	}
	var ferr *BundleFetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Build() error = %v, want *BundleFetchError", err)
	}
	if ferr.ID != DefaultBundleID {
		t.Fatalf("BundleFetchError.ID = %q", ferr.ID)
	}
}

func TestBuildBundleWithoutSource(t *testing.T) {
	a := NewAssembler(Config{Now: fixedNow})
	if a.CanBundle() {
		t.Fatal("CanBundle() = true without a source")
	}
	_, err := a.Build(context.Background(), "root", newHandle(t), true)
	var ferr *BundleFetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Build() error = %v, want *BundleFetchError", err)
	}
}

func TestBuildBundleCollisionOverwrites(t *testing.T) {
	source := bundle.Static{
		DefaultBundleID: {
			{Name: "hackmii_installer_v1.2/apps/x/boot.dol", Data: []byte("from bundle")},
			{Name: "hackmii_installer_v1.2/boot.elf", Data: []byte("elf")},
		},
	}
	a := NewAssembler(Config{Source: source, Now: fixedNow})

	m, err := a.Build(context.Background(), "root", newHandle(t), true)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if diff := cmp.Diff([]string{"root/apps/x/boot.dol", "root/boot.elf"}, m.Paths()); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	data, _ := m.File("root/apps/x/boot.dol")
	if string(data) != "from bundle" {
		t.Fatalf("collision kept %q, want the later write", data)
	}
}

func TestBuildRejectsBadRoot(t *testing.T) {
	a := NewAssembler(Config{Now: fixedNow})
	for _, root := range []string{"", "a/b", `a\b`} {
		_, err := a.Build(context.Background(), root, newHandle(t), false)
		var aerr *ArchiveError
		if !errors.As(err, &aerr) {
			t.Fatalf("Build(%q) error = %v, want *ArchiveError", root, err)
		}
	}
}

func TestFinalizeProducesReadableZip(t *testing.T) {
	a := NewAssembler(Config{Now: fixedNow})
	m := NewManifest("root", fixedNow())
	m.Put(KindPayload, "root/apps/x/boot.dol", []byte("payload"))
	m.Put(KindBundle, "root/boot.elf", bytes.Repeat([]byte("elf"), 100))

	blob, err := a.Finalize(context.Background(), m)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}

	got := map[string]string{}
	var order []string
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		got[f.Name] = string(data)
		order = append(order, f.Name)
		if !f.Modified.Equal(fixedNow()) {
			t.Fatalf("%s modified = %v", f.Name, f.Modified)
		}
	}
	if diff := cmp.Diff(m.Paths(), order); diff != "" {
		t.Fatalf("entry order mismatch (-want +got):\n%s", diff)
	}
	if got["root/apps/x/boot.dol"] != "payload" {
		t.Fatalf("payload entry = %q", got["root/apps/x/boot.dol"])
	}
}

func TestFinalizeCanceled(t *testing.T) {
	a := NewAssembler(Config{Now: fixedNow})
	m := NewManifest("root", fixedNow())
	m.Put(KindPayload, "root/x", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Finalize(ctx, m)
	var aerr *ArchiveError
	if !errors.As(err, &aerr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Finalize() error = %v, want canceled *ArchiveError", err)
	}
}

func TestManifestExtract(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest("root", fixedNow())
	m.Put(KindPayload, "root/apps/x/boot.dol", []byte("payload"))
	m.Put(KindBundle, "root/boot.elf", []byte("elf"))

	if err := m.Extract(dir); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "root", "apps", "x", "boot.dol"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("extracted payload = %q, %v", data, err)
	}

	bad := NewManifest("root", fixedNow())
	bad.Put(KindBundle, "../escape", []byte("x"))
	if err := bad.Extract(dir); err == nil {
		t.Fatal("Extract() accepted a path outside the output dir")
	}
}

func TestSummaryYAML(t *testing.T) {
	m := NewManifest("root", fixedNow())
	m.Put(KindPayload, "root/boot.dol", []byte("payload"))

	out, err := m.Summary().YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	for _, want := range []string{"root: root", "path: root/boot.dol", "kind: payload", "size: 7"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSignerRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := NewSigner(identity.String(), "")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	if signer.Recipient() != identity.Recipient().String() {
		t.Fatalf("Recipient() = %q", signer.Recipient())
	}

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "output.zip")
	archive := []byte("zip bytes")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatal(err)
	}
	sigPath := archivePath + SignatureSuffix
	if err := signer.WriteSignatureFile(sigPath, archive); err != nil {
		t.Fatalf("WriteSignatureFile() error = %v", err)
	}

	verifier, err := NewSigner("", signer.PublicKeyBase64())
	if err != nil {
		t.Fatalf("NewSigner(public) error = %v", err)
	}
	if err := verifier.VerifyFiles(archivePath, sigPath); err != nil {
		t.Fatalf("VerifyFiles() error = %v", err)
	}

	if err := os.WriteFile(archivePath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifier.VerifyFiles(archivePath, sigPath); err == nil {
		t.Fatal("VerifyFiles() accepted a tampered archive")
	}
}

func TestSignerRequiresKey(t *testing.T) {
	if _, err := NewSigner("", ""); err == nil {
		t.Fatal("NewSigner() accepted empty keys")
	}
	verifier, err := NewSigner("", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if err != nil {
		t.Fatalf("NewSigner(public) error = %v", err)
	}
	if _, err := verifier.Sign([]byte("x")); err == nil {
		t.Fatal("Sign() succeeded without a private key")
	}
}
