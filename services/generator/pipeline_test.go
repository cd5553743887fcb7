package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"wilbrand/pkg/bundle"
	"wilbrand/pkg/catalog"
	"wilbrand/pkg/delivery"
	"wilbrand/pkg/logsink"
	"wilbrand/pkg/mac"
	"wilbrand/pkg/payload"
	"wilbrand/pkg/payload/payloadtest"
	"wilbrand/services/packager"
)

type memorySaver struct {
	blob []byte
	name string
	err  error
}

func (s *memorySaver) Save(_ context.Context, blob []byte, name string) (delivery.Location, error) {
	if s.err != nil {
		return "", &delivery.DownloadError{Name: name, Err: s.err}
	}
	s.blob, s.name = blob, name
	return delivery.Location("mem://" + name), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subject != FinishedSubject {
		return errors.New("unexpected subject " + subject)
	}
	p.events = append(p.events, v.(Event))
	return p.err
}

type fixture struct {
	constructor *payloadtest.Constructor
	pipeline    *Pipeline
	metrics     *Metrics
	registry    *prometheus.Registry
	publisher   *recordingPublisher
}

func newFixture(t *testing.T, source bundle.Source) *fixture {
	t.Helper()
	f := &fixture{
		constructor: payloadtest.New(),
		registry:    prometheus.NewRegistry(),
		publisher:   &recordingPublisher{},
	}
	metrics, err := NewMetrics(f.registry)
	if err != nil {
		t.Fatal(err)
	}
	f.metrics = metrics

	sink := newTestSink()
	assembler := packager.NewAssembler(packager.Config{
		Source:   source,
		Progress: sink,
		Now:      func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) },
	})
	f.pipeline, err = New(Options{
		Constructor: f.constructor,
		Assembler:   assembler,
		Sink:        sink,
		Metrics:     metrics,
		Publisher:   f.publisher,
		Logger:      zerolog.Nop(),
		NewID:       func() string { return "gen-1" },
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func testRequest(t *testing.T) Request {
	t.Helper()
	addr, err := mac.Parse("AA-BB-CC-DD-EE-FF")
	if err != nil {
		t.Fatal(err)
	}
	return Request{
		MAC:     addr,
		Version: catalog.Version{Number: "4.3", Region: "u"},
		Date:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, nil)
	saver := &memorySaver{}

	res, err := f.pipeline.Run(context.Background(), testRequest(t), saver)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]payloadtest.Call{{MAC: "AA-BB-CC-DD-EE-FF", Date: "01-02-2024", Version: "4.3u"}}, f.constructor.Calls()); diff != "" {
		t.Fatalf("constructor calls mismatch (-want +got):\n%s", diff)
	}
	if f.constructor.Releases() != 1 || f.constructor.DoubleFrees() != 0 {
		t.Fatalf("releases = %d, double frees = %d", f.constructor.Releases(), f.constructor.DoubleFrees())
	}
	if f.constructor.Inits() != 1 {
		t.Fatalf("InitLogger calls = %d", f.constructor.Inits())
	}

	if res.Root != "AABBCCDDEEFF-01022024-4.3u" {
		t.Fatalf("root = %q", res.Root)
	}
	if len(res.Summary.Entries) != 1 || res.Summary.Entries[0].Path != "AABBCCDDEEFF-01022024-4.3u/apps/x/boot.dol" {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if saver.name != delivery.DefaultName || len(saver.blob) == 0 {
		t.Fatalf("saver got %q with %d bytes", saver.name, len(saver.blob))
	}
	if res.Location != "mem://output.zip" {
		t.Fatalf("location = %q", res.Location)
	}

	want := []string{
		"[INFO] MAC address: AA-BB-CC-DD-EE-FF",
		"[INFO] building payload",
		"[INFO] creating zip...",
		"[INFO] initiating zip download",
	}
	if diff := cmp.Diff(want, res.Log); diff != "" {
		t.Fatalf("log mismatch (-want +got):\n%s", diff)
	}

	if got := testutil.ToFloat64(f.metrics.generations.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.releases); got != 1 {
		t.Fatalf("release counter = %v", got)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Outcome != OutcomeSuccess || f.publisher.events[0].ID != "gen-1" {
		t.Fatalf("events = %+v", f.publisher.events)
	}
}

func TestRunManifestOutlivesRelease(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.pipeline.Run(context.Background(), testRequest(t), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := f.constructor.Releases(); got != 1 {
		t.Fatalf("releases = %d, want 1", got)
	}
	data, ok := res.Manifest.File("AABBCCDDEEFF-01022024-4.3u/apps/x/boot.dol")
	if !ok || string(data) != "payload" {
		t.Fatalf("manifest content after release = %q, want %q", data, "payload")
	}
}

func TestRunConstructionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.constructor.Err = errors.New("invalid MAC address")
	saver := &memorySaver{}

	res, err := f.pipeline.Run(context.Background(), testRequest(t), saver)
	var cerr *payload.ConstructionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Run() error = %v, want *payload.ConstructionError", err)
	}
	if f.constructor.Releases() != 0 {
		t.Fatalf("releases = %d, want 0", f.constructor.Releases())
	}
	if saver.blob != nil {
		t.Fatal("saver called after construction failure")
	}
	if res.Archive != nil {
		t.Fatal("result carries an archive after construction failure")
	}

	last := res.Log[len(res.Log)-1]
	if last != "[ERROR] construct payload: invalid MAC address" {
		t.Fatalf("last log line = %q", last)
	}
	if !strings.HasPrefix(res.Log[0], "[INFO] MAC address") {
		t.Fatalf("component lines missing: %v", res.Log)
	}
	if got := testutil.ToFloat64(f.metrics.generations.WithLabelValues(OutcomeConstruction)); got != 1 {
		t.Fatalf("construction counter = %v", got)
	}
}

func TestRunBundleFailureStillReleases(t *testing.T) {
	f := newFixture(t, bundle.Static{})
	req := testRequest(t)
	req.BundleExtra = true
	saver := &memorySaver{}

	res, err := f.pipeline.Run(context.Background(), req, saver)
	var berr *packager.BundleFetchError
	if !errors.As(err, &berr) {
		t.Fatalf("Run() error = %v, want *packager.BundleFetchError", err)
	}
	if f.constructor.Releases() != 1 || f.constructor.DoubleFrees() != 0 {
		t.Fatalf("releases = %d, double frees = %d", f.constructor.Releases(), f.constructor.DoubleFrees())
	}
	if saver.blob != nil || res.Archive != nil {
		t.Fatal("archive produced after bundle failure")
	}
	if !strings.HasPrefix(res.Log[len(res.Log)-1], "[ERROR] fetch bundle") {
		t.Fatalf("log = %v", res.Log)
	}
	if f.publisher.events[0].Outcome != OutcomeBundle || f.publisher.events[0].Error == "" {
		t.Fatalf("event = %+v", f.publisher.events[0])
	}
}

func TestRunWithBundle(t *testing.T) {
	source := bundle.Static{
		packager.DefaultBundleID: {
			{Name: "hackmii_installer_v1.2/boot.elf", Data: []byte("elf")},
		},
	}
	f := newFixture(t, source)
	req := testRequest(t)
	req.BundleExtra = true

	res, err := f.pipeline.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var paths []string
	for _, e := range res.Summary.Entries {
		paths = append(paths, e.Path)
	}
	want := []string{
		"AABBCCDDEEFF-01022024-4.3u/apps/x/boot.dol",
		"AABBCCDDEEFF-01022024-4.3u/boot.elf",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	if res.Location != "" {
		t.Fatalf("location = %q without a saver", res.Location)
	}
	if !containsLine(res.Log, "[INFO] adding hackmii_installer_v1.2 files...") {
		t.Fatalf("log = %v", res.Log)
	}
}

func TestRunDownloadFailureKeepsArchive(t *testing.T) {
	f := newFixture(t, nil)
	saver := &memorySaver{err: errors.New("disk full")}

	res, err := f.pipeline.Run(context.Background(), testRequest(t), saver)
	var derr *delivery.DownloadError
	if !errors.As(err, &derr) {
		t.Fatalf("Run() error = %v, want *delivery.DownloadError", err)
	}
	if len(res.Archive) == 0 {
		t.Fatal("archive dropped after download failure")
	}
	if f.constructor.Releases() != 1 {
		t.Fatalf("releases = %d", f.constructor.Releases())
	}
}

func TestRunResetsLogBetweenAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.constructor.Err = errors.New("boom")
	if _, err := f.pipeline.Run(context.Background(), testRequest(t), nil); err == nil {
		t.Fatal("first Run() succeeded")
	}

	f.constructor.Err = nil
	res, err := f.pipeline.Run(context.Background(), testRequest(t), nil)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if containsLine(res.Log, "[ERROR] construct payload: boom") {
		t.Fatalf("log carries the previous attempt: %v", res.Log)
	}
	if f.constructor.Inits() != 2 {
		t.Fatalf("InitLogger calls = %d", f.constructor.Inits())
	}
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("nats down")
	if _, err := f.pipeline.Run(context.Background(), testRequest(t), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{&ValidationError{Field: "mac", Err: errors.New("x")}, OutcomeInvalid},
		{&payload.ConstructionError{Err: errors.New("x")}, OutcomeConstruction},
		{&packager.BundleFetchError{Err: errors.New("x")}, OutcomeBundle},
		{&packager.ArchiveError{Op: "finalize", Err: errors.New("x")}, OutcomeArchive},
		{&delivery.DownloadError{Err: errors.New("x")}, OutcomeDownload},
		{errors.New("x"), OutcomeError},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.want {
			t.Fatalf("OutcomeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func newTestSink() *logsink.Sink {
	return logsink.New(zerolog.Nop())
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
