// Package generator turns validated submissions into delivered payload archives.
package generator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wilbrand/pkg/delivery"
	"wilbrand/pkg/logsink"
	"wilbrand/pkg/payload"
	"wilbrand/services/packager"
)

const tracerName = "wilbrand/services/generator"

// Options wires a Pipeline.
type Options struct {
	Constructor payload.Constructor
	Assembler   *packager.Assembler
	Sink        *logsink.Sink
	Metrics     *Metrics
	Publisher   Publisher
	Logger      zerolog.Logger
	NewID       func() string
	Now         func() time.Time
}

// Pipeline runs generations one step after another. It holds no reentrancy
// guard: callers must not run it concurrently.
type Pipeline struct {
	constructor payload.Constructor
	builder     *payload.Builder
	assembler   *packager.Assembler
	sink        *logsink.Sink
	metrics     *Metrics
	publisher   Publisher
	logger      zerolog.Logger
	tracer      trace.Tracer
	newID       func() string
	now         func() time.Time
}

// Result describes one generation attempt. On failure it still carries the
// id, root and log lines.
type Result struct {
	ID       string
	Root     string
	Manifest *packager.Manifest
	Summary  packager.Summary
	Archive  []byte
	Location delivery.Location
	Log      []string
}

// New validates opts and returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Constructor == nil {
		return nil, errors.New("payload constructor is required")
	}
	if opts.Assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if opts.Sink == nil {
		opts.Sink = logsink.New(opts.Logger)
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	builder, err := payload.NewBuilder(opts.Constructor, payload.WithReleaseHook(opts.Metrics.released))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		constructor: opts.Constructor,
		builder:     builder,
		assembler:   opts.Assembler,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		tracer:      otel.Tracer(tracerName),
		newID:       opts.NewID,
		now:         opts.Now,
	}, nil
}

// Run executes one generation: reset the log, construct the payload, build
// and finalize the archive, release the payload and hand the archive to
// saver. The payload is released exactly once whenever construction
// succeeded. A nil saver skips delivery.
func (p *Pipeline) Run(ctx context.Context, req Request, saver delivery.Saver) (*Result, error) {
	start := p.now()
	res := &Result{
		ID:   req.ID,
		Root: packager.RootName(req.MAC, req.Date, req.Version),
	}
	if res.ID == "" {
		res.ID = p.newID()
	}

	ctx, span := p.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("generation.id", res.ID),
		attribute.String("generation.root", res.Root),
		attribute.Bool("generation.bundle_extra", req.BundleExtra),
	))
	defer span.End()

	logger := p.logger.With().Str("generation_id", res.ID).Logger()

	p.sink.Reset()
	p.constructor.InitLogger()

	err := p.assemble(ctx, req, res)
	// Lines the component logged before failing come ahead of the error line.
	p.sink.DrainFrom(p.constructor)

	if err == nil && saver != nil {
		err = p.save(ctx, saver, res)
	}

	if err != nil {
		p.sink.Error("%v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	res.Log = p.sink.Strings()

	outcome := OutcomeOf(err)
	elapsed := p.now().Sub(start)
	p.metrics.observe(outcome, elapsed)
	p.publish(ctx, logger, res, outcome, err, elapsed)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("root", res.Root).Str("outcome", outcome).Dur("elapsed", elapsed).Msg("generation finished")

	return res, err
}

func (p *Pipeline) assemble(ctx context.Context, req Request, res *Result) error {
	constructCtx, constructSpan := p.tracer.Start(ctx, "payload.construct")
	defer constructSpan.End()

	return p.builder.With(constructCtx, req.MAC, req.Date, req.Version, func(h payload.Handle) error {
		constructSpan.End()
		p.sink.DrainFrom(p.constructor)

		buildCtx, buildSpan := p.tracer.Start(ctx, "archive.build")
		m, err := p.assembler.Build(buildCtx, res.Root, h, req.BundleExtra)
		buildSpan.End()
		if err != nil {
			return err
		}

		finalizeCtx, finalizeSpan := p.tracer.Start(ctx, "archive.finalize")
		blob, err := p.assembler.Finalize(finalizeCtx, m)
		finalizeSpan.End()
		if err != nil {
			return err
		}

		res.Manifest = m
		res.Summary = m.Summary()
		res.Archive = blob
		return nil
	})
}

func (p *Pipeline) save(ctx context.Context, saver delivery.Saver, res *Result) error {
	ctx, span := p.tracer.Start(ctx, "archive.save")
	defer span.End()

	p.sink.Info("initiating zip download")
	loc, err := saver.Save(ctx, res.Archive, delivery.DefaultName)
	if err != nil {
		var derr *delivery.DownloadError
		if !errors.As(err, &derr) {
			err = &delivery.DownloadError{Name: delivery.DefaultName, Err: err}
		}
		return err
	}
	res.Location = loc
	return nil
}

func (p *Pipeline) publish(ctx context.Context, logger zerolog.Logger, res *Result, outcome string, runErr error, elapsed time.Duration) {
	if p.publisher == nil {
		return
	}
	event := Event{
		ID:         res.ID,
		Root:       res.Root,
		Outcome:    outcome,
		Location:   string(res.Location),
		Duration:   elapsed.Seconds(),
		FinishedAt: p.now().UTC(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if err := p.publisher.Publish(ctx, FinishedSubject, event); err != nil {
		logger.Warn().Err(err).Str("subject", FinishedSubject).Msg("publish generation event")
	}
}
