// Package app assembles the generation stack from configuration.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"wilbrand/pkg/bundle"
	"wilbrand/pkg/bus"
	"wilbrand/pkg/catalog"
	"wilbrand/pkg/logsink"
	"wilbrand/pkg/payload"
	"wilbrand/pkg/payload/execpayload"
	gos3 "wilbrand/pkg/s3"
	"wilbrand/services/generator"
	"wilbrand/services/generator/internal/config"
	"wilbrand/services/packager"
)

// App holds the wired components of one process.
type App struct {
	Config    config.Config
	Catalog   *catalog.Catalog
	Assembler *packager.Assembler
	Pipeline  *generator.Pipeline
	Sink      *logsink.Sink
	S3        *gos3.Client
	Bus       *bus.Bus
}

// Options overrides parts of the stack.
type Options struct {
	// Constructor replaces the executable-backed constructor.
	Constructor payload.Constructor
	// Registerer receives the pipeline metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// Publish enables generation events when NATS_URL is set.
	Publish bool
}

// New builds the stack described by cfg.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Sink: logsink.New(logger)}

	constructor := opts.Constructor
	if constructor == nil {
		execCfg := execpayload.Config{
			Binary:  cfg.GeneratorBin,
			Args:    cfg.GeneratorArgs,
			WorkDir: cfg.WorkDir,
		}
		if cfg.CatalogFile != "" {
			tokens, err := catalog.LoadFile(cfg.CatalogFile)
			if err != nil {
				return nil, err
			}
			execCfg.Versions = tokens
		}
		c, err := execpayload.New(execCfg)
		if err != nil {
			return nil, err
		}
		constructor = c
	}

	cat, err := catalog.Load(ctx, constructor)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat

	if cfg.NeedsS3() {
		client, err := gos3.NewClientFromEnv()
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		a.S3 = client
	}

	source, err := a.bundleSource()
	if err != nil {
		return nil, err
	}
	a.Assembler = packager.NewAssembler(packager.Config{
		Source:   source,
		BundleID: cfg.BundleID,
		Progress: a.Sink,
	})

	metrics, err := generator.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var publisher generator.Publisher
	if opts.Publish && cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.Bus = b
		publisher = b
	}

	pipeline, err := generator.New(generator.Options{
		Constructor: constructor,
		Assembler:   a.Assembler,
		Sink:        a.Sink,
		Metrics:     metrics,
		Publisher:   publisher,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = pipeline
	return a, nil
}

func (a *App) bundleSource() (bundle.Source, error) {
	cfg := a.Config
	switch {
	case cfg.BundleBaseURL != "":
		return bundle.NewHTTPSource(cfg.BundleBaseURL, nil, cfg.BundleFetchTimeout)
	case cfg.BundleDir != "":
		return bundle.NewFSSource(os.DirFS(cfg.BundleDir))
	case cfg.BundleBucket != "":
		return bundle.NewS3Source(a.S3, cfg.BundleBucket, cfg.BundlePrefix, cfg.BundleFetchTimeout)
	default:
		return nil, nil
	}
}

// ObjectDelivery returns the S3 delivery settings, or nil when archives are streamed.
func (a *App) ObjectDelivery() *generator.ObjectDelivery {
	if a.Config.OutputBucket == "" || a.S3 == nil {
		return nil
	}
	return &generator.ObjectDelivery{
		Store:  a.S3,
		Bucket: a.Config.OutputBucket,
		Prefix: a.Config.OutputPrefix,
		TTL:    a.Config.OutputURLTTL,
	}
}

// Close releases network connections.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
}
