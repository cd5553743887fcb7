package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wilbrand/pkg/telemetry"
	"wilbrand/services/generator"
	"wilbrand/services/generator/internal/app"
	"wilbrand/services/generator/internal/config"
)

const serviceName = "wilbrand-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	a, err := app.New(ctx, cfg, log.Logger, app.Options{
		Registerer: prometheus.DefaultRegisterer,
		Publish:    true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init generator")
	}
	defer a.Close()

	api, err := generator.NewAPI(generator.APIConfig{
		Pipeline:           a.Pipeline,
		Catalog:            a.Catalog,
		BundleExtraDefault: cfg.BundleExtraDefault,
		CanBundle:          a.Assembler.CanBundle(),
		Objects:            a.ObjectDelivery(),
		Logger:             log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	handler, err := api.Routes(generator.RouterOptions{
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerMinute: cfg.RateLimit,
		Middleware:        []func(http.Handler) http.Handler{telemetry.Middleware(serviceName, log.Logger)},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Int("versions", len(a.Catalog.Supported())).
			Bool("bundle", a.Assembler.CanBundle()).
			Msg("starting wilbrand-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
