// Package config loads service settings from the environment.
package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration shared by wilbrand-api and wilbrandctl.
type Config struct {
	Addr string `env:"ADDR,default=:8080"`

	GeneratorBin  string   `env:"WILBRAND_GENERATOR_BIN,default=wilbrand"`
	GeneratorArgs []string `env:"WILBRAND_GENERATOR_ARGS"`
	WorkDir       string   `env:"WILBRAND_WORK_DIR"`
	CatalogFile   string   `env:"WILBRAND_CATALOG_FILE"`

	BundleID           string        `env:"BUNDLE_ID,default=hackmii_installer_v1.2.zip"`
	BundleBaseURL      string        `env:"BUNDLE_BASE_URL"`
	BundleDir          string        `env:"BUNDLE_DIR"`
	BundleBucket       string        `env:"BUNDLE_S3_BUCKET"`
	BundlePrefix       string        `env:"BUNDLE_S3_PREFIX"`
	BundleFetchTimeout time.Duration `env:"BUNDLE_FETCH_TIMEOUT,default=30s"`
	BundleExtraDefault bool          `env:"BUNDLE_EXTRA_DEFAULT,default=false"`

	OutputBucket string        `env:"OUTPUT_S3_BUCKET"`
	OutputPrefix string        `env:"OUTPUT_S3_PREFIX,default=generations"`
	OutputURLTTL time.Duration `env:"OUTPUT_URL_TTL,default=15m"`

	NATSURL        string   `env:"NATS_URL"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimit      int      `env:"RATE_LIMIT_PER_MINUTE,default=30"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith returns a Config populated from lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects contradictory settings.
func (c Config) Validate() error {
	sources := 0
	for _, v := range []string{c.BundleBaseURL, c.BundleDir, c.BundleBucket} {
		if strings.TrimSpace(v) != "" {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("set at most one of BUNDLE_BASE_URL, BUNDLE_DIR and BUNDLE_S3_BUCKET")
	}
	if c.BundleExtraDefault && sources == 0 {
		return errors.New("BUNDLE_EXTRA_DEFAULT requires a bundle source")
	}
	if c.BundleFetchTimeout <= 0 {
		return errors.New("BUNDLE_FETCH_TIMEOUT must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// HasBundleSource reports whether any bundle source is configured.
func (c Config) HasBundleSource() bool {
	return c.BundleBaseURL != "" || c.BundleDir != "" || c.BundleBucket != ""
}

// NeedsS3 reports whether an S3 client must be created.
func (c Config) NeedsS3() bool {
	return c.BundleBucket != "" || c.OutputBucket != ""
}
