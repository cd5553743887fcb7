package generator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wilbrand/pkg/delivery"
	"wilbrand/pkg/payload"
	"wilbrand/services/packager"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeConstruction = "construction_failed"
	OutcomeBundle       = "bundle_failed"
	OutcomeArchive      = "archive_failed"
	OutcomeDownload     = "download_failed"
	OutcomeError        = "error"
)

// Metrics holds the pipeline's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	generations *prometheus.CounterVec
	duration    prometheus.Histogram
	releases    prometheus.Counter
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wilbrand",
			Name:      "generations_total",
			Help:      "Generation attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wilbrand",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wilbrand",
			Name:      "payload_releases_total",
			Help:      "Payload handles released.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.generations, m.duration, m.releases} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.releases.Inc()
}

// OutcomeOf classifies err into an outcome label.
func OutcomeOf(err error) string {
	var (
		verr *ValidationError
		cerr *payload.ConstructionError
		berr *packager.BundleFetchError
		aerr *packager.ArchiveError
		derr *delivery.DownloadError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &verr):
		return OutcomeInvalid
	case errors.As(err, &cerr):
		return OutcomeConstruction
	case errors.As(err, &berr):
		return OutcomeBundle
	case errors.As(err, &aerr):
		return OutcomeArchive
	case errors.As(err, &derr):
		return OutcomeDownload
	default:
		return OutcomeError
	}
}
