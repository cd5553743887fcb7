package generator

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wilbrand/pkg/catalog"
	"wilbrand/pkg/delivery"
	"wilbrand/pkg/mac"
	"wilbrand/services/packager"
)

const (
	maxRequestBytes    = 64 << 10
	generationIDHeader = "X-Generation-ID"
)

// ObjectDelivery uploads archives to object storage instead of streaming them.
type ObjectDelivery struct {
	Store  delivery.ObjectStore
	Bucket string
	Prefix string
	TTL    time.Duration
}

// APIConfig wires the HTTP API.
type APIConfig struct {
	Pipeline *Pipeline
	Catalog  *catalog.Catalog
	// Gate serializes generations. New creates one when nil.
	Gate *Gate
	// BundleExtraDefault applies when a request leaves bundle_extra unset.
	BundleExtraDefault bool
	// CanBundle reports whether a bundle source is configured.
	CanBundle bool
	// Objects switches delivery from attachments to presigned URLs.
	Objects *ObjectDelivery
	Logger  zerolog.Logger
	Now     func() time.Time
}

// API serves the generation endpoints.
type API struct {
	cfg APIConfig
}

// NewAPI validates cfg.
func NewAPI(cfg APIConfig) (*API, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = NewGate()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Objects != nil && (cfg.Objects.Store == nil || cfg.Objects.Bucket == "") {
		return nil, errors.New("object delivery requires a store and a bucket")
	}
	return &API{cfg: cfg}, nil
}

type versionsResponse struct {
	Versions []string `json:"versions"`
	Numbers  []string `json:"numbers"`
	Regions  []string `json:"regions"`
}

func (a *API) handleVersions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, versionsResponse{
		Versions: a.cfg.Catalog.Tokens(),
		Numbers:  a.cfg.Catalog.Numbers(),
		Regions:  a.cfg.Catalog.Regions(),
	})
}

type generateRequest struct {
	MAC         string   `json:"mac"`
	Octets      []string `json:"octets"`
	Date        string   `json:"date"`
	Version     string   `json:"version"`
	Region      string   `json:"region"`
	BundleExtra *bool    `json:"bundle_extra"`
}

type generateResponse struct {
	ID       string           `json:"id"`
	URL      string           `json:"url"`
	Root     string           `json:"root"`
	Manifest packager.Summary `json:"manifest"`
	Log      []string         `json:"log"`
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, &ValidationError{Field: "body", Err: err}, nil)
		return
	}

	form, err := a.formFrom(body)
	if err != nil {
		respondError(w, statusFor(err), err, nil)
		return
	}
	req, err := form.Submission(a.cfg.Catalog)
	if err != nil {
		respondError(w, statusFor(err), err, nil)
		return
	}
	req.ID = uuid.NewString()

	if err := a.cfg.Gate.Acquire(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Errorf("generation busy: %w", err), nil)
		return
	}
	defer a.cfg.Gate.Release()

	w.Header().Set(generationIDHeader, req.ID)

	if a.cfg.Objects == nil {
		res, err := a.cfg.Pipeline.Run(r.Context(), req, delivery.ResponseSaver{W: w})
		if err == nil {
			return
		}
		var derr *delivery.DownloadError
		if errors.As(err, &derr) {
			// The attachment was already being written.
			a.cfg.Logger.Warn().Err(err).Str("generation_id", req.ID).Msg("stream archive")
			return
		}
		respondError(w, statusFor(err), err, res.Log)
		return
	}

	saver := delivery.S3Saver{
		Store:   a.cfg.Objects.Store,
		Bucket:  a.cfg.Objects.Bucket,
		Prefix:  a.cfg.Objects.Prefix,
		TTL:     a.cfg.Objects.TTL,
		KeyFunc: func(name string) string { return path.Join(req.ID, name) },
	}
	res, err := a.cfg.Pipeline.Run(r.Context(), req, saver)
	if err != nil {
		respondError(w, statusFor(err), err, res.Log)
		return
	}
	respondJSON(w, http.StatusOK, generateResponse{
		ID:       res.ID,
		URL:      string(res.Location),
		Root:     res.Root,
		Manifest: res.Summary,
		Log:      res.Log,
	})
}

func (a *API) formFrom(body generateRequest) (Form, error) {
	form := NewForm(a.cfg.Now())

	switch {
	case body.MAC != "":
		addr, err := mac.Parse(body.MAC)
		if err != nil {
			return Form{}, &ValidationError{Field: "mac", Err: err}
		}
		form.Octets = addr.Octets()
	case len(body.Octets) > 0:
		if len(body.Octets) != mac.Cells {
			return Form{}, &ValidationError{Field: "octets", Err: fmt.Errorf("want %d octets, got %d", mac.Cells, len(body.Octets))}
		}
		for i, raw := range body.Octets {
			form.Octets, _ = form.Octets.Set(i, raw)
		}
	}

	form.Number, form.Region = body.Version, body.Region
	if body.Region == "" && body.Version != "" {
		if v, err := catalog.ParseToken(body.Version); err == nil {
			form.Number, form.Region = v.Number, v.Region
		}
	}

	if body.Date != "" {
		date, err := ParseDate(body.Date)
		if err != nil {
			return Form{}, err
		}
		form.Date = date
	}

	form.BundleExtra = a.cfg.BundleExtraDefault && a.cfg.CanBundle
	if body.BundleExtra != nil {
		if *body.BundleExtra && !a.cfg.CanBundle {
			return Form{}, &ValidationError{Field: "bundle_extra", Err: errors.New("no bundle source is configured")}
		}
		form.BundleExtra = *body.BundleExtra
	}
	return form, nil
}
