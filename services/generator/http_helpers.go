package generator

import (
	"encoding/json"
	"errors"
	"net/http"

	"wilbrand/pkg/delivery"
	"wilbrand/pkg/payload"
	"wilbrand/services/packager"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error, log []string) {
	if err == nil {
		err = errors.New("unknown error")
	}
	if log == nil {
		log = []string{}
	}
	respondJSON(w, status, map[string]any{"error": err.Error(), "log": log})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr *ValidationError
		cerr *payload.ConstructionError
		berr *packager.BundleFetchError
		aerr *packager.ArchiveError
		derr *delivery.DownloadError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &cerr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &berr):
		return http.StatusBadGateway
	case errors.As(err, &aerr):
		return http.StatusInternalServerError
	case errors.As(err, &derr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
