package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNoAllowedContact):
		return http.StatusUnprocessableEntity
	case model.IsComplianceViolation(err),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrProjectInactive):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case model.IsTransportFailure(err), errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides the detail of unexpected 500s. A failed sourcing run
// keeps its message so the requester can see why the project is back in
// draft.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if !model.IsSourcingFailure(err) {
			msg = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return eris.Wrapf(model.ErrInvalidInput, "invalid request body: %v", err)
}
