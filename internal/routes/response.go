package routes

import (
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/evaluate"
	"cssbattle-eval/internal/myhttp"
	"cssbattle-eval/internal/reference"
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse is what every failed comparison looks like on the wire. A
// failure is never reported as a score of 0.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

const comparisonUnavailable = "comparison unavailable"

var BadRequestError = errors.New("bad request")

// classify maps an evaluation error to an HTTP status and a short reason
// label used for both the response and the failure metric.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, BadRequestError):
		return http.StatusUnprocessableEntity, "bad_request"
	case errors.Is(err, capture.SurfaceAccessError):
		return http.StatusUnprocessableEntity, "surface_access"
	case errors.Is(err, reference.ImageLoadError):
		return http.StatusBadGateway, "image_load"
	case errors.Is(err, evaluate.TimeoutError):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, compare.ShapeMismatchError):
		return http.StatusInternalServerError, "shape_mismatch"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		myhttp.Logger(r.Context()).Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	if status >= http.StatusInternalServerError {
		myhttp.Logger(r.Context()).Error("comparison unavailable", "reason", reason, "error", err)
	} else {
		myhttp.Logger(r.Context()).Info("comparison unavailable", "reason", reason, "error", err)
	}
	writeJSON(w, r, status, ErrorResponse{
		Error:  comparisonUnavailable,
		Reason: reason,
	})
}
