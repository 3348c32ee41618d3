// internal/api/response.go
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
)

// errorResponse is the body of every non-2xx answer
type errorResponse struct {
	Error  string              `json:"error"`
	Fields []errors.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		apiLogger.Warnf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps domain errors onto status codes
func writeErr(w http.ResponseWriter, err error) {
	var verr *errors.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, proxy.ErrUnknownEgress), errors.Is(err, orchestrator.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, proxy.ErrDuplicateEgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrShuttingDown), errors.Is(err, errors.ErrNoEgressAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		var extErr *errors.ExtractionError
		if errors.As(err, &extErr) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		apiLogger.Errorf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON strictly decodes the request body into dst
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		v := &errors.ValidationError{}
		v.Add("body", "", "invalid JSON: "+err.Error())
		return v
	}
	return nil
}
