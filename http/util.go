package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the body of the root status endpoint
type StatusResponse struct {
	Message string `json:"message"`
}

// respondError writes an error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(&ErrorResponse{Error: message})
}

// respondCodedError converts err into its client-facing status and message.
// The underlying cause is logged, never returned to the client.
func respondCodedError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	coded := logical.AsCodedError(err)

	fields := []logger.TypedField{
		logger.String("kind", string(coded.Kind)),
		logger.Int("status", coded.Status),
		logger.String("path", r.URL.Path),
		logger.String("request_id", middleware.GetReqID(r.Context())),
	}
	if coded.Err != nil {
		fields = append(fields, logger.Err(coded.Err))
	}
	if coded.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Debug("request rejected", fields...)
	}

	respondError(w, coded.Status, coded.Message)
}

// respondOk writes a successful JSON response with status 200.
func respondOk(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
