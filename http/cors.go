package http

import (
	"net/http"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// CORSHeaders returns the headers carried by every proxy response.
func CORSHeaders() http.Header {
	h := make(http.Header, 3)
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	return h
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

// withCORS sets the CORS headers on the final response, after the handler
// and any upstream response have written theirs.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&corsWriter{ResponseWriter: w}, r)
	})
}

type corsWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *corsWriter) WriteHeader(code int) {
	// informational responses are followed by the real one
	if !w.wroteHeader && code >= http.StatusOK {
		setCORS(w.Header())
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *corsWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer's Flush.
func (w *corsWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
