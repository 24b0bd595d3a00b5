package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// respondError Tests
// =============================================================================

func TestRespondError_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	respondError(w, http.StatusBadRequest, "invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "invalid input", resp.Error)
}

func TestRespondCodedError_HidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orgs", nil)
	log := logger.NewZerologLogger(logger.NopConfig())

	respondCodedError(w, r, log, logical.ErrUpstreamUnreachable(errors.New("lookup grist.internal: no such host")))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Failed to reach Grist"}`, w.Body.String())
}

func TestRespondCodedError_UncodedError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orgs", nil)
	log := logger.NewZerologLogger(logger.NopConfig())

	respondCodedError(w, r, log, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}

// =============================================================================
// respondOk Tests
// =============================================================================

func TestRespondOk(t *testing.T) {
	w := httptest.NewRecorder()

	respondOk(w, &StatusResponse{Message: "up"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"up"}`, w.Body.String())
}

func TestRespondOk_NilData(t *testing.T) {
	w := httptest.NewRecorder()

	respondOk(w, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

// =============================================================================
// CORS Tests
// =============================================================================

func TestWithCORS_SetsHeadersOnce(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Access-Control-Allow-Origin", "https://other.example.com")
		w.WriteHeader(http.StatusTeapot)
	})
	w := httptest.NewRecorder()

	withCORS(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"*"}, w.Header().Values("Access-Control-Allow-Origin"))
}

func TestWithCORS_ImplicitWriteHeader(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	w := httptest.NewRecorder()

	withCORS(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSHeaders(t *testing.T) {
	h := CORSHeaders()
	assert.Len(t, h, 3)
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
}
