package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/gristproxy/core"
	"github.com/stephnangue/gristproxy/logger"
)

const statusMessage = "Grist Auth0 Proxy is running"

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Core   *core.Core
	Logger logger.Logger
}

// Handler creates and returns the main HTTP handler for the proxy.
func Handler(props *HandlerProperties) http.Handler {
	log := props.Logger
	if log == nil {
		log = logger.NewZerologLogger(logger.NopConfig())
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(withCORS)
	r.Use(middleware.Recoverer)

	dispatch := dispatcher(props.Core, log)
	r.Handle("/", dispatch)
	r.Handle("/*", dispatch)

	return r
}

// dispatcher answers preflight and status requests itself and sends
// everything else through the authorization pipeline.
func dispatcher(c *core.Core, log logger.Logger) http.Handler {
	proxy := handleProxy(c, log)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodOptions:
			handlePreflight(w, r)
		case r.URL.Path == "/" || r.URL.Path == "":
			respondOk(w, &StatusResponse{Message: statusMessage})
		default:
			proxy.ServeHTTP(w, r)
		}
	})
}

func handlePreflight(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	w.WriteHeader(http.StatusOK)
}

func handleProxy(c *core.Core, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grant, err := c.Authorize(r.Context(), r)
		if err != nil {
			respondCodedError(w, r, log, err)
			return
		}
		c.Forward(w, r, grant)
	})
}

// requestLogger writes one access log line per request.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Int("status", ww.Status()),
					logger.Int("bytes", ww.BytesWritten()),
					logger.Duration("duration", time.Since(start)),
					logger.String("remote_addr", r.RemoteAddr),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
