// Package grist forwards authenticated requests to the Grist backend with
// the caller's own backend credential swapped in.
package grist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
)

// Inbound headers that never reach the backend. Hop-by-hop headers are
// already removed by the reverse proxy.
var headersToRemove = []string{
	"Host",
	"Origin",
	"User-Agent",
	"Authorization",
}

type credentialKey struct{}

// Config configures a Forwarder
type Config struct {
	// BaseURL is the backend base URL, e.g. https://docs.getgrist.com.
	BaseURL string

	// Transport overrides the backend transport. Redirects are followed on
	// top of it.
	Transport http.RoundTripper

	// ResponseHeaders are set on every response after the backend's own
	// headers, overriding them.
	ResponseHeaders http.Header

	Logger logger.Logger
}

// Forwarder proxies requests to the backend.
type Forwarder struct {
	target          *url.URL
	proxy           *httputil.ReverseProxy
	responseHeaders http.Header
	logger          logger.Logger
}

// New creates a Forwarder
func New(cfg Config) (*Forwarder, error) {
	target, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewZerologLogger(logger.NopConfig())
	}
	if cfg.Transport == nil {
		cfg.Transport = NewTransport(cfg.Logger)
	}

	f := &Forwarder{
		target:          target,
		responseHeaders: cfg.ResponseHeaders.Clone(),
		logger:          cfg.Logger,
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      newRedirectTransport(cfg.Transport),
		FlushInterval:  -1,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
	}
	return f, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL %q: %w", raw, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base URL %q: scheme must be http or https", raw)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q: missing host", raw)
	}
	return target, nil
}

// Target returns the backend base URL
func (f *Forwarder) Target() string {
	return f.target.String()
}

// Forward sends r to the backend authenticated with apiKey and streams the
// response to w.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, apiKey string) {
	ctx := context.WithValue(r.Context(), credentialKey{}, apiKey)

	f.logger.Trace("proxying request",
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.Bool("has_key", apiKey != ""),
		logger.String("request_id", middleware.GetReqID(ctx)),
	)

	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// buildTargetURL joins the backend base URL with the inbound path and query.
func (f *Forwarder) buildTargetURL(in *url.URL) *url.URL {
	out := *f.target
	out.Path = f.target.Path + in.Path
	out.RawPath = ""
	if in.RawPath != "" {
		out.RawPath = f.target.EscapedPath() + in.RawPath
	}
	out.RawQuery = in.RawQuery
	out.Fragment = ""
	return &out
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL = f.buildTargetURL(pr.In.URL)
	pr.Out.Host = ""

	// Rewrite strips the forwarding headers from the outbound request; the
	// caller's values pass through unchanged.
	for k, v := range pr.In.Header {
		if isForwardingHeader(k) {
			pr.Out.Header[k] = append([]string(nil), v...)
		}
	}

	for _, h := range headersToRemove {
		pr.Out.Header.Del(h)
	}

	if apiKey, ok := pr.In.Context().Value(credentialKey{}).(string); ok && apiKey != "" {
		pr.Out.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func isForwardingHeader(name string) bool {
	name = http.CanonicalHeaderKey(name)
	return name == "Forwarded" || strings.HasPrefix(name, "X-Forwarded-")
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	for k, v := range f.responseHeaders {
		resp.Header[k] = append([]string(nil), v...)
	}
	return nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	coded := logical.ErrUpstreamUnreachable(err)
	f.logger.Error("proxy error",
		logger.Err(err),
		logger.String("target_url", f.buildTargetURL(r.URL).Redacted()),
		logger.String("request_id", middleware.GetReqID(r.Context())),
	)

	for k, v := range f.responseHeaders {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(coded.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": coded.Message})
}
