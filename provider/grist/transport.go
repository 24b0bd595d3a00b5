package grist

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/stephnangue/gristproxy/logger"
	"golang.org/x/net/http2"
)

// NewTransport creates the pooled transport used to reach the backend.
func NewTransport(log logger.Logger) *http.Transport {
	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConnsPerHost = 50
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(100),
	}
	// document exports and large record fetches can take a while to start
	transport.ResponseHeaderTimeout = 120 * time.Second

	if err := http2.ConfigureTransport(transport); err != nil && log != nil {
		log.Warn("failed to configure HTTP/2 for backend transport", logger.Err(err))
	}
	return transport
}

// redirectTransport sends each request through an http.Client so that
// backend redirects are followed before the response reaches the proxy.
type redirectTransport struct {
	client *http.Client
}

func newRedirectTransport(base http.RoundTripper) *redirectTransport {
	return &redirectTransport{
		client: &http.Client{Transport: base},
	}
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	// client requests must not carry a server RequestURI
	out.RequestURI = ""
	return t.client.Do(out)
}
