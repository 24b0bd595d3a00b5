// Package userinfo talks to the identity provider: it resolves a caller's
// bearer token into a Profile through the provider's /userinfo endpoint.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxProfileSize caps the user-info document we are willing to read.
	maxProfileSize = 1 << 20
)

// Config configures a Client
type Config struct {
	// Domain is the identity provider tenant, either a bare host
	// ("tenant.eu.auth0.com") or a base URL.
	Domain string

	Timeout time.Duration

	// RequestsPerSecond paces outgoing /userinfo calls; 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// Verifier, when set, checks token signatures before /userinfo is called.
	Verifier SignatureVerifier

	HTTPClient *http.Client
	Logger     logger.Logger
}

// Client resolves bearer tokens through the identity provider.
type Client struct {
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	verifier   SignatureVerifier
	httpClient *http.Client
	logger     logger.Logger
}

// BaseURL normalizes an identity provider domain into "https://host".
func BaseURL(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

// NewClient creates a Client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = cleanhttp.DefaultPooledClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewZerologLogger(logger.NopConfig())
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    BaseURL(cfg.Domain),
		timeout:    cfg.Timeout,
		limiter:    limiter,
		verifier:   cfg.Verifier,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// UserInfoURL returns the endpoint this client calls.
func (c *Client) UserInfoURL() string {
	return c.baseURL + "/userinfo"
}

// UserInfo exchanges token for the caller's profile. A token the provider
// rejects yields a logical.KindInvalidToken error; any failure to obtain an
// answer yields logical.KindIdentityProviderUnreachable.
func (c *Client) UserInfo(ctx context.Context, token string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.verifier != nil {
		if err := c.verifier.Verify(ctx, token); err != nil {
			return nil, logical.ErrInvalidToken(err)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, logical.ErrIdentityProviderUnreachable(fmt.Errorf("userinfo pacing: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.UserInfoURL(), nil)
	if err != nil {
		return nil, logical.ErrIdentityProviderUnreachable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
	)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Warn("userinfo request failed",
			logger.Err(err),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
		return nil, logical.ErrIdentityProviderUnreachable(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("userinfo response",
		logger.Int("status", resp.StatusCode),
		logger.Duration("latency", time.Since(start)),
		logger.String("request_id", middleware.GetReqID(ctx)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileSize))
		return nil, logical.ErrInvalidToken(fmt.Errorf("userinfo returned status %d", resp.StatusCode))
	}

	var claims map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileSize)).Decode(&claims); err != nil {
		return nil, logical.ErrIdentityProviderUnreachable(fmt.Errorf("failed to decode userinfo response: %w", err))
	}
	if claims == nil {
		claims = map[string]any{}
	}

	profile, err := ProfileFromClaims(claims)
	if err != nil {
		return nil, logical.ErrIdentityProviderUnreachable(err)
	}
	return profile, nil
}
