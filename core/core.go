package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"github.com/stephnangue/gristproxy/auth/token"
	"github.com/stephnangue/gristproxy/auth/userinfo"
	"github.com/stephnangue/gristproxy/config"
	"github.com/stephnangue/gristproxy/cred"
	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
	"github.com/stephnangue/gristproxy/provider/grist"
	"github.com/stephnangue/gristproxy/ratelimit"
)

// ErrNilConfig is returned by NewCore when no configuration is given.
var ErrNilConfig = errors.New("core config is required")

// Core is the process-wide service object. It owns the token cache, the
// credential allow-list and the rate limiter, and runs the request pipeline
// in a fixed order: validate token, map credential, rate limit.
type Core struct {
	logger logger.Logger

	tokens      *token.Cache
	validator   *token.Validator
	credentials *cred.Map
	limiter     *ratelimit.Limiter
	forwarder   *grist.Forwarder
}

type CoreConfig struct {
	RawConfig *config.Config

	Logger logger.Logger

	// ResponseHeaders are overlaid on every forwarded or failed upstream
	// response.
	ResponseHeaders http.Header

	// IdentityProvider replaces the /userinfo client, for tests.
	IdentityProvider token.IdentityProvider

	// BackendTransport replaces the pooled backend transport, for tests.
	BackendTransport http.RoundTripper

	// Now overrides the clock of the token cache and rate limiter.
	Now func() time.Time
}

// Grant is the outcome of a successful authorization.
type Grant struct {
	Profile    *userinfo.Profile
	Credential cred.Credential
	RateLimit  ratelimit.Decision
}

// NewCore builds the service object from conf.
func NewCore(conf *CoreConfig) (*Core, error) {
	if conf == nil || conf.RawConfig == nil {
		return nil, ErrNilConfig
	}
	raw := conf.RawConfig
	raw.ApplyDefaults()

	log := conf.Logger
	if log == nil {
		log = logger.NewZerologLogger(logger.NopConfig())
	}
	now := conf.Now
	if now == nil {
		now = time.Now
	}

	c := &Core{
		logger:      log,
		credentials: cred.NewMap(raw.Credentials()),
	}

	var result *multierror.Error
	var err error

	c.tokens, err = token.NewCache(token.CacheConfig{
		MaxEntries: raw.TokenCache.MaxEntries,
		Now:        now,
	})
	if err != nil {
		result = multierror.Append(result, err)
	}

	c.limiter, err = ratelimit.New(ratelimit.Config{
		Limit:   raw.RateLimit.Requests,
		Window:  raw.RateLimitWindow(),
		MaxKeys: raw.RateLimit.MaxKeys,
		Now:     now,
	})
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to create rate limiter: %w", err))
	}

	c.forwarder, err = grist.New(grist.Config{
		BaseURL:         raw.GristURL,
		Transport:       conf.BackendTransport,
		ResponseHeaders: conf.ResponseHeaders,
		Logger:          log.WithSubsystem("forwarder"),
	})
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to create forwarder: %w", err))
	}

	provider := conf.IdentityProvider
	if provider == nil && result.ErrorOrNil() == nil {
		provider, err = newUserInfoClient(raw, log.WithSubsystem("userinfo"))
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		if c.tokens != nil {
			c.tokens.Close()
		}
		return nil, err
	}

	c.validator = token.NewValidator(token.ValidatorConfig{
		Provider:   provider,
		Cache:      c.tokens,
		DefaultTTL: raw.TokenDefaultTTL(),
		Logger:     log.WithSubsystem("token"),
		Now:        now,
	})

	return c, nil
}

func newUserInfoClient(raw *config.Config, log logger.Logger) (token.IdentityProvider, error) {
	cfg := userinfo.Config{
		Domain:            raw.Auth0Domain,
		Timeout:           raw.UserInfoTimeout(),
		RequestsPerSecond: raw.UserInfo.RequestsPerSecond,
		Burst:             raw.UserInfo.Burst,
		Logger:            log,
	}
	if raw.UserInfo.JWKSPrecheck {
		verifier, err := userinfo.NewJWKSVerifier(context.Background(), userinfo.BaseURL(raw.Auth0Domain))
		if err != nil {
			return nil, fmt.Errorf("failed to configure JWKS precheck: %w", err)
		}
		cfg.Verifier = verifier
	}
	return userinfo.NewClient(cfg), nil
}

// Authorize runs the pipeline for r and returns the backend credential to
// use, or a *logical.CodedError describing why the request is refused.
func (c *Core) Authorize(ctx context.Context, r *http.Request) (*Grant, error) {
	bearer, ok := token.FromHeader(r.Header.Get("Authorization"))
	if !ok {
		return nil, logical.ErrMissingAuth()
	}

	profile, err := c.validator.Validate(ctx, bearer)
	if err != nil {
		return nil, err
	}

	credential, ok := c.credentials.Lookup(profile.Email, profile.Subject)
	if !ok {
		c.logger.Warn("identity not in allow-list",
			logger.String("subject", profile.Subject),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
		return nil, logical.ErrNotAuthorized()
	}

	decision := c.limiter.Allow(ratelimit.Key(profile.Subject))
	if !decision.Allowed {
		c.logger.Info("rate limit exceeded",
			logger.String("subject", profile.Subject),
			logger.Int("count", decision.Count),
			logger.Time("reset_at", decision.ResetAt),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
		return nil, logical.ErrRateLimited()
	}

	return &Grant{Profile: profile, Credential: credential, RateLimit: decision}, nil
}

// Forward proxies r to the backend with the granted credential.
func (c *Core) Forward(w http.ResponseWriter, r *http.Request, grant *Grant) {
	c.forwarder.Forward(w, r, grant.Credential.Key)
}

func (c *Core) Credentials() *cred.Map {
	return c.credentials
}

func (c *Core) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// TokenCacheMetrics returns the token cache counters.
func (c *Core) TokenCacheMetrics() token.MetricsSnapshot {
	return c.tokens.Metrics()
}

// BackendURL returns the backend base URL requests are forwarded to.
func (c *Core) BackendURL() string {
	return c.forwarder.Target()
}

func (c *Core) Shutdown() error {
	c.logger.Info("Shutting down the core")

	m := c.TokenCacheMetrics()
	c.logger.Info("token cache summary",
		logger.Int("hits", int(m.Hits)),
		logger.Int("misses", int(m.Misses)),
		logger.Int("expired", int(m.Expired)),
		logger.Int("stored", int(m.Stored)),
	)

	c.tokens.Close()

	c.logger.Info("Core shutdown successfully")

	return nil
}
