// Package token establishes the caller's verified identity from the bearer
// token it presents, caching identities until the token expires.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/gristproxy/auth/userinfo"
	"github.com/stephnangue/gristproxy/logger"
	"github.com/stephnangue/gristproxy/logical"
	"golang.org/x/sync/singleflight"
)

const bearerPrefix = "Bearer "

// IdentityProvider resolves a bearer token into a profile.
type IdentityProvider interface {
	UserInfo(ctx context.Context, bearer string) (*userinfo.Profile, error)
}

// FromHeader extracts the token from an Authorization header value of the
// form "Bearer <token>".
func FromHeader(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	bearer := strings.TrimSpace(header[len(bearerPrefix):])
	if bearer == "" {
		return "", false
	}
	return bearer, true
}

// ValidatorConfig configures a Validator
type ValidatorConfig struct {
	Provider IdentityProvider
	Cache    *Cache

	// DefaultTTL is used when the token carries no decodable expiry.
	DefaultTTL time.Duration

	Logger logger.Logger
	Now    func() time.Time
}

// Validator turns bearer tokens into verified profiles.
type Validator struct {
	provider   IdentityProvider
	cache      *Cache
	defaultTTL time.Duration
	logger     logger.Logger
	now        func() time.Time
	group      singleflight.Group
}

// NewValidator creates a Validator
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewZerologLogger(logger.NopConfig())
	}
	return &Validator{
		provider:   cfg.Provider,
		cache:      cfg.Cache,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Validate returns the identity behind bearer, from cache when possible.
// Concurrent validations of the same uncached token share one provider call.
func (v *Validator) Validate(ctx context.Context, bearer string) (*userinfo.Profile, error) {
	if bearer == "" {
		return nil, logical.ErrMissingAuth()
	}

	if entry, ok := v.cache.Get(bearer); ok {
		v.logger.Trace("token cache hit", logger.String("request_id", middleware.GetReqID(ctx)))
		return entry.Profile, nil
	}

	res, err, shared := v.group.Do(bearer, func() (any, error) {
		// another caller may have filled the cache while we waited
		if entry, ok := v.cache.Get(bearer); ok {
			return entry.Profile, nil
		}

		// detach from the first caller's cancellation; the provider call is
		// bounded by its own timeout
		profile, err := v.provider.UserInfo(context.WithoutCancel(ctx), bearer)
		if err != nil {
			return nil, err
		}

		expiresAt, ok := userinfo.TokenExpiry(bearer)
		if !ok {
			expiresAt = v.now().Add(v.defaultTTL)
		}
		v.cache.Set(bearer, &Entry{Profile: profile, ExpiresAt: expiresAt})

		v.logger.Debug("token validated",
			logger.String("subject", profile.Subject),
			logger.Time("expires_at", expiresAt),
			logger.Bool("exp_claim", ok),
			logger.String("request_id", middleware.GetReqID(ctx)),
		)
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		v.logger.Trace("shared token validation", logger.String("request_id", middleware.GetReqID(ctx)))
	}
	return res.(*userinfo.Profile), nil
}
