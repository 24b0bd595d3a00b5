package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/stephnangue/gristproxy/cred"
)

const (
	// Placeholders used when the backend or identity provider is not configured.
	DefaultGristURL    = "https://docs.getgrist.com"
	DefaultAuth0Domain = "your-tenant.auth0.com"

	DefaultAddress           = ":8080"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "standard"
	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = 60 * time.Second
	DefaultRateLimitMaxKeys  = 10_000
	DefaultTokenTTL          = time.Hour
	DefaultTokenMaxEntries   = 100_000
	DefaultUserInfoTimeout   = 10 * time.Second
)

// Config is the configuration for the proxy server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	GristURL    string `hcl:"grist_url,optional"`
	Auth0Domain string `hcl:"auth0_domain,optional"`

	Listeners  []ListenerBlock  `hcl:"listener,block"`
	RateLimit  *RateLimitBlock  `hcl:"rate_limit,block"`
	TokenCache *TokenCacheBlock `hcl:"token_cache,block"`
	UserInfo   *UserInfoBlock   `hcl:"userinfo,block"`
	Users      []UserBlock      `hcl:"user,block"`

	// Warnings collected while resolving defaults and the environment.
	Warnings []string

	envUsers []cred.Credential
}

type ListenerBlock struct {
	Name              string `hcl:"name,label"`
	Address           string `hcl:"address"`
	TLSEnabled        bool   `hcl:"tls_enabled,optional"`
	TLSCertFile       string `hcl:"tls_cert_file,optional"`
	TLSKeyFile        string `hcl:"tls_key_file,optional"`
	ReadHeaderTimeout string `hcl:"read_header_timeout,optional"`
	IdleTimeout       string `hcl:"idle_timeout,optional"`
}

type RateLimitBlock struct {
	Requests int    `hcl:"requests,optional"`
	Window   string `hcl:"window,optional"`
	MaxKeys  int    `hcl:"max_keys,optional"`
}

type TokenCacheBlock struct {
	DefaultTTL string `hcl:"default_ttl,optional"`
	MaxEntries int64  `hcl:"max_entries,optional"`
}

type UserInfoBlock struct {
	Timeout           string  `hcl:"timeout,optional"`
	RequestsPerSecond float64 `hcl:"requests_per_second,optional"`
	Burst             int     `hcl:"burst,optional"`
	JWKSPrecheck      bool    `hcl:"jwks_precheck,optional"`
}

// UserBlock grants one identity, an email address or an identity provider
// subject id, access with its backend API key.
type UserBlock struct {
	Identity string `hcl:"identity,label"`
	Key      string `hcl:"key"`
}

// Default returns a configuration with every optional block present.
func Default() *Config {
	return &Config{
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
		RateLimit:  &RateLimitBlock{},
		TokenCache: &TokenCacheBlock{},
		UserInfo:   &UserInfoBlock{},
	}
}

// LoadConfig decodes an HCL configuration file.
func LoadConfig(configFile string) (*Config, error) {
	config := Default()
	if err := hclsimple.DecodeFile(configFile, nil, config); err != nil {
		return nil, err
	}
	config.fillBlocks()
	return config, nil
}

// Load reads the optional configuration file, overlays the process
// environment, applies defaults and validates the result.
func Load(configFile string) (*Config, error) {
	config := Default()
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configFile)
		}
		var err error
		config, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := config.ApplyEnvironment(os.Environ()); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) fillBlocks() {
	if c.RateLimit == nil {
		c.RateLimit = &RateLimitBlock{}
	}
	if c.TokenCache == nil {
		c.TokenCache = &TokenCacheBlock{}
	}
	if c.UserInfo == nil {
		c.UserInfo = &UserInfoBlock{}
	}
}

// ApplyDefaults fills unset values. Missing backend URL or identity domain
// fall back to placeholders and record a warning.
func (c *Config) ApplyDefaults() {
	c.fillBlocks()

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if strings.TrimSpace(c.GristURL) == "" {
		c.GristURL = DefaultGristURL
		c.warn(fmt.Sprintf("grist_url is not set, using placeholder %s", DefaultGristURL))
	}
	if strings.TrimSpace(c.Auth0Domain) == "" {
		c.Auth0Domain = DefaultAuth0Domain
		c.warn(fmt.Sprintf("auth0_domain is not set, using placeholder %s", DefaultAuth0Domain))
	}
	if len(c.Listeners) == 0 {
		c.Listeners = append(c.Listeners, ListenerBlock{Name: "api", Address: DefaultAddress})
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = DefaultRateLimitRequests
	}
	if c.RateLimit.MaxKeys == 0 {
		c.RateLimit.MaxKeys = DefaultRateLimitMaxKeys
	}
	if c.TokenCache.MaxEntries == 0 {
		c.TokenCache.MaxEntries = DefaultTokenMaxEntries
	}
	if c.UserInfo.Burst == 0 {
		c.UserInfo.Burst = 1
	}
	if len(c.Credentials()) == 0 {
		c.warn("no users are configured, every authenticated request will be rejected")
	}
}

func (c *Config) warn(msg string) {
	if !slices.Contains(c.Warnings, msg) {
		c.Warnings = append(c.Warnings, msg)
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	c.fillBlocks()
	var result *multierror.Error

	if _, err := url.ParseRequestURI(c.GristURL); err != nil || !strings.HasPrefix(c.GristURL, "http") {
		result = multierror.Append(result, fmt.Errorf("invalid grist_url %q", c.GristURL))
	}
	if strings.ContainsAny(strings.TrimSpace(c.Auth0Domain), " \t") {
		result = multierror.Append(result, fmt.Errorf("invalid auth0_domain %q", c.Auth0Domain))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "standard", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid log_format %q: must be standard or json", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}

	names := make(map[string]bool)
	for _, l := range c.Listeners {
		if names[l.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate listener %q", l.Name))
		}
		names[l.Name] = true
		if l.Address == "" {
			result = multierror.Append(result, fmt.Errorf("listener %q: address is required", l.Name))
		}
		if l.TLSEnabled && (l.TLSCertFile == "" || l.TLSKeyFile == "") {
			result = multierror.Append(result, fmt.Errorf("listener %q: tls_cert_file and tls_key_file are required when tls_enabled is set", l.Name))
		}
		if err := checkDuration(l.ReadHeaderTimeout); err != nil {
			result = multierror.Append(result, fmt.Errorf("listener %q: invalid read_header_timeout: %w", l.Name, err))
		}
		if err := checkDuration(l.IdleTimeout); err != nil {
			result = multierror.Append(result, fmt.Errorf("listener %q: invalid idle_timeout: %w", l.Name, err))
		}
	}

	if c.RateLimit.Requests < 0 {
		result = multierror.Append(result, fmt.Errorf("rate_limit.requests must be positive, got %d", c.RateLimit.Requests))
	}
	if c.RateLimit.MaxKeys < 0 {
		result = multierror.Append(result, fmt.Errorf("rate_limit.max_keys must be positive, got %d", c.RateLimit.MaxKeys))
	}
	if err := checkDuration(c.RateLimit.Window); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid rate_limit.window: %w", err))
	}
	if err := checkDuration(c.TokenCache.DefaultTTL); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid token_cache.default_ttl: %w", err))
	}
	if c.TokenCache.MaxEntries < 0 {
		result = multierror.Append(result, fmt.Errorf("token_cache.max_entries must be positive, got %d", c.TokenCache.MaxEntries))
	}
	if err := checkDuration(c.UserInfo.Timeout); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid userinfo.timeout: %w", err))
	}
	if c.UserInfo.RequestsPerSecond < 0 {
		result = multierror.Append(result, fmt.Errorf("userinfo.requests_per_second must not be negative"))
	}
	if c.UserInfo.Burst < 0 {
		result = multierror.Append(result, fmt.Errorf("userinfo.burst must not be negative"))
	}

	for _, u := range c.Users {
		if strings.TrimSpace(u.Identity) == "" {
			result = multierror.Append(result, fmt.Errorf("user block with empty identity"))
		}
		if u.Key == "" {
			result = multierror.Append(result, fmt.Errorf("user %q: key is required", u.Identity))
		}
	}

	return result.ErrorOrNil()
}

// checkDuration accepts an empty value, a Go duration or a number of
// seconds, and rejects non-positive durations.
func checkDuration(raw string) error {
	if raw == "" {
		return nil
	}
	d, err := parseutil.ParseDurationSecond(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("%q must be positive", raw)
	}
	return nil
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := parseutil.ParseDurationSecond(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for i := range c.Listeners {
		if c.Listeners[i].Name == name {
			return &c.Listeners[i], nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// GetApiListener is a convenience method to get the api listener
func (c *Config) GetApiListener() (*ListenerBlock, error) {
	return c.GetListenerByName("api")
}

// RateLimitWindow returns the configured fixed window length.
func (c *Config) RateLimitWindow() time.Duration {
	return durationOr(c.RateLimit.Window, DefaultRateLimitWindow)
}

// TokenDefaultTTL returns how long a token without a readable expiry stays cached.
func (c *Config) TokenDefaultTTL() time.Duration {
	return durationOr(c.TokenCache.DefaultTTL, DefaultTokenTTL)
}

// UserInfoTimeout bounds each identity provider call.
func (c *Config) UserInfoTimeout() time.Duration {
	return durationOr(c.UserInfo.Timeout, DefaultUserInfoTimeout)
}

func (l *ListenerBlock) ReadHeaderTimeoutDuration() time.Duration {
	return durationOr(l.ReadHeaderTimeout, 10*time.Second)
}

func (l *ListenerBlock) IdleTimeoutDuration() time.Duration {
	return durationOr(l.IdleTimeout, 120*time.Second)
}

// Credentials returns the allow-list: file users first, then users found in
// the environment, so a later entry for the same identity wins.
func (c *Config) Credentials() []cred.Credential {
	out := make([]cred.Credential, 0, len(c.Users)+len(c.envUsers))
	for _, u := range c.Users {
		out = append(out, cred.Credential{Identity: u.Identity, Key: u.Key, Source: "config"})
	}
	return append(out, c.envUsers...)
}
