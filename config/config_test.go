package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stephnangue/gristproxy/cred"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level  = "debug"
log_format = "json"

grist_url    = "https://grist.example.com"
auth0_domain = "tenant.eu.auth0.com"

listener "api" {
  address = "127.0.0.1:9000"
}

rate_limit {
  requests = 30
  window   = "30s"
}

token_cache {
  default_ttl = "15m"
}

userinfo {
  timeout             = "5s"
  requests_per_second = 20
  burst               = 5
}

user "a@x.com" {
  key = "K1"
}

user "auth0|42" {
  key = "K2"
}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gristproxy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, "https://grist.example.com", config.GristURL)
	assert.Equal(t, "tenant.eu.auth0.com", config.Auth0Domain)

	l, err := config.GetApiListener()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", l.Address)

	assert.Equal(t, 30, config.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, config.RateLimitWindow())
	assert.Equal(t, 15*time.Minute, config.TokenDefaultTTL())
	assert.Equal(t, 5*time.Second, config.UserInfoTimeout())
	assert.Equal(t, 20.0, config.UserInfo.RequestsPerSecond)
	assert.Equal(t, 5, config.UserInfo.Burst)

	assert.Equal(t, []cred.Credential{
		{Identity: "a@x.com", Key: "K1", Source: "config"},
		{Identity: "auth0|42", Key: "K2", Source: "config"},
	}, config.Credentials())

	require.NoError(t, config.Validate())
}

func TestLoadConfig_MinimalFileGetsBlocks(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, `grist_url = "https://grist.example.com"`))
	require.NoError(t, err)

	require.NotNil(t, config.RateLimit)
	require.NotNil(t, config.TokenCache)
	require.NotNil(t, config.UserInfo)
	assert.Equal(t, DefaultRateLimitWindow, config.RateLimitWindow())
	assert.Equal(t, DefaultTokenTTL, config.TokenDefaultTTL())
	assert.Equal(t, DefaultUserInfoTimeout, config.UserInfoTimeout())
}

func TestLoadConfig_SyntaxError(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `grist_url = `))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestApplyDefaults_Placeholders(t *testing.T) {
	config := Default()
	config.ApplyDefaults()

	assert.Equal(t, DefaultGristURL, config.GristURL)
	assert.Equal(t, DefaultAuth0Domain, config.Auth0Domain)
	assert.Equal(t, DefaultRateLimitRequests, config.RateLimit.Requests)
	assert.Equal(t, DefaultRateLimitMaxKeys, config.RateLimit.MaxKeys)
	assert.Equal(t, int64(DefaultTokenMaxEntries), config.TokenCache.MaxEntries)
	assert.Equal(t, 1, config.UserInfo.Burst)

	l, err := config.GetApiListener()
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, l.Address)

	require.Len(t, config.Warnings, 3)
	assert.Contains(t, config.Warnings[0], "grist_url")
	assert.Contains(t, config.Warnings[1], "auth0_domain")
	assert.Contains(t, config.Warnings[2], "no users")
	assert.NoError(t, config.Validate())
}

func TestApplyEnvironment(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	err = config.ApplyEnvironment([]string{
		"GRIST_URL=https://other.example.com",
		"AUTH0_DOMAIN=other.auth0.com",
		"GRISTPROXY_ADDR=:7000",
		"GRISTPROXY_LOG_LEVEL=warn",
		"GRISTPROXY_RATE_LIMIT=100",
		"GRISTPROXY_RATE_WINDOW=120",
		"USER_2_EMAIL=b@x.com",
		"USER_2_KEY=K3",
		"USER_1_EMAIL=a@x.com",
		"USER_1_KEY=K1-env",
		"PATH=/usr/bin",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.com", config.GristURL)
	assert.Equal(t, "other.auth0.com", config.Auth0Domain)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 100, config.RateLimit.Requests)
	assert.Equal(t, 2*time.Minute, config.RateLimitWindow())

	l, err := config.GetApiListener()
	require.NoError(t, err)
	assert.Equal(t, ":7000", l.Address)

	creds := config.Credentials()
	require.Len(t, creds, 4)
	assert.Equal(t, cred.Credential{Identity: "a@x.com", Key: "K1-env", Source: "env:USER_1"}, creds[2])
	assert.Equal(t, cred.Credential{Identity: "b@x.com", Key: "K3", Source: "env:USER_2"}, creds[3])

	// the environment entry for a@x.com is defined later and wins
	m := cred.NewMap(creds)
	c, ok := m.Lookup("a@x.com", "")
	require.True(t, ok)
	assert.Equal(t, "K1-env", c.Key)
}

func TestApplyEnvironment_IncompleteUserPairs(t *testing.T) {
	config := Default()
	err := config.ApplyEnvironment([]string{
		"USER_1_EMAIL=a@x.com",
		"USER_1_KEY=K1",
		"USER_3_EMAIL=c@x.com",
		"USER_4_KEY=K4",
		"USER_0_EMAIL=zero@x.com",
		"USER_0_KEY=K0",
		"USER_X_EMAIL=x@x.com",
		"USER_5_EMAIL=",
		"USER_5_KEY=K5",
	})
	require.NoError(t, err)

	creds := config.Credentials()
	require.Len(t, creds, 1)
	assert.Equal(t, "a@x.com", creds[0].Identity)

	require.Len(t, config.Warnings, 3)
	assert.Contains(t, config.Warnings[0], "USER_3")
	assert.Contains(t, config.Warnings[1], "USER_4")
	assert.Contains(t, config.Warnings[2], "USER_5")
}

func TestApplyEnvironment_InvalidValues(t *testing.T) {
	config := Default()
	err := config.ApplyEnvironment([]string{
		"GRISTPROXY_RATE_LIMIT=zero",
		"GRISTPROXY_RATE_WINDOW=-5s",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvRateLimit)
	assert.Contains(t, err.Error(), EnvRateLimitWindow)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	config := Default()
	config.GristURL = "not a url"
	config.Auth0Domain = "tenant.auth0.com"
	config.LogFormat = "xml"
	config.Listeners = []ListenerBlock{
		{Name: "api", Address: ":8080", TLSEnabled: true},
		{Name: "api", Address: ""},
	}
	config.RateLimit.Requests = -1
	config.RateLimit.Window = "soon"
	config.TokenCache.DefaultTTL = "0s"
	config.UserInfo.Timeout = "ten"
	config.Users = []UserBlock{{Identity: "a@x.com"}}

	err := config.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"grist_url",
		"log_format",
		"duplicate listener",
		"address is required",
		"tls_cert_file",
		"rate_limit.requests",
		"rate_limit.window",
		"token_cache.default_ttl",
		"userinfo.timeout",
		`user "a@x.com": key is required`,
	} {
		assert.Contains(t, msg, want)
	}
}
