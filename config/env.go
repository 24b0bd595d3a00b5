package config

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/stephnangue/gristproxy/cred"
)

const (
	EnvPrefix = "GRISTPROXY_"

	EnvGristURL        = "GRIST_URL"
	EnvAuth0Domain     = "AUTH0_DOMAIN"
	EnvAddress         = EnvPrefix + "ADDR"
	EnvLogLevel        = EnvPrefix + "LOG_LEVEL"
	EnvLogFormat       = EnvPrefix + "LOG_FORMAT"
	EnvRateLimit       = EnvPrefix + "RATE_LIMIT"
	EnvRateLimitWindow = EnvPrefix + "RATE_WINDOW"
)

// USER_<n>_EMAIL / USER_<n>_KEY
var userVarRe = regexp.MustCompile(`^USER_([0-9]+)_(EMAIL|KEY)$`)

// ApplyEnvironment overlays values from env, a list of KEY=VALUE pairs as
// returned by os.Environ.
func (c *Config) ApplyEnvironment(env []string) error {
	c.fillBlocks()
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[k] = v
	}

	var result *multierror.Error

	if v := vars[EnvGristURL]; v != "" {
		c.GristURL = v
	}
	if v := vars[EnvAuth0Domain]; v != "" {
		c.Auth0Domain = v
	}
	if v := vars[EnvLogLevel]; v != "" {
		c.LogLevel = v
	}
	if v := vars[EnvLogFormat]; v != "" {
		c.LogFormat = v
	}
	if v := vars[EnvAddress]; v != "" {
		if l, err := c.GetApiListener(); err == nil {
			l.Address = v
		} else {
			c.Listeners = append(c.Listeners, ListenerBlock{Name: "api", Address: v})
		}
	}
	if v := vars[EnvRateLimit]; v != "" {
		n, err := parseutil.SafeParseIntRange(v, 1, math.MaxInt32)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not parse %s: %w", EnvRateLimit, err))
		} else {
			c.RateLimit.Requests = int(n)
		}
	}
	if v := vars[EnvRateLimitWindow]; v != "" {
		if err := checkDuration(v); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not parse %s: %w", EnvRateLimitWindow, err))
		} else {
			c.RateLimit.Window = v
		}
	}

	c.envUsers = c.envUsers[:0]
	users, warnings := scanUsers(vars)
	c.envUsers = append(c.envUsers, users...)
	for _, w := range warnings {
		c.warn(w)
	}

	return result.ErrorOrNil()
}

// scanUsers collects complete USER_<n>_EMAIL/USER_<n>_KEY pairs in
// ascending order of n. Incomplete pairs are reported as warnings.
func scanUsers(vars map[string]string) ([]cred.Credential, []string) {
	type pair struct{ email, key string }
	pairs := make(map[int]*pair)

	for k, v := range vars {
		m := userVarRe.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		p, ok := pairs[n]
		if !ok {
			p = &pair{}
			pairs[n] = p
		}
		if m[2] == "EMAIL" {
			p.email = strings.TrimSpace(v)
		} else {
			p.key = v
		}
	}

	indexes := make([]int, 0, len(pairs))
	for n := range pairs {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)

	var users []cred.Credential
	var warnings []string
	for _, n := range indexes {
		p := pairs[n]
		if p.email == "" || p.key == "" {
			warnings = append(warnings, fmt.Sprintf("skipping USER_%d: both USER_%d_EMAIL and USER_%d_KEY must be set", n, n, n))
			continue
		}
		users = append(users, cred.Credential{
			Identity: p.email,
			Key:      p.key,
			Source:   fmt.Sprintf("env:USER_%d", n),
		})
	}
	return users, warnings
}
