package token

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stephnangue/gristproxy/auth/userinfo"
	"github.com/stephnangue/gristproxy/logical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls   atomic.Int64
	delay   time.Duration
	profile *userinfo.Profile
	err     error
}

func (p *fakeProvider) UserInfo(ctx context.Context, bearer string) (*userinfo.Profile, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.profile, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func jwtWithExp(exp int64) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := enc.EncodeToString([]byte(fmt.Sprintf(`{"sub":"auth0|1","exp":%d}`, exp)))
	return header + "." + payload + ".c2ln"
}

func newTestValidator(t *testing.T, provider IdentityProvider, clock *fakeClock) *Validator {
	t.Helper()
	cache, err := NewCache(CacheConfig{MaxEntries: 1000, Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return NewValidator(ValidatorConfig{
		Provider: provider,
		Cache:    cache,
		Now:      clock.Now,
	})
}

func TestFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"bearer abc", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Token abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := FromHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_CachesProfile(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{Email: "a@x.com", Subject: "auth0|1"}}
	v := newTestValidator(t, provider, clock)

	for i := 0; i < 3; i++ {
		p, err := v.Validate(context.Background(), "opaque-token")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", p.Email)
	}
	assert.Equal(t, int64(1), provider.calls.Load())

	m := v.cache.Metrics()
	assert.Equal(t, int64(2), m.Hits)
	assert.Equal(t, int64(1), m.Stored)
}

func TestValidate_DefaultTTLForOpaqueToken(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{Subject: "auth0|1"}}
	v := newTestValidator(t, provider, clock)

	_, err := v.Validate(context.Background(), "opaque-token")
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = v.Validate(context.Background(), "opaque-token")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())

	clock.Advance(2 * time.Minute)
	_, err = v.Validate(context.Background(), "opaque-token")
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.calls.Load(), "entry past the default TTL is revalidated")
}

func TestValidate_UsesTokenExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{Subject: "auth0|1"}}
	v := newTestValidator(t, provider, clock)

	bearer := jwtWithExp(clock.Now().Add(5 * time.Minute).Unix())

	_, err := v.Validate(context.Background(), bearer)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = v.Validate(context.Background(), bearer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())

	clock.Advance(2 * time.Minute)
	_, err = v.Validate(context.Background(), bearer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestValidate_ExpiredTokenNotCached(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{Subject: "auth0|1"}}
	v := newTestValidator(t, provider, clock)

	bearer := jwtWithExp(clock.Now().Add(-time.Minute).Unix())
	for i := 0; i < 2; i++ {
		_, err := v.Validate(context.Background(), bearer)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestValidate_ProviderErrorNotCached(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{err: logical.ErrInvalidToken(errors.New("status 401"))}
	v := newTestValidator(t, provider, clock)

	for i := 0; i < 2; i++ {
		_, err := v.Validate(context.Background(), "bad-token")
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, logical.GetErrorCode(err))
		assert.True(t, logical.IsKind(err, logical.KindInvalidToken))
	}
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestValidate_EmptyToken(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{}}
	v := newTestValidator(t, provider, clock)

	_, err := v.Validate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, logical.IsKind(err, logical.KindMissingAuth))
	assert.Zero(t, provider.calls.Load())
}

func TestValidate_CoalescesConcurrentMisses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{
		delay:   50 * time.Millisecond,
		profile: &userinfo.Profile{Subject: "auth0|1"},
	}
	v := newTestValidator(t, provider, clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := v.Validate(context.Background(), "shared-token")
			assert.NoError(t, err)
			assert.Equal(t, "auth0|1", p.Subject)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestValidate_DistinctTokensValidatedSeparately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	provider := &fakeProvider{profile: &userinfo.Profile{Subject: "auth0|1"}}
	v := newTestValidator(t, provider, clock)

	_, err := v.Validate(context.Background(), "token-a")
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), "token-b")
	require.NoError(t, err)

	assert.Equal(t, int64(2), provider.calls.Load())
}
