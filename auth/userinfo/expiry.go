package userinfo

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the "exp" claim of a JWT access token without verifying
// it. The identity provider has already vouched for the token; the claim is
// only used to bound how long its profile stays cached. Only the payload
// segment is decoded, so a malformed header or missing signature does not
// matter. ok is false for opaque tokens, undecodable payloads and a missing or
// non-positive exp.
func TokenExpiry(token string) (expiresAt time.Time, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Unix() <= 0 {
		return time.Time{}, false
	}
	return exp.Time, true
}
