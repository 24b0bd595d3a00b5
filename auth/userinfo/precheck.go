package userinfo

import (
	"context"
	"fmt"
	"strings"

	capjwt "github.com/hashicorp/cap/jwt"
)

// SignatureVerifier checks a JWT access token locally before the user-info
// call is made.
type SignatureVerifier interface {
	Verify(ctx context.Context, token string) error
}

// JWKSVerifier verifies RS256 tokens against the tenant's published JWKS.
type JWKSVerifier struct {
	validator *capjwt.Validator
	expected  capjwt.Expected
}

// NewJWKSVerifier builds a verifier for issuer using the key set at
// <issuer>.well-known/jwks.json.
func NewJWKSVerifier(ctx context.Context, issuer string) (*JWKSVerifier, error) {
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	keySet, err := capjwt.NewJSONWebKeySet(ctx, issuer+".well-known/jwks.json", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyset: %w", err)
	}
	return NewKeySetVerifier(keySet, issuer)
}

// NewKeySetVerifier builds a verifier over an arbitrary key set.
func NewKeySetVerifier(keySet capjwt.KeySet, issuer string) (*JWKSVerifier, error) {
	validator, err := capjwt.NewValidator(keySet)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	return &JWKSVerifier{
		validator: validator,
		expected: capjwt.Expected{
			Issuer:            issuer,
			SigningAlgorithms: []capjwt.Alg{capjwt.RS256},
		},
	}, nil
}

// Verify implements SignatureVerifier.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) error {
	if _, err := v.validator.Validate(ctx, token, v.expected); err != nil {
		return fmt.Errorf("token signature check failed: %w", err)
	}
	return nil
}
