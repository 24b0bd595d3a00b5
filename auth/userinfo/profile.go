package userinfo

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Profile is the caller identity returned by the identity provider's
// user-info endpoint. Email and Subject may be empty when the provider omits
// them; Claims always holds the complete response.
type Profile struct {
	Email         string `mapstructure:"email"`
	EmailVerified bool   `mapstructure:"email_verified"`
	Subject       string `mapstructure:"sub"`
	Name          string `mapstructure:"name"`

	Claims map[string]any `mapstructure:"-"`
}

// ProfileFromClaims decodes the well-known fields of a user-info document.
func ProfileFromClaims(claims map[string]any) (*Profile, error) {
	p := &Profile{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           p,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile decoder: %w", err)
	}
	if err := decoder.Decode(claims); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	p.Claims = claims
	return p, nil
}
