package logical

import (
	"errors"
	"fmt"
	"net/http"
)

// Client-facing messages. These strings are part of the proxy's public
// contract: the browser application matches on them.
const (
	MsgMissingAuth            = "Missing or invalid Authorization header"
	MsgInvalidToken           = "Invalid Auth0 Token"
	MsgIdentityProviderFailed = "Failed to validate token"
	MsgNotAuthorized          = "User not authorized for Grist access"
	MsgRateLimited            = "Rate limit exceeded"
	MsgUpstreamUnreachable    = "Failed to reach Grist"
)

// Kind classifies a proxy failure.
type Kind string

const (
	KindMissingAuth                 Kind = "missing_auth"
	KindInvalidToken                Kind = "invalid_token"
	KindIdentityProviderUnreachable Kind = "identity_provider_unreachable"
	KindNotAuthorized               Kind = "not_authorized"
	KindRateLimited                 Kind = "rate_limited"
	KindUpstreamUnreachable         Kind = "upstream_unreachable"
	KindInternal                    Kind = "internal"
)

// CodedError is an error that carries an HTTP status code and the message
// returned to the caller. Err holds the underlying cause, which is logged
// but never sent to the client.
type CodedError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// Code returns the HTTP status code.
func (e *CodedError) Code() int {
	return e.Status
}

// ErrMissingAuth creates a 401 for an absent or non-Bearer Authorization header.
func ErrMissingAuth() *CodedError {
	return &CodedError{Kind: KindMissingAuth, Status: http.StatusUnauthorized, Message: MsgMissingAuth}
}

// ErrInvalidToken creates a 401 for a token the identity provider rejected.
func ErrInvalidToken(cause error) *CodedError {
	return &CodedError{Kind: KindInvalidToken, Status: http.StatusUnauthorized, Message: MsgInvalidToken, Err: cause}
}

// ErrIdentityProviderUnreachable creates a 502 for a failed user-info call.
func ErrIdentityProviderUnreachable(cause error) *CodedError {
	return &CodedError{Kind: KindIdentityProviderUnreachable, Status: http.StatusBadGateway, Message: MsgIdentityProviderFailed, Err: cause}
}

// ErrNotAuthorized creates a 403 for an identity without a backend credential.
func ErrNotAuthorized() *CodedError {
	return &CodedError{Kind: KindNotAuthorized, Status: http.StatusForbidden, Message: MsgNotAuthorized}
}

// ErrRateLimited creates a 429.
func ErrRateLimited() *CodedError {
	return &CodedError{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: MsgRateLimited}
}

// ErrUpstreamUnreachable creates a 502 for a failed forward to the backend.
func ErrUpstreamUnreachable(cause error) *CodedError {
	return &CodedError{Kind: KindUpstreamUnreachable, Status: http.StatusBadGateway, Message: MsgUpstreamUnreachable, Err: cause}
}

// ErrInternal creates a 500 Internal Server Error.
func ErrInternal(cause error) *CodedError {
	return &CodedError{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "Internal server error", Err: cause}
}

// AsCodedError extracts a CodedError from err. Errors that do not wrap one
// are reported as internal errors.
func AsCodedError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded
	}
	return ErrInternal(err)
}

// GetErrorCode extracts the HTTP status code from an error.
func GetErrorCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return AsCodedError(err).Status
}

// IsKind reports whether err wraps a CodedError of the given kind.
func IsKind(err error, kind Kind) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Kind == kind
}
