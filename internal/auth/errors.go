package auth

import (
	"errors"
	"fmt"
)

var (
	ErrProviderDenied      = errors.New("authorization denied by provider")
	ErrMissingVerifier     = errors.New("missing code verifier")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrRefreshFailed       = errors.New("token refresh failed")
)

// ProviderDeniedError carries the error parameters of a failed redirect.
type ProviderDeniedError struct {
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%v: %s - %s", ErrProviderDenied, e.Code, e.Description)
	}
	return fmt.Sprintf("%v: %s", ErrProviderDenied, e.Code)
}

func (e *ProviderDeniedError) Is(target error) bool {
	return target == ErrProviderDenied
}

// TokenError is a non-2xx answer from the token endpoint.
//
// Body is the raw response, which is usually the only way to tell a redirect URI
// mismatch from a reused code or clock skew.
type TokenError struct {
	Op         string // "exchange" or "refresh"
	StatusCode int
	ErrorCode  string
	Body       string
}

func (e *TokenError) sentinel() error {
	if e.Op == opRefresh {
		return ErrRefreshFailed
	}
	return ErrTokenExchangeFailed
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%v: %d %s", e.sentinel(), e.StatusCode, e.Body)
}

func (e *TokenError) Is(target error) bool {
	return target == e.sentinel()
}
