package authflow

import (
	"errors"
)

var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrNilParameter           = errors.New("nil parameter")
	ErrInvalidCACert          = errors.New("invalid CA certificate")
	ErrInvalidIssuer          = errors.New("invalid issuer")
	ErrIDGeneratorFailed      = errors.New("id generation failed")
	ErrNotFound               = errors.New("not found")
	ErrConfigurationFetch     = errors.New("service configuration fetch failed")
	ErrResponseStateMismatch  = errors.New("authorization response state mismatch")
	ErrExchangeFailed         = errors.New("token exchange failed")
	ErrRevocationFailed       = errors.New("token revocation failed")
	ErrMalformedToken         = errors.New("malformed token record")
	ErrExpiredToken           = errors.New("token record is expired")
	ErrNoRevocationEndpoint   = errors.New("provider has no revocation endpoint")
	ErrProviderError          = errors.New("provider returned an error response")
)
