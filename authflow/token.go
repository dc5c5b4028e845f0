package authflow

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// RedactedToken is the redacted string used in place of token material
// whenever a TokenRecord is printed or logged.
const RedactedToken = "[REDACTED]"

// TokenRecord is the result of a successful token exchange. It is the
// single record persisted by a TokenStore and is overwritten wholesale on
// every successful exchange.
//
// IssuedAt is the wall-clock time (epoch seconds) at which the exchange
// response was received, not a provider-asserted claim. ExpiresIn is
// taken verbatim from the provider response, in seconds.
type TokenRecord struct {
	TokenType    string `json:"tokenType"`
	Scope        string `json:"scope"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IssuedAt     int64  `json:"issuedAt"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// HasRefreshToken reports whether the record carries refresh capability.
func (r *TokenRecord) HasRefreshToken() bool {
	return r != nil && r.RefreshToken != ""
}

// Expired reports whether the record's lifetime has elapsed. The check
// uses wall-clock time at call time with no skew tolerance.
//
// Supported options: WithNow
func (r *TokenRecord) Expired(opt ...Option) bool {
	if r == nil {
		return true
	}
	opts := getTokenOpts(opt...)
	return r.IssuedAt+r.ExpiresIn <= opts.withNowFunc().Unix()
}

// Validate checks the record's required fields and its expiry. Every
// defect found is reported, so a single diagnostic can name all of them.
//
// Supported options: WithNow
func (r *TokenRecord) Validate(opt ...Option) error {
	const op = "TokenRecord.Validate"
	if r == nil {
		return fmt.Errorf("%s: missing token record: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if r.TokenType == "" {
		result = multierror.Append(result, fmt.Errorf("%s: missing token type: %w", op, ErrMalformedToken))
	}
	if r.Scope == "" {
		result = multierror.Append(result, fmt.Errorf("%s: missing scope: %w", op, ErrMalformedToken))
	}
	if r.AccessToken == "" {
		result = multierror.Append(result, fmt.Errorf("%s: missing access token: %w", op, ErrMalformedToken))
	}
	if r.IssuedAt <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: missing or non-numeric issuedAt: %w", op, ErrMalformedToken))
	}
	if r.ExpiresIn <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: missing or non-numeric expiresIn: %w", op, ErrMalformedToken))
	}
	if result.ErrorOrNil() != nil {
		return result.ErrorOrNil()
	}
	if r.Expired(opt...) {
		return fmt.Errorf("%s: %w", op, ErrExpiredToken)
	}
	return nil
}

// String redacts the token material.
func (r *TokenRecord) String() string {
	if r == nil {
		return ""
	}
	refresh := ""
	if r.RefreshToken != "" {
		refresh = RedactedToken
	}
	return fmt.Sprintf("TokenRecord{TokenType: %q, Scope: %q, AccessToken: %q, RefreshToken: %q, IssuedAt: %d, ExpiresIn: %d}",
		r.TokenType, r.Scope, RedactedToken, refresh, r.IssuedAt, r.ExpiresIn)
}

// tokenOptions is the set of available options for TokenRecord functions
type tokenOptions struct {
	withNowFunc func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withNowFunc: time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides
// passed in.
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
