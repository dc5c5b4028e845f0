package authflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// TokenExchange turns an authorization code (PKCE) or a refresh token
// into a new TokenRecord via the provider's token endpoint, and issues
// revocation requests against its revocation endpoint.
type TokenExchange struct {
	clientConfig *Config
	logger       hclog.Logger
	nowFunc      func() time.Time
}

// NewTokenExchange creates a TokenExchange for the given client config.
//
// Supported options: WithLogger, WithNow
func NewTokenExchange(c *Config, opt ...Option) (*TokenExchange, error) {
	const op = "authflow.NewTokenExchange"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	opts := getExchangeOpts(opt...)
	return &TokenExchange{
		clientConfig: c,
		logger:       opts.withLogger,
		nowFunc:      opts.withNowFunc,
	}, nil
}

// ExchangeCode exchanges an authorization code for a TokenRecord using
// grant_type=authorization_code. The verifier must be the PKCE code
// verifier carried by the authorization request that produced the code;
// omitting it fails the exchange at the provider.
func (e *TokenExchange) ExchangeCode(ctx context.Context, sc *ServiceConfiguration, code, verifier string) (*TokenRecord, error) {
	const op = "TokenExchange.ExchangeCode"
	if sc == nil {
		return nil, fmt.Errorf("%s: service configuration is nil: %w", op, ErrNilParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx, err := e.clientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := e.oauth2Config(sc)
	opts := []oauth2.AuthCodeOption{}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := oauth2Config.Exchange(oidcCtx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %v", op, ErrExchangeFailed, err)
	}
	return e.newTokenRecord(tok), nil
}

// ExchangeRefreshToken exchanges a refresh token for a TokenRecord using
// grant_type=refresh_token. When the provider's response omits a new
// refresh token the prior one is retained in the returned record.
func (e *TokenExchange) ExchangeRefreshToken(ctx context.Context, sc *ServiceConfiguration, refreshToken string) (*TokenRecord, error) {
	const op = "TokenExchange.ExchangeRefreshToken"
	if sc == nil {
		return nil, fmt.Errorf("%s: service configuration is nil: %w", op, ErrNilParameter)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	oidcCtx, err := e.clientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := e.oauth2Config(sc)
	tok, err := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange refresh token with provider: %w: %v", op, ErrExchangeFailed, err)
	}
	return e.newTokenRecord(tok), nil
}

// Revoke invalidates the access token at the provider's revocation
// endpoint (RFC 7009).
func (e *TokenExchange) Revoke(ctx context.Context, sc *ServiceConfiguration, accessToken string) error {
	const op = "TokenExchange.Revoke"
	if sc == nil {
		return fmt.Errorf("%s: service configuration is nil: %w", op, ErrNilParameter)
	}
	if sc.RevocationEndpoint == "" {
		return fmt.Errorf("%s: %w", op, ErrNoRevocationEndpoint)
	}
	if accessToken == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	client, err := e.clientConfig.HTTPClient()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form := url.Values{}
	form.Set("token", accessToken)
	form.Set("token_type_hint", "access_token")
	form.Set("client_id", e.clientConfig.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: unable to create revocation request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: revocation request failed: %w: %v", op, ErrRevocationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: revocation endpoint returned %d (%s): %w",
			op, resp.StatusCode, strings.TrimSpace(string(body)), ErrRevocationFailed)
	}
	e.logger.Debug("revoked access token at provider")
	return nil
}

func (e *TokenExchange) oauth2Config(sc *ServiceConfiguration) oauth2.Config {
	return oauth2.Config{
		ClientID:    e.clientConfig.ClientID,
		RedirectURL: e.clientConfig.RedirectURL,
		Endpoint:    sc.Endpoint(),
		Scopes:      e.clientConfig.RequestScopes(),
	}
}

// clientContext carries the configured http client under the context key
// both go-oidc and x/oauth2 honor.
func (e *TokenExchange) clientContext(ctx context.Context) (context.Context, error) {
	client, err := e.clientConfig.HTTPClient()
	if err != nil {
		return nil, err
	}
	return oidc.ClientContext(ctx, client), nil
}

// newTokenRecord builds a TokenRecord from a token endpoint response.
// IssuedAt is the wall-clock time the response was received; ExpiresIn,
// scope and token type are taken verbatim from the response.
func (e *TokenExchange) newTokenRecord(tok *oauth2.Token) *TokenRecord {
	scope, _ := tok.Extra("scope").(string)
	return &TokenRecord{
		TokenType:    tok.Type(),
		Scope:        scope,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     e.nowFunc().Unix(),
		ExpiresIn:    tok.ExpiresIn,
	}
}

// exchangeOptions is the set of available options for TokenExchange
// functions
type exchangeOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

// exchangeDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func exchangeDefaults() exchangeOptions {
	return exchangeOptions{
		withLogger:  hclog.NewNullLogger(),
		withNowFunc: time.Now,
	}
}

// getExchangeOpts gets the exchange defaults and applies the opt
// overrides passed in.
func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
