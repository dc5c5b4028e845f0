package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/oauthkit/authsession/internal/httpclient"
	"github.com/oauthkit/authsession/internal/strutils"
)

// Config represents the static client configuration for an authorization
// code (with PKCE) flow against a single provider. This is a public
// client: there is no client secret.
type Config struct {
	// Issuer is a case-sensitive URL using the https scheme that contains
	// scheme, host, and optionally, port number and path components and no
	// query or fragment components. The provider's service configuration
	// is discovered from it.
	Issuer string

	// ClientID is the relying party id issued by the provider.
	ClientID string

	// RedirectURL is the fixed redirect URI registered with the provider.
	RedirectURL string

	// Scopes is a list of additional scopes to request of the provider.
	// The required "openid" scope is requested by default and need not be
	// part of this optional list.
	Scopes []string

	// ProviderCA is an optional CA cert to use when sending requests to
	// the provider.
	ProviderCA string
}

// NewConfig composes a new client config for a provider.
func NewConfig(issuer, clientID, redirectURL string, opt ...Option) (*Config, error) {
	const op = "authflow.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:      issuer,
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Scopes:      opts.withScopes,
		ProviderCA:  opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid client config: %w", op, err)
	}
	return c, nil
}

// Validate the client configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the issuer is
// discoverable via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	return nil
}

// RequestScopes returns the scopes to request of the provider: the
// required "openid" scope, plus any configured extras, deduplicated.
func (c *Config) RequestScopes() []string {
	return strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, c.Scopes...))
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := httpclient.New(c.ProviderCA)
	if err != nil {
		if err == httpclient.ErrInvalidCertificatePem {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// ServiceConfiguration is the provider's service configuration, as
// published in its discovery document.
type ServiceConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// Endpoint returns the oauth2 endpoint for the configuration.
func (s *ServiceConfiguration) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  s.AuthorizationEndpoint,
		TokenURL: s.TokenEndpoint,
	}
}

// ConfigCache fetches and caches the provider's ServiceConfiguration.
// The cache lives in memory only, for the lifetime of the session; there
// is no explicit invalidation, callers simply re-fetch before operations
// that need a fresh view.
type ConfigCache struct {
	clientConfig *Config
	logger       hclog.Logger

	mu      sync.Mutex
	current *ServiceConfiguration
}

// NewConfigCache creates a ConfigCache for the given client config. A
// fresh cache starts with no configuration; Fetch must succeed at least
// once before Current returns anything.
//
// Supported options: WithLogger
func NewConfigCache(c *Config, opt ...Option) (*ConfigCache, error) {
	const op = "authflow.NewConfigCache"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getConfigCacheOpts(opt...)
	return &ConfigCache{
		clientConfig: c,
		logger:       opts.withLogger,
	}, nil
}

// Fetch performs a discovery request against the issuer. On success the
// configuration is stored for reuse within the session. On failure the
// error is returned and any previously cached configuration is left
// untouched, so a transient fetch failure does not wipe a working
// configuration.
func (c *ConfigCache) Fetch(ctx context.Context) (*ServiceConfiguration, error) {
	const op = "ConfigCache.Fetch"
	client, err := c.clientConfig.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// oidc.ClientContext sets the same context key x/oauth2 reads, so the
	// configured client serves both packages
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), c.clientConfig.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch discovery document: %w: %v", op, ErrConfigurationFetch, err)
	}
	var sc ServiceConfiguration
	if err := provider.Claims(&sc); err != nil {
		return nil, fmt.Errorf("%s: unable to decode discovery document: %w: %v", op, ErrConfigurationFetch, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &sc
	c.logger.Debug("fetched service configuration", "issuer", sc.Issuer,
		"authorization_endpoint", sc.AuthorizationEndpoint,
		"token_endpoint", sc.TokenEndpoint,
		"revocation_endpoint", sc.RevocationEndpoint)
	cp := sc
	return &cp, nil
}

// Current returns the cached configuration, or nil when none has been
// fetched yet.
func (c *ConfigCache) Current() *ServiceConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withScopes     []string
	withProviderCA string
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the config defaults and applies the opt overrides
// passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the client's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert for the client's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// configCacheOptions is the set of available options for ConfigCache
// functions
type configCacheOptions struct {
	withLogger hclog.Logger
}

// configCacheDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configCacheDefaults() configCacheOptions {
	return configCacheOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getConfigCacheOpts gets the cache defaults and applies the opt
// overrides passed in.
func getConfigCacheOpts(opt ...Option) configCacheOptions {
	opts := configCacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
