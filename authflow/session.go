package authflow

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// pendingAuthorization is the transient in-memory state captured when an
// authorization response arrives: the original request (whose verifier
// the first code exchange needs), the response, and the authorization
// code. It is intentionally not persisted so that a reload after token
// expiry always requires a fresh interactive sign-in rather than
// silently replaying a stale code.
type pendingAuthorization struct {
	request  *AuthRequest
	response *AuthResponse
	code     string
}

// Session coordinates the whole sign-in lifecycle for one client: it
// owns the TokenStore, ConfigCache, AuthorizationFlow and TokenExchange
// and exposes the operations the UI and routing layers call. Create one
// Session per page-load equivalent and pass it by reference to whatever
// needs it.
//
// Session methods that the UI contract exposes (SignIn, SignOut,
// RefreshToken) swallow provider and network failures: those are logged
// and the method returns nil, so an unauthorized or failed-refresh user
// simply observes IsAuthorizedUser() == false. Errors are returned only
// for programmer misuse (nil parameters, invalid config).
type Session struct {
	clientConfig *Config
	cache        *ConfigCache
	store        *TokenStore
	flow         *AuthorizationFlow
	exchange     *TokenExchange
	logger       hclog.Logger

	optimisticSignOut bool

	// mu guards pending and serializes token exchanges, so two
	// overlapping calls cannot double-spend the authorization code.
	mu      sync.Mutex
	pending *pendingAuthorization
}

// NewSession creates a Session over the given Storage and wires the
// authorization flow's completion listener so an arriving authorization
// response is captured into session state.
//
// Supported options: WithLogger, WithOptimisticSignOut
func NewSession(c *Config, storage Storage, opt ...Option) (*Session, error) {
	const op = "authflow.NewSession"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if storage == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getSessionOpts(opt...)
	logger := opts.withLogger

	store, err := NewTokenStore(storage, WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cache, err := NewConfigCache(c, WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	flow, err := NewAuthorizationFlow(c, storage, WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exchange, err := NewTokenExchange(c, WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &Session{
		clientConfig:      c,
		cache:             cache,
		store:             store,
		flow:              flow,
		exchange:          exchange,
		logger:            logger,
		optimisticSignOut: opts.withOptimisticSignOut,
	}
	// register before any completion can happen, so delivery is never
	// missed
	flow.SetListener(func(cmp *Completion) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending = &pendingAuthorization{
			request:  cmp.Request,
			response: cmp.Response,
			code:     cmp.Response.Code,
		}
	})
	return s, nil
}

// IsAuthorizedUser reports whether an in-memory authorization code is
// held or the store holds a valid, unexpired token. It is a liveness
// check, not a guarantee that subsequent operations will succeed: the
// code may already be consumed.
func (s *Session) IsAuthorizedUser() bool {
	s.mu.Lock()
	code := s.pendingCode()
	s.mu.Unlock()
	return code != "" || s.store.Get() != nil
}

// GetToken returns the persisted token record, or nil when the store
// holds none (absent, malformed or expired).
func (s *Session) GetToken() *TokenRecord {
	return s.store.Get()
}

// SignIn fetches the provider's service configuration and dispatches an
// interactive authorization request through the navigator. On success
// control leaves the page; nothing meaningful runs after it in the
// current context.
//
// Supported options: WithUILocales (applied to the authorization
// request)
func (s *Session) SignIn(ctx context.Context, nav Navigator, opt ...Option) error {
	const op = "Session.SignIn"
	if nav == nil {
		return fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}
	sc, err := s.cache.Fetch(ctx)
	if err != nil {
		s.logger.Error("problem fetching service configuration", "op", op, "error", err)
		return nil
	}
	req, err := NewAuthRequest(s.clientConfig, opt...)
	if err != nil {
		s.logger.Error("unable to create authorization request", "op", op, "error", err)
		return nil
	}
	if err := s.flow.Start(ctx, sc, req, nav); err != nil {
		s.logger.Error("unable to dispatch authorization request", "op", op, "error", err)
		return nil
	}
	return nil
}

// SignOut revokes the current access token at the provider. It requires
// a previously fetched service configuration and does not auto-fetch
// one. On successful revocation the in-memory authorization state and
// the persisted token are cleared. On failure the local state is left
// unchanged so a retry remains possible, unless the session was created
// with WithOptimisticSignOut.
func (s *Session) SignOut(ctx context.Context) error {
	const op = "Session.SignOut"
	sc := s.cache.Current()
	if sc == nil {
		s.logger.Error("please fetch the service configuration before signing out", "op", op)
		return nil
	}
	token := s.store.Get()
	if token == nil {
		s.logger.Debug("no token to revoke", "op", op)
		return nil
	}
	if err := s.exchange.Revoke(ctx, sc, token.AccessToken); err != nil {
		s.logger.Error("issue revoking token", "op", op, "error", err)
		if !s.optimisticSignOut {
			return nil
		}
	}
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		s.logger.Error("unable to clear persisted token", "op", op, "error", err)
	}
	return nil
}

// RefreshToken fetches the provider's service configuration and then
// performs a token request: the refresh-token grant when a valid refresh
// token is held, otherwise the pending authorization code. The result is
// persisted on success; failures are logged, not raised.
func (s *Session) RefreshToken(ctx context.Context) error {
	const op = "Session.RefreshToken"
	sc, err := s.cache.Fetch(ctx)
	if err != nil {
		s.logger.Error("problem fetching service configuration", "op", op, "error", err)
		return nil
	}
	s.makeTokenRequest(ctx, sc)
	return nil
}

// makeTokenRequest selects and performs the token exchange. The refresh
// grant is preferred whenever the stored token carries one, even if an
// authorization code is also present; otherwise the pending code (with
// its request's PKCE verifier) is spent. With neither, exchange is
// impossible and the caller must initiate a fresh interactive sign-in.
func (s *Session) makeTokenRequest(ctx context.Context, sc *ServiceConfiguration) {
	const op = "Session.makeTokenRequest"
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.store.Get()

	var record *TokenRecord
	var err error
	switch {
	case token.HasRefreshToken():
		record, err = s.exchange.ExchangeRefreshToken(ctx, sc, token.RefreshToken)
	case s.pendingCode() != "":
		record, err = s.exchange.ExchangeCode(ctx, sc, s.pendingCode(), s.pendingVerifier())
	default:
		s.logger.Error("token request requires an authorization code or refresh token", "op", op)
		return
	}
	if err != nil {
		s.logger.Error("failed to perform token request", "op", op, "error", err)
		return
	}
	if err := s.store.Set(record); err != nil {
		s.logger.Error("unable to persist token record", "op", op, "error", err)
	}
}

// CheckForAuthorizationResponse completes a pending authorization if the
// location carries a provider response. The completion listener
// registered at construction captures the request, response and code
// into session state as a side effect.
func (s *Session) CheckForAuthorizationResponse(ctx context.Context, loc *url.URL) error {
	const op = "Session.CheckForAuthorizationResponse"
	if _, err := s.flow.CompleteIfPresent(ctx, loc); err != nil {
		s.logger.Error("problem completing authorization response", "op", op, "error", err)
	}
	return nil
}

// EnsureAuthenticated is the application-mount check: outside the
// redirect path, an unauthorized user is routed into interactive
// sign-in, while an authorized user with refresh capability gets a
// background refresh. An authorized user whose token cannot be
// refreshed is left alone until natural expiry.
func (s *Session) EnsureAuthenticated(ctx context.Context, nav Navigator) error {
	const op = "Session.EnsureAuthenticated"
	if nav == nil {
		return fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}
	if !s.IsAuthorizedUser() {
		s.logger.Error("unauthorized user, requesting sign in", "op", op)
		return s.SignIn(ctx, nav)
	}
	token := s.GetToken()
	switch {
	case token.HasRefreshToken():
		return s.RefreshToken(ctx)
	case token != nil:
		s.logger.Info("token does not have refresh privileges; sign in again to extend past its expiry",
			"op", op, "expiresIn", token.ExpiresIn)
	}
	return nil
}

// pendingCode returns the held authorization code. Callers must hold
// s.mu.
func (s *Session) pendingCode() string {
	if s.pending == nil {
		return ""
	}
	return s.pending.code
}

// pendingVerifier returns the PKCE verifier carried by the pending
// authorization's original request. Callers must hold s.mu.
func (s *Session) pendingVerifier() string {
	if s.pending == nil || s.pending.request == nil {
		return ""
	}
	return s.pending.request.Verifier
}

// sessionOptions is the set of available options for Session functions
type sessionOptions struct {
	withLogger            hclog.Logger
	withOptimisticSignOut bool
}

// sessionDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func sessionDefaults() sessionOptions {
	return sessionOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getSessionOpts gets the session defaults and applies the opt overrides
// passed in.
func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOptimisticSignOut makes SignOut clear the local authorization
// state and persisted token even when the provider-side revocation
// fails. The default keeps local state so the revocation can be retried.
func WithOptimisticSignOut() Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withOptimisticSignOut = true
		}
	}
}
