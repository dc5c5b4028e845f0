package authflow

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/oauthkit/authsession/internal/strutils"
)

// Navigator abstracts full-page navigation. Assign replaces the current
// location with the given URL; in a browser this tears down the current
// execution context, so implementations treat the first assignment as
// final and ignore later ones.
type Navigator interface {
	Assign(url string)
}

// CompletionListener is notified when a pending authorization completes
// successfully. It is invoked at most once per completed authorization;
// the pending request is consumed before the listener runs, so a second
// completion for the same request is impossible.
type CompletionListener func(*Completion)

// AuthorizationFlow builds and dispatches the authorization request, and
// later completes it by parsing the provider's redirect response. The
// outbound request is persisted in Storage across the redirect so the
// PKCE verifier survives until the code exchange needs it.
type AuthorizationFlow struct {
	clientConfig *Config
	storage      Storage
	requestKey   string
	logger       hclog.Logger

	mu       sync.Mutex
	listener CompletionListener
}

// NewAuthorizationFlow creates an AuthorizationFlow over the given
// Storage.
//
// Supported options: WithLogger
func NewAuthorizationFlow(c *Config, storage Storage, opt ...Option) (*AuthorizationFlow, error) {
	const op = "authflow.NewAuthorizationFlow"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if storage == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getFlowOpts(opt...)
	return &AuthorizationFlow{
		clientConfig: c,
		storage:      storage,
		requestKey:   DefaultRequestKey,
		logger:       opts.withLogger,
	}, nil
}

// SetListener registers the completion listener. The orchestrator must
// register its listener before CompleteIfPresent can deliver anything
// meaningful.
func (f *AuthorizationFlow) SetListener(l CompletionListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

// AuthURL builds the authorization URL for the request: response_type
// code, an S256 PKCE challenge derived from the request's verifier, and
// the request's extra parameters.
func (f *AuthorizationFlow) AuthURL(sc *ServiceConfiguration, req *AuthRequest) (string, error) {
	const op = "AuthorizationFlow.AuthURL"
	if sc == nil {
		return "", fmt.Errorf("%s: service configuration is nil: %w", op, ErrNilParameter)
	}
	if req == nil {
		return "", fmt.Errorf("%s: auth request is nil: %w", op, ErrNilParameter)
	}
	oauth2Config := oauth2.Config{
		ClientID:    f.clientConfig.ClientID,
		RedirectURL: req.RedirectURL,
		Endpoint:    sc.Endpoint(),
		Scopes:      req.Scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(req.Verifier),
	}
	// stable ordering keeps the URL deterministic for a given request
	keys := make([]string, 0, len(req.Extras))
	for k := range req.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, req.Extras[k]))
	}
	return oauth2Config.AuthCodeURL(req.State, authCodeOpts...), nil
}

// Start persists the request and performs a full navigation to the
// provider's authorization endpoint. Control leaves the page: nothing
// after a successful Start runs in the current context, work resumes
// only when the provider redirects back.
func (f *AuthorizationFlow) Start(ctx context.Context, sc *ServiceConfiguration, req *AuthRequest, nav Navigator) error {
	const op = "AuthorizationFlow.Start"
	if nav == nil {
		return fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}
	u, err := f.AuthURL(sc, req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	raw, err := marshalAuthRequest(req)
	if err != nil {
		return fmt.Errorf("%s: unable to serialize auth request: %w", op, err)
	}
	if err := f.storage.SetItem(f.requestKey, raw); err != nil {
		return fmt.Errorf("%s: unable to persist auth request: %w", op, err)
	}
	f.logger.Debug("dispatching authorization request", "state", req.State)
	nav.Assign(u)
	return nil
}

// CompleteIfPresent inspects the current location and Storage for a
// pending authorization left by Start. When the location's fragment
// carries the provider's response and a matching request is pending, it
// consumes the pending request, notifies the registered listener and
// returns the completion. It returns (nil, nil) when no authorization is
// pending or the location carries no response.
//
// The pending request is deleted before the result is delivered, so a
// completion is produced exactly once per authorization.
func (f *AuthorizationFlow) CompleteIfPresent(ctx context.Context, loc *url.URL) (*Completion, error) {
	const op = "AuthorizationFlow.CompleteIfPresent"
	if loc == nil {
		return nil, fmt.Errorf("%s: location is nil: %w", op, ErrNilParameter)
	}
	if loc.Fragment == "" {
		return nil, nil
	}
	raw, err := f.storage.GetItem(f.requestKey)
	if err != nil {
		// nothing pending: the response is stale or not ours
		return nil, nil
	}
	req, err := unmarshalAuthRequest(raw)
	if err != nil {
		_ = f.storage.RemoveItem(f.requestKey)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	vals, err := url.ParseQuery(loc.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse response fragment: %w", op, err)
	}
	resp := &AuthResponse{
		Code:             vals.Get("code"),
		State:            vals.Get("state"),
		Scope:            vals.Get("scope"),
		Error:            vals.Get("error"),
		ErrorDescription: vals.Get("error_description"),
	}
	if resp.State != req.State {
		_ = f.storage.RemoveItem(f.requestKey)
		return nil, fmt.Errorf("%s: request state %q and response state %q are not equal: %w",
			op, req.State, resp.State, ErrResponseStateMismatch)
	}
	if err := f.storage.RemoveItem(f.requestKey); err != nil {
		return nil, fmt.Errorf("%s: unable to consume pending request: %w", op, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s (%s): %w", op, resp.Error, resp.ErrorDescription, ErrProviderError)
	}
	completion := &Completion{Request: req, Response: resp}
	f.mu.Lock()
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(completion)
	}
	f.logger.Debug("completed pending authorization", "state", resp.State)
	return completion, nil
}

// fragmentHasAuthResponse reports whether the location's fragment looks
// like a provider authorization response for this flow, i.e. its granted
// scope list includes "openid".
func fragmentHasAuthResponse(loc *url.URL) bool {
	if loc == nil || loc.Fragment == "" {
		return false
	}
	vals, err := url.ParseQuery(loc.Fragment)
	if err != nil {
		return false
	}
	return strutils.StrListContains(strings.Fields(vals.Get("scope")), "openid")
}

// flowOptions is the set of available options for AuthorizationFlow
// functions
type flowOptions struct {
	withLogger hclog.Logger
}

// flowDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func flowDefaults() flowOptions {
	return flowOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getFlowOpts gets the flow defaults and applies the opt overrides passed
// in.
func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
