package authflow

import (
	"context"
	"fmt"
	"net/url"
)

// Disposition classifies the URL the browser landed on when the provider
// redirected back to the application. It is computed once per entry and
// dispatched on, rather than re-deriving the shape of the URL at each
// step.
type Disposition int

const (
	// NeedsNormalization: the response came back as a query string, which
	// is not a usable format for this flow's capture mechanism. The URL is
	// rewritten into a fragment-based one and navigated to again. Some
	// providers return parameters as a query string while the capture
	// mechanism expects a fragment.
	NeedsNormalization Disposition = iota

	// HasAuthorizationResponse: the fragment carries a genuine
	// authorization response (its granted scopes include "openid").
	HasAuthorizationResponse

	// NoResponsePresent: no query string and no response fragment, e.g.
	// direct navigation to the redirect path.
	NoResponsePresent
)

// String satisfies the Stringer interface.
func (d Disposition) String() string {
	switch d {
	case NeedsNormalization:
		return "needs-normalization"
	case HasAuthorizationResponse:
		return "has-authorization-response"
	case NoResponsePresent:
		return "no-response-present"
	default:
		return "unknown"
	}
}

// ClassifyRedirect computes the Disposition for the given location.
func ClassifyRedirect(loc *url.URL) Disposition {
	switch {
	case loc != nil && loc.RawQuery != "":
		return NeedsNormalization
	case fragmentHasAuthResponse(loc):
		return HasAuthorizationResponse
	default:
		return NoResponsePresent
	}
}

// RedirectHandler is the route handler for the application's designated
// redirect path: the place the identity provider sends the browser back
// to. It normalizes query-string responses into fragment-based ones,
// completes a pending authorization when one is present, performs the
// refresh-or-sign-in step and navigates back to the application's home
// location.
type RedirectHandler struct {
	// Session is the process-wide auth session.
	Session *Session

	// RedirectPath is the designated redirect route, e.g. "/token".
	RedirectPath string

	// HomePath is the application's home location navigated to once the
	// entry has been handled, e.g. "/".
	HomePath string

	// ForceSignIn triggers interactive sign-in when the user is not
	// authorized at the refresh-or-sign-in step. When false the entry
	// resolves without sign-in and the user stays anonymous.
	ForceSignIn bool
}

// NewRedirectHandler creates a RedirectHandler with ForceSignIn enabled.
func NewRedirectHandler(s *Session, redirectPath, homePath string) (*RedirectHandler, error) {
	const op = "authflow.NewRedirectHandler"
	if s == nil {
		return nil, fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if redirectPath == "" || homePath == "" {
		return nil, fmt.Errorf("%s: redirect path or home path is empty: %w", op, ErrInvalidParameter)
	}
	return &RedirectHandler{
		Session:      s,
		RedirectPath: redirectPath,
		HomePath:     homePath,
		ForceSignIn:  true,
	}, nil
}

// Handle processes one entry to the redirect path. It is evaluated once
// per mount of the route.
func (h *RedirectHandler) Handle(ctx context.Context, loc *url.URL, nav Navigator) error {
	const op = "RedirectHandler.Handle"
	if loc == nil {
		return fmt.Errorf("%s: location is nil: %w", op, ErrNilParameter)
	}
	if nav == nil {
		return fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}

	switch ClassifyRedirect(loc) {
	case NeedsNormalization:
		nav.Assign(h.RedirectPath + "#" + loc.RawQuery)
		return nil
	case HasAuthorizationResponse:
		if err := h.Session.CheckForAuthorizationResponse(ctx, loc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := h.refreshOrSignIn(ctx, nav); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	case NoResponsePresent:
		if err := h.refreshOrSignIn(ctx, nav); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	// a no-op if sign-in already navigated away
	nav.Assign(h.HomePath)
	return nil
}

// refreshOrSignIn refreshes the token for an authorized user, or
// triggers interactive sign-in for an anonymous one when ForceSignIn is
// set.
func (h *RedirectHandler) refreshOrSignIn(ctx context.Context, nav Navigator) error {
	if h.Session.IsAuthorizedUser() {
		return h.Session.RefreshToken(ctx)
	}
	if h.ForceSignIn {
		return h.Session.SignIn(ctx, nav)
	}
	return nil
}
