package authflow

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// DefaultRequestKey is the storage key holding the serialized pending
// authorization request between the outbound redirect and the provider's
// response.
const DefaultRequestKey = "auth_request"

// AuthRequest captures one outbound authorization request: the opaque
// state used to correlate the provider's response, the PKCE code verifier
// that must accompany the eventual code exchange, and the parameters the
// request was built with.
//
// The request is serialized into Storage when the flow starts, because
// the redirect tears down the execution context that created it; the
// verifier would otherwise be lost before the code exchange needs it.
type AuthRequest struct {
	// State is a unique identifier and an opaque value used to maintain
	// state between the authorization request and the provider's response.
	State string `json:"state"`

	// Verifier is the PKCE code verifier. Its S256 challenge is sent with
	// the authorization request; the verifier itself is sent with the code
	// exchange.
	Verifier string `json:"codeVerifier"`

	// RedirectURL is the redirect URI the request was built with.
	RedirectURL string `json:"redirectUri"`

	// Scopes are the scopes the request asked for.
	Scopes []string `json:"scopes"`

	// Extras are additional authorization request parameters, e.g.
	// prompt=consent and access_type=offline.
	Extras map[string]string `json:"extras,omitempty"`
}

// NewAuthRequest creates an AuthRequest for the given client config with
// a fresh state and PKCE verifier. The extras force a consent prompt and
// offline access so a refresh token is issued even on repeat consent.
//
// Supported options: WithUILocales
func NewAuthRequest(c *Config, opt ...Option) (*AuthRequest, error) {
	const op = "authflow.NewAuthRequest"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	opts := getReqOpts(opt...)
	state, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate request state: %w", op, err)
	}
	extras := map[string]string{
		"prompt":      "consent",
		"access_type": "offline",
	}
	if len(opts.withUILocales) > 0 {
		extras["ui_locales"] = languageTagsToString(opts.withUILocales)
	}
	return &AuthRequest{
		State:       state,
		Verifier:    oauth2.GenerateVerifier(),
		RedirectURL: c.RedirectURL,
		Scopes:      c.RequestScopes(),
		Extras:      extras,
	}, nil
}

func languageTagsToString(tags []language.Tag) string {
	var s string
	for i, l := range tags {
		if i > 0 {
			s += " "
		}
		s += l.String()
	}
	return s
}

func marshalAuthRequest(r *AuthRequest) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalAuthRequest(raw []byte) (*AuthRequest, error) {
	const op = "authflow.unmarshalAuthRequest"
	var r AuthRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%s: unable to decode pending request: %w", op, err)
	}
	if r.State == "" {
		return nil, fmt.Errorf("%s: pending request has no state: %w", op, ErrInvalidParameter)
	}
	return &r, nil
}

// AuthResponse is the provider's authorization response, parsed from the
// redirect back into the application.
type AuthResponse struct {
	// Code is the authorization code, present on success.
	Code string

	// State echoes the request's state.
	State string

	// Scope is the granted scope list as returned by the provider.
	Scope string

	// Error and ErrorDescription carry the provider's error response, if
	// the user denied the request or the provider rejected it.
	Error            string
	ErrorDescription string
}

// Completion pairs an authorization response with the request that
// produced it. It is delivered at most once per completed authorization.
type Completion struct {
	Request  *AuthRequest
	Response *AuthResponse
}

// reqOptions is the set of available options for AuthRequest functions
type reqOptions struct {
	withUILocales []language.Tag
}

// reqDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides
// passed in.
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
