package authflow

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/oauthkit/authsession/internal/strutils"
)

// TestProvider is a local server which implements the provider side of
// the authorization code (with PKCE) flow: discovery, authorization,
// token and revocation endpoints. It makes writing tests for the session
// lifecycle much easier and is part of this package's public testing
// API.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks         *jose.JSONWebKeySet
	replySubject string

	mu                   sync.Mutex
	clientID             string
	allowedRedirectURIs  []string
	expectedAuthCode     string
	expectedCodeVerifier string
	expectedRefreshToken string
	replyAccessToken     string
	replyRefreshToken    string
	replyScope           string
	replyExpiresIn       int64
	omitScope            bool
	disableRevocation    bool
	revocationStatusCode int
	revokedTokens        []string
	lastTokenRequestForm url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates and starts a disposable TestProvider on a
// random port. The provider's https server is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:            t,
		replySubject: "alice@example.com",
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replyAccessToken: "test-access-token",
		replyScope:       "openid",
		replyExpiresIn:   3600,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver, which also serves as its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SetClientID configures the client id the provider expects.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs configures the allowed redirect URIs. If not
// configured a sample of "https://example.com" is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedAuthCode configures the auth code to return from /auth and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedCodeVerifier configures the PKCE code verifier the /token
// endpoint requires for the authorization_code grant.
func (p *TestProvider) SetExpectedCodeVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCodeVerifier = verifier
}

// SetExpectedRefreshToken configures the refresh token the /token
// endpoint accepts for the refresh_token grant.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetReplyAccessToken configures the access token returned by /token.
func (p *TestProvider) SetReplyAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = token
}

// SetReplyRefreshToken configures a refresh token to include in /token
// replies. When empty, replies carry no refresh token.
func (p *TestProvider) SetReplyRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyRefreshToken = token
}

// SetReplyExpiresIn configures the expires_in value (seconds) returned
// by /token.
func (p *TestProvider) SetReplyExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = seconds
}

// OmitScope forces an error state where /token replies carry no scope.
func (p *TestProvider) OmitScope() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitScope = true
}

// DisableRevocation omits the revocation endpoint from the discovery
// reply and makes /revoke return 404.
func (p *TestProvider) DisableRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRevocation = true
}

// SetRevocationStatusCode forces /revoke to return the given status
// code instead of 200.
func (p *TestProvider) SetRevocationStatusCode(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revocationStatusCode = code
}

// RevokedTokens returns the tokens /revoke has received, in order.
func (p *TestProvider) RevokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.revokedTokens))
	copy(cp, p.revokedTokens)
	return cp
}

// LastTokenRequestForm returns the form values of the most recent /token
// request, for asserting grant selection and verifier propagation.
func (p *TestProvider) LastTokenRequestForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequestForm
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	p.t.Helper()
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	p.t.Helper()
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	p.t.Helper()
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := ServiceConfiguration{
			Issuer:                p.Addr(),
			AuthorizationEndpoint: p.Addr() + "/auth",
			TokenEndpoint:         p.Addr() + "/token",
			RevocationEndpoint:    p.Addr() + "/revoke",
			JWKSURI:               p.Addr() + "/certs",
		}
		if p.disableRevocation {
			reply.RevocationEndpoint = ""
		}
		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != "S256" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing PKCE challenge")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode) +
			"&scope=" + url.QueryEscape(p.replyScope)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := p.writeJSON(w, p.jwks); err != nil {
			return
		}

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unparsable form")
			return
		}
		p.lastTokenRequestForm = req.PostForm

		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			case p.expectedCodeVerifier != "" && req.FormValue("code_verifier") != p.expectedCodeVerifier:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "missing or unexpected code_verifier")
				return
			}
		case "refresh_token":
			if req.FormValue("refresh_token") != p.expectedRefreshToken || p.expectedRefreshToken == "" {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh_token")
				return
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(time.Now().Add(time.Duration(p.replyExpiresIn) * time.Second)),
			Audience:  jwt.Audience{p.clientID},
		}
		idToken := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, nil)

		reply := struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			Scope        string `json:"scope,omitempty"`
		}{
			AccessToken:  p.replyAccessToken,
			RefreshToken: p.replyRefreshToken,
			IDToken:      idToken,
			TokenType:    "Bearer",
			ExpiresIn:    p.replyExpiresIn,
			Scope:        p.replyScope,
		}
		if p.omitScope {
			reply.Scope = ""
		}
		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case "/revoke":
		if p.disableRevocation {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if p.revocationStatusCode != 0 {
			w.WriteHeader(p.revocationStatusCode)
			return
		}
		token := req.FormValue("token")
		if token == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.revokedTokens = append(p.revokedTokens, token)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
