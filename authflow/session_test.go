package authflow

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T, opt ...Option) (*TestProvider, Storage, *Session) {
	t.Helper()
	require := require.New(t)

	tp := StartTestProvider(t)
	tp.SetClientID("client-id")

	c, err := NewConfig(tp.Addr(), "client-id", "https://example.com", WithProviderCA(tp.CACert()))
	require.NoError(err)
	storage := NewMemStorage()
	s, err := NewSession(c, storage, opt...)
	require.NoError(err)
	return tp, storage, s
}

// seedToken persists a token record the way a prior exchange would have.
func seedToken(t *testing.T, storage Storage, rec *TokenRecord) {
	t.Helper()
	store, err := NewTokenStore(storage)
	require.NoError(t, err)
	require.NoError(t, store.Set(rec))
}

// followAuthURL plays the provider leg of the redirect dance: it requests
// the authorization URL and re-presents the provider's redirect query as
// the fragment location the application would observe.
func followAuthURL(t *testing.T, s *Session, authURL string) *url.URL {
	t.Helper()
	require := require.New(t)

	client, err := s.clientConfig.HTTPClient()
	require.NoError(err)
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Empty(loc.Query().Get("error"), "provider rejected the authorization request")
	return &url.URL{Path: loc.Path, Fragment: loc.RawQuery}
}

func TestNewSession(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	c, err := NewConfig("https://accounts.example.com", "client-id", "http://localhost:8000/token")
	require.NoError(err)

	_, err = NewSession(nil, NewMemStorage())
	assert.ErrorIs(err, ErrNilParameter)
	_, err = NewSession(c, nil)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = NewSession(&Config{Issuer: "https://accounts.example.com"}, NewMemStorage())
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestSession_SignInLifecycle(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	tp, storage, s := testSession(t)
	tp.SetExpectedAuthCode("test-code")

	assert.False(s.IsAuthorizedUser())
	assert.Nil(s.GetToken())

	// sign in: control "leaves the page" via the navigator
	nav := &testNavigator{}
	require.NoError(s.SignIn(ctx, nav))
	require.NotEmpty(nav.url)
	assert.Contains(nav.url, tp.Addr()+"/auth")

	// the pending request survived the redirect; its verifier is what the
	// code exchange must present
	raw, err := storage.GetItem(DefaultRequestKey)
	require.NoError(err)
	pending, err := unmarshalAuthRequest(raw)
	require.NoError(err)
	tp.SetExpectedCodeVerifier(pending.Verifier)

	// the provider redirects back with the code in the fragment
	respLoc := followAuthURL(t, s, nav.url)
	require.NoError(s.CheckForAuthorizationResponse(ctx, respLoc))
	assert.True(s.IsAuthorizedUser(), "authorized via held code before any exchange")
	assert.Nil(s.GetToken(), "no token persisted until the code is spent")

	// spending the code persists a token
	require.NoError(s.RefreshToken(ctx))
	form := tp.LastTokenRequestForm()
	assert.Equal("authorization_code", form.Get("grant_type"))
	assert.Equal(pending.Verifier, form.Get("code_verifier"))

	tok := s.GetToken()
	require.NotNil(tok)
	assert.Equal("test-access-token", tok.AccessToken)
	assert.True(s.IsAuthorizedUser())
}

func TestSession_SignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-navigator", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, _, s := testSession(t)
		assert.ErrorIs(s.SignIn(ctx, nil), ErrNilParameter)
	})
	t.Run("discovery-failure-is-swallowed", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t)
		tp.Stop()

		nav := &testNavigator{}
		assert.NoError(s.SignIn(ctx, nav))
		assert.Empty(nav.url, "no navigation without a service configuration")
		_, err := storage.GetItem(DefaultRequestKey)
		assert.ErrorIs(err, ErrNotFound)
	})
}

func TestSession_RefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("prefers-refresh-grant-over-pending-code", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, storage, s := testSession(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedRefreshToken("test-refresh-token")
		tp.SetReplyAccessToken("fresh-access-token")

		// complete an authorization so a code is held...
		nav := &testNavigator{}
		require.NoError(s.SignIn(ctx, nav))
		require.NoError(s.CheckForAuthorizationResponse(ctx, followAuthURL(t, s, nav.url)))
		// ...while the store also holds refresh capability
		seedToken(t, storage, &TokenRecord{
			TokenType:    "Bearer",
			Scope:        "openid",
			AccessToken:  "stale-access-token",
			RefreshToken: "test-refresh-token",
			IssuedAt:     time.Now().Unix(),
			ExpiresIn:    3600,
		})

		require.NoError(s.RefreshToken(ctx))
		assert.Equal("refresh_token", tp.LastTokenRequestForm().Get("grant_type"))
		tok := s.GetToken()
		require.NotNil(tok)
		assert.Equal("fresh-access-token", tok.AccessToken)
	})
	t.Run("no-credentials", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, _, s := testSession(t)

		assert.NoError(s.RefreshToken(ctx))
		assert.Nil(s.GetToken())
		assert.Empty(tp.LastTokenRequestForm(), "no token request without a code or refresh token")
	})
	t.Run("exchange-failure-is-swallowed", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t)
		tp.SetExpectedRefreshToken("some-other-token")
		seedToken(t, storage, &TokenRecord{
			TokenType:    "Bearer",
			Scope:        "openid",
			AccessToken:  "stale-access-token",
			RefreshToken: "test-refresh-token",
			IssuedAt:     time.Now().Unix(),
			ExpiresIn:    3600,
		})

		assert.NoError(s.RefreshToken(ctx))
		// the rejected exchange leaves the stored token alone
		tok := s.GetToken()
		assert.NotNil(tok)
		assert.Equal("stale-access-token", tok.AccessToken)
	})
}

func TestSession_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	validToken := func() *TokenRecord {
		return &TokenRecord{
			TokenType:    "Bearer",
			Scope:        "openid",
			AccessToken:  "test-access-token",
			RefreshToken: "test-refresh-token",
			IssuedAt:     time.Now().Unix(),
			ExpiresIn:    3600,
		}
	}
	// fetchConfig primes the session's service configuration cache, which
	// SignOut requires but never fetches itself.
	fetchConfig := func(t *testing.T, s *Session) {
		t.Helper()
		_, err := s.cache.Fetch(context.Background())
		require.NoError(t, err)
	}

	t.Run("requires-fetched-configuration", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t)
		seedToken(t, storage, validToken())

		assert.NoError(s.SignOut(ctx))
		assert.Empty(tp.RevokedTokens())
		assert.NotNil(s.GetToken(), "token untouched without a configuration")
	})
	t.Run("success-clears-state", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t)
		seedToken(t, storage, validToken())
		fetchConfig(t, s)

		assert.True(s.IsAuthorizedUser())
		assert.NoError(s.SignOut(ctx))
		assert.Equal([]string{"test-access-token"}, tp.RevokedTokens())
		assert.Nil(s.GetToken())
		assert.False(s.IsAuthorizedUser())
	})
	t.Run("no-token", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, _, s := testSession(t)
		fetchConfig(t, s)

		assert.NoError(s.SignOut(ctx))
		assert.Empty(tp.RevokedTokens())
	})
	t.Run("revocation-failure-keeps-state", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t)
		seedToken(t, storage, validToken())
		fetchConfig(t, s)
		tp.SetRevocationStatusCode(http.StatusServiceUnavailable)

		assert.NoError(s.SignOut(ctx))
		assert.NotNil(s.GetToken(), "retry must remain possible")
		assert.True(s.IsAuthorizedUser())
	})
	t.Run("optimistic-sign-out-clears-anyway", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, storage, s := testSession(t, WithOptimisticSignOut())
		seedToken(t, storage, validToken())
		fetchConfig(t, s)
		tp.SetRevocationStatusCode(http.StatusServiceUnavailable)

		assert.NoError(s.SignOut(ctx))
		assert.Nil(s.GetToken())
		assert.False(s.IsAuthorizedUser())
	})
}

func TestSession_EnsureAuthenticated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unauthorized-requests-sign-in", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, _, s := testSession(t)
		tp.SetExpectedAuthCode("test-code")

		nav := &testNavigator{}
		require.NoError(s.EnsureAuthenticated(ctx, nav))
		assert.Contains(nav.url, tp.Addr()+"/auth")
	})
	t.Run("refreshes-when-possible", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, storage, s := testSession(t)
		tp.SetExpectedRefreshToken("test-refresh-token")
		tp.SetReplyAccessToken("fresh-access-token")
		seedToken(t, storage, &TokenRecord{
			TokenType:    "Bearer",
			Scope:        "openid",
			AccessToken:  "stale-access-token",
			RefreshToken: "test-refresh-token",
			IssuedAt:     time.Now().Unix(),
			ExpiresIn:    3600,
		})

		nav := &testNavigator{}
		require.NoError(s.EnsureAuthenticated(ctx, nav))
		assert.Empty(nav.url, "no navigation for an authorized user")
		assert.Equal("refresh_token", tp.LastTokenRequestForm().Get("grant_type"))
		assert.Equal("fresh-access-token", s.GetToken().AccessToken)
	})
	t.Run("no-refresh-capability-leaves-token-alone", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, storage, s := testSession(t)
		seedToken(t, storage, &TokenRecord{
			TokenType:   "Bearer",
			Scope:       "openid",
			AccessToken: "test-access-token",
			IssuedAt:    time.Now().Unix(),
			ExpiresIn:   3600,
		})

		nav := &testNavigator{}
		require.NoError(s.EnsureAuthenticated(ctx, nav))
		assert.Empty(nav.url)
		assert.Empty(tp.LastTokenRequestForm())
		assert.Equal("test-access-token", s.GetToken().AccessToken)
	})
	t.Run("nil-navigator", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, _, s := testSession(t)
		assert.ErrorIs(s.EnsureAuthenticated(ctx, nil), ErrNilParameter)
	})
}

func TestSession_CheckForAuthorizationResponse_SwallowsErrors(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	tp, _, s := testSession(t)
	tp.SetExpectedAuthCode("test-code")

	nav := &testNavigator{}
	require.NoError(s.SignIn(ctx, nav))

	// a response whose state does not match the pending request is
	// discarded without surfacing an error to the caller
	bad := &url.URL{Fragment: "code=test-code&state=forged&scope=openid"}
	assert.NoError(s.CheckForAuthorizationResponse(ctx, bad))
	assert.False(s.IsAuthorizedUser())
}
