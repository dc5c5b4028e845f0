package authflow

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExchangeSetup(t *testing.T) (*TestProvider, *ServiceConfiguration, *TokenExchange) {
	t.Helper()
	require := require.New(t)

	tp := StartTestProvider(t)
	tp.SetClientID("client-id")

	c, err := NewConfig(tp.Addr(), "client-id", "https://example.com", WithProviderCA(tp.CACert()))
	require.NoError(err)
	e, err := NewTokenExchange(c, WithNow(testNowFunc(1000)))
	require.NoError(err)

	sc := &ServiceConfiguration{
		Issuer:                tp.Addr(),
		AuthorizationEndpoint: tp.Addr() + "/auth",
		TokenEndpoint:         tp.Addr() + "/token",
		RevocationEndpoint:    tp.Addr() + "/revoke",
	}
	return tp, sc, e
}

func TestTokenExchange_ExchangeCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedCodeVerifier("test-verifier")
		tp.SetReplyRefreshToken("test-refresh-token")

		rec, err := e.ExchangeCode(ctx, sc, "test-code", "test-verifier")
		require.NoError(err)
		assert.Equal("Bearer", rec.TokenType)
		assert.Equal("test-access-token", rec.AccessToken)
		assert.Equal("test-refresh-token", rec.RefreshToken)
		assert.Equal("openid", rec.Scope)
		assert.Equal(int64(1000), rec.IssuedAt)
		assert.Equal(int64(3600), rec.ExpiresIn)

		form := tp.LastTokenRequestForm()
		assert.Equal("authorization_code", form.Get("grant_type"))
		assert.Equal("test-verifier", form.Get("code_verifier"))
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedCodeVerifier("test-verifier")

		_, err := e.ExchangeCode(ctx, sc, "test-code", "some-other-verifier")
		assert.ErrorIs(err, ErrExchangeFailed)
	})
	t.Run("wrong-code", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedAuthCode("test-code")

		_, err := e.ExchangeCode(ctx, sc, "some-other-code", "")
		assert.ErrorIs(err, ErrExchangeFailed)
	})
	t.Run("bad-params", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, sc, e := testExchangeSetup(t)

		_, err := e.ExchangeCode(ctx, nil, "test-code", "v")
		assert.ErrorIs(err, ErrNilParameter)
		_, err = e.ExchangeCode(ctx, sc, "", "v")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestTokenExchange_ExchangeRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedRefreshToken("test-refresh-token")
		tp.SetReplyAccessToken("fresh-access-token")
		tp.SetReplyRefreshToken("rotated-refresh-token")

		rec, err := e.ExchangeRefreshToken(ctx, sc, "test-refresh-token")
		require.NoError(err)
		assert.Equal("fresh-access-token", rec.AccessToken)
		assert.Equal("rotated-refresh-token", rec.RefreshToken)
		assert.Equal(int64(1000), rec.IssuedAt)
		assert.Equal("refresh_token", tp.LastTokenRequestForm().Get("grant_type"))
	})
	t.Run("reply-omits-refresh-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedRefreshToken("test-refresh-token")

		// providers may keep the refresh token out of refresh replies;
		// the prior token must remain usable
		rec, err := e.ExchangeRefreshToken(ctx, sc, "test-refresh-token")
		require.NoError(err)
		assert.Equal("test-refresh-token", rec.RefreshToken)
	})
	t.Run("wrong-refresh-token", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetExpectedRefreshToken("test-refresh-token")

		_, err := e.ExchangeRefreshToken(ctx, sc, "some-other-token")
		assert.ErrorIs(err, ErrExchangeFailed)
	})
	t.Run("bad-params", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, sc, e := testExchangeSetup(t)

		_, err := e.ExchangeRefreshToken(ctx, nil, "tok")
		assert.ErrorIs(err, ErrNilParameter)
		_, err = e.ExchangeRefreshToken(ctx, sc, "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestTokenExchange_Revoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp, sc, e := testExchangeSetup(t)

		require.NoError(e.Revoke(ctx, sc, "test-access-token"))
		assert.Equal([]string{"test-access-token"}, tp.RevokedTokens())
	})
	t.Run("provider-rejects", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp, sc, e := testExchangeSetup(t)
		tp.SetRevocationStatusCode(http.StatusServiceUnavailable)

		err := e.Revoke(ctx, sc, "test-access-token")
		assert.ErrorIs(err, ErrRevocationFailed)
		assert.Empty(tp.RevokedTokens())
	})
	t.Run("no-revocation-endpoint", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, sc, e := testExchangeSetup(t)
		sc.RevocationEndpoint = ""

		err := e.Revoke(ctx, sc, "test-access-token")
		assert.ErrorIs(err, ErrNoRevocationEndpoint)
	})
	t.Run("bad-params", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, sc, e := testExchangeSetup(t)

		err := e.Revoke(ctx, nil, "tok")
		assert.ErrorIs(err, ErrNilParameter)
		err = e.Revoke(ctx, sc, "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}
