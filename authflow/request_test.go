package authflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewAuthRequest(t *testing.T) {
	t.Parallel()
	testConfig := func(t *testing.T) *Config {
		t.Helper()
		c, err := NewConfig("https://accounts.example.com", "client-id", "http://localhost:8000/token")
		require.NoError(t, err)
		return c
	}

	t.Run("basics", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		req, err := NewAuthRequest(testConfig(t))
		require.NoError(err)
		assert.NotEmpty(req.State)
		assert.NotEmpty(req.Verifier)
		assert.Equal("http://localhost:8000/token", req.RedirectURL)
		assert.Equal([]string{"openid"}, req.Scopes)
		assert.Equal("consent", req.Extras["prompt"])
		assert.Equal("offline", req.Extras["access_type"])
	})
	t.Run("unique-state-and-verifier", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := testConfig(t)
		r1, err := NewAuthRequest(c)
		require.NoError(err)
		r2, err := NewAuthRequest(c)
		require.NoError(err)
		assert.NotEqual(r1.State, r2.State)
		assert.NotEqual(r1.Verifier, r2.Verifier)
	})
	t.Run("with-ui-locales", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		req, err := NewAuthRequest(testConfig(t), WithUILocales(language.French, language.English))
		require.NoError(err)
		assert.Equal("fr en", req.Extras["ui_locales"])
	})
	t.Run("nil-config", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := NewAuthRequest(nil)
		assert.ErrorIs(err, ErrNilParameter)
	})
}

func TestAuthRequest_RoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	c, err := NewConfig("https://accounts.example.com", "client-id", "http://localhost:8000/token")
	require.NoError(err)
	req, err := NewAuthRequest(c)
	require.NoError(err)

	raw, err := marshalAuthRequest(req)
	require.NoError(err)
	got, err := unmarshalAuthRequest(raw)
	require.NoError(err)
	assert.Equal(req, got)
}

func TestUnmarshalAuthRequest(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := unmarshalAuthRequest([]byte("not json"))
	assert.Error(err)

	_, err = unmarshalAuthRequest([]byte(`{"codeVerifier":"v"}`))
	assert.ErrorIs(err, ErrInvalidParameter)
}
