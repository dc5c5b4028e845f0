package httpclient

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("no-ca", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		client, err := New("")
		require.NoError(err)
		assert.NotNil(client.Transport)
	})
	t.Run("invalid-ca-pem", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := New("not a pem block")
		assert.ErrorIs(err, ErrInvalidCertificatePem)
	})
	t.Run("with-ca", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)

		ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		t.Cleanup(ts.Close)
		caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})

		client, err := New(string(caPEM))
		require.NoError(err)
		resp, err := client.Get(ts.URL)
		require.NoError(err)
		defer resp.Body.Close()
		assert.Equal(http.StatusNoContent, resp.StatusCode)

		// an empty-CA client must not trust the test server's cert
		sysClient, err := New("")
		require.NoError(err)
		_, err = sysClient.Get(ts.URL) //nolint:bodyclose
		assert.Error(err)
	})
}
