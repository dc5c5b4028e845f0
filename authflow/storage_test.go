package authflow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	s := NewMemStorage()

	_, err := s.GetItem("missing")
	assert.ErrorIs(err, ErrNotFound)

	require.NoError(s.SetItem("k", []byte("v1")))
	got, err := s.GetItem("k")
	require.NoError(err)
	assert.Equal([]byte("v1"), got)

	// returned slice is a copy, mutating it must not affect the store
	got[0] = 'x'
	got2, err := s.GetItem("k")
	require.NoError(err)
	assert.Equal([]byte("v1"), got2)

	require.NoError(s.SetItem("k", []byte("v2")))
	got, err = s.GetItem("k")
	require.NoError(err)
	assert.Equal([]byte("v2"), got)

	require.NoError(s.RemoveItem("k"))
	_, err = s.GetItem("k")
	assert.ErrorIs(err, ErrNotFound)

	// removing an absent key is not an error
	require.NoError(s.RemoveItem("k"))
}

func TestBoltStorage(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := OpenBoltStorage(path)
	require.NoError(err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.GetItem("missing")
	assert.ErrorIs(err, ErrNotFound)

	require.NoError(s.SetItem("k", []byte("v1")))
	got, err := s.GetItem("k")
	require.NoError(err)
	assert.Equal([]byte("v1"), got)

	require.NoError(s.RemoveItem("k"))
	_, err = s.GetItem("k")
	assert.ErrorIs(err, ErrNotFound)
	require.NoError(s.RemoveItem("k"))
}

func TestBoltStorage_Reopen(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenBoltStorage(path)
	require.NoError(err)
	require.NoError(s.SetItem("k", []byte("survives")))
	require.NoError(s.Close())

	s, err = OpenBoltStorage(path)
	require.NoError(err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.GetItem("k")
	require.NoError(err)
	assert.Equal([]byte("survives"), got)
}

func TestOpenBoltStorage_EmptyPath(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, err := OpenBoltStorage("")
	assert.ErrorIs(err, ErrInvalidParameter)
}
