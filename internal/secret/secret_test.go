package secret

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := New(keyring.NewArrayKeyring(nil))

	_, err := s.Get("prod")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("prod", "secret"))
	v, err := s.Get("prod")
	require.NoError(t, err)
	assert.Equal(t, "secret", v)

	require.NoError(t, s.Set("prod", "rotated"))
	v, err = s.Get("prod")
	require.NoError(t, err)
	assert.Equal(t, "rotated", v)

	require.NoError(t, s.Delete("prod"))
	_, err = s.Get("prod")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete("prod"))
}

func TestFileBackend(t *testing.T) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("unlock"),
	})
	require.NoError(t, err)

	s := New(ring)
	require.NoError(t, s.Set("lab", "hunter2"))
	v, err := s.Get("lab")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}
