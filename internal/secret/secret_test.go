package secret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	s, err := New([]byte("master secret for tests"))
	require.NoError(t, err)

	sealed, err := s.Seal("AIzaSyA-abcdefghijklmnop_123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "AIzaSy")

	again, err := s.Seal("AIzaSyA-abcdefghijklmnop_123")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyA-abcdefghijklmnop_123", plain)
}

func TestOpen_Failures(t *testing.T) {
	s, err := New([]byte("one"))
	require.NoError(t, err)
	other, err := New([]byte("two"))
	require.NoError(t, err)

	sealed, err := s.Seal("value")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "plaintext", input: "value"},
		{name: "bad base64", input: "v1:***"},
		{name: "too short", input: "v1:AAAA"},
		{name: "tampered", input: tamper(sealed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Open(tt.input)
			assert.Error(t, err)
		})
	}

	_, err = other.Open(sealed)
	assert.Error(t, err, "wrong master key")

	_, err = s.Open("value")
	assert.ErrorIs(t, err, ErrNotSealed)
}

func TestNew_EmptyMaster(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.key")

	key, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, key, keySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}

func tamper(sealed string) string {
	b := []byte(sealed)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
