package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secretsTOML = `[postgres]
password = "hunter2"
`

func TestSealOpen_RoundTrip(t *testing.T) {
	sealed, err := Seal([]byte(secretsTOML), "pw")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	var env envelope
	require.NoError(t, sonic.Unmarshal(sealed, &env))
	assert.Equal(t, sealVersion, env.Version)

	plain, err := Open(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, secretsTOML, string(plain))
}

func TestOpen_WrongPassword(t *testing.T) {
	sealed, err := Seal([]byte("x"), "right")
	require.NoError(t, err)

	_, err = Open(sealed, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestOpen_RejectsBadInput(t *testing.T) {
	_, err := Open([]byte("{}"), "")
	assert.Error(t, err, "empty password")

	_, err = Open([]byte(`{"version":2}`), "pw")
	assert.ErrorContains(t, err, "unsupported envelope version")

	_, err = Open([]byte(`{"version":1,"salt":"!!","nonce":"","ciphertext":""}`), "pw")
	assert.ErrorContains(t, err, "decode salt")
}

func TestSealFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "secrets.toml")
	dst := filepath.Join(dir, "secrets.sealed")
	require.NoError(t, os.WriteFile(src, []byte(secretsTOML), 0o600))

	require.NoError(t, SealFile(src, dst, "pw"))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	plain, err := OpenFile(dst, "pw")
	require.NoError(t, err)
	assert.Equal(t, secretsTOML, string(plain))
}
