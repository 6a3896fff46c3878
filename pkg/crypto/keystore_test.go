package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(filepath.Join(t.TempDir(), "keys"), zerolog.Nop())
	require.NoError(t, err)
	return ks
}

func TestKeystoreSaveLoad(t *testing.T) {
	ks := newTestKeystore(t)

	id, err := GenerateIdentity()
	require.NoError(t, err)

	require.False(t, ks.Exists())
	require.NoError(t, ks.Save(id, "correct horse battery staple"))
	require.True(t, ks.Exists())

	loaded, err := ks.Load("correct horse battery staple")
	require.NoError(t, err)

	require.Equal(t, id.XPub, loaded.XPub)
	require.Equal(t, id.EdPub, loaded.EdPub)
	require.Equal(t, id.Fingerprint(), loaded.Fingerprint())

	// The reloaded signing key must produce verifiable signatures.
	sig := loaded.Sign([]byte("probe"))
	require.True(t, Verify([]byte("probe"), sig, id.EdPub))

	// And the reloaded exchange key must agree with the original.
	peer, err := GenerateIdentity()
	require.NoError(t, err)
	s1, err := id.Exchange(peer.XPub[:])
	require.NoError(t, err)
	s2, err := loaded.Exchange(peer.XPub[:])
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestKeystoreWrongPassword(t *testing.T) {
	ks := newTestKeystore(t)

	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.NoError(t, ks.Save(id, "right"))

	_, err = ks.Load("wrong")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestKeystoreCorruptedFile(t *testing.T) {
	ks := newTestKeystore(t)

	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.NoError(t, ks.Save(id, "pw"))

	// Flip a ciphertext byte; this must be indistinguishable from a
	// wrong password.
	path := filepath.Join(ks.dir, identityKeyFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = ks.Load("pw")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestKeystoreMissingFiles(t *testing.T) {
	ks := newTestKeystore(t)

	_, err := ks.Load("pw")
	require.ErrorIs(t, err, ErrNoStoredIdentity)
}

func TestKeystoreFilePermissions(t *testing.T) {
	ks := newTestKeystore(t)

	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.NoError(t, ks.Save(id, "pw"))

	for _, name := range []string{identityKeyFile, signingKeyFile} {
		info, err := os.Stat(filepath.Join(ks.dir, name))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}
