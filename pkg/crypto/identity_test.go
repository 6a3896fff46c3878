package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateIdentity(t *testing.T) {
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	require.NotEqual(t, a.XPub, b.XPub)
	require.False(t, bytes.Equal(a.EdPub, b.EdPub))
	require.NotEqual(t, [KeySize]byte{}, a.XPub)
}

func TestKeyExchangeAgreement(t *testing.T) {
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	secretA, err := a.Exchange(b.XPub[:])
	require.NoError(t, err)
	secretB, err := b.Exchange(a.XPub[:])
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)
}

func TestExchangeRejectsBadKey(t *testing.T) {
	a, err := GenerateIdentity()
	require.NoError(t, err)

	_, err = a.Exchange([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidPeerKey)
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)
	salt := bytes.Repeat([]byte{0x24}, 32)

	k1, err := DeriveSessionKey(secret, salt, []byte(SessionKeyInfo))
	require.NoError(t, err)
	k2, err := DeriveSessionKey(secret, salt, []byte(SessionKeyInfo))
	require.NoError(t, err)

	require.Len(t, k1, KeySize)
	require.Equal(t, k1, k2)

	otherSalt := bytes.Repeat([]byte{0x25}, 32)
	k3, err := DeriveSessionKey(secret, otherSalt, []byte(SessionKeyInfo))
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestSignVerify(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	data := []byte("handshake challenge")
	sig := id.Sign(data)

	require.True(t, Verify(data, sig, id.EdPub))
	require.False(t, Verify([]byte("other data"), sig, id.EdPub))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	require.False(t, Verify(data, sig, other.EdPub))
}

func TestVerifyNeverPanics(t *testing.T) {
	require.False(t, Verify([]byte("data"), nil, nil))
	require.False(t, Verify([]byte("data"), []byte("sig"), []byte("short key")))
}

func TestFingerprintStable(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	require.Equal(t, id.Fingerprint(), id.Fingerprint())
	require.Equal(t, id.Fingerprint(), Fingerprint(id.EdPub))
}

func TestFingerprintKnownValue(t *testing.T) {
	// SHA-256 of 32 zero bytes, colon-grouped.
	zeroKey := make([]byte, 32)
	want := "6e:34:0b:9c:ff:b3:7a:99:b3:cd:33:0c:cc:b3:0b:4c:74:00:1a:ed:c4:b5:4f:ca:79:20:67:33:ec:29:c5:40"
	require.Equal(t, want, Fingerprint(zeroKey))
}
