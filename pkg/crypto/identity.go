package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of X25519 keys and derived session keys.
	KeySize = 32

	// SessionKeyInfo is the HKDF context string for session key derivation.
	SessionKeyInfo = "session_key"
)

var (
	ErrInvalidPeerKey = errors.New("invalid peer public key")
)

// Identity holds the long-term key material of this endpoint: an X25519
// keypair for key exchange and an Ed25519 keypair for signatures. Both
// keypairs exist together or not at all.
type Identity struct {
	xPriv [KeySize]byte
	XPub  [KeySize]byte

	edPriv ed25519.PrivateKey
	EdPub  ed25519.PublicKey
}

// GenerateIdentity creates fresh X25519 and Ed25519 keypairs. An error
// here means the entropy source failed and is fatal to the caller.
func GenerateIdentity() (*Identity, error) {
	id := &Identity{}

	if _, err := rand.Read(id.xPriv[:]); err != nil {
		return nil, fmt.Errorf("entropy failure: %w", err)
	}
	id.xPriv[0] &= 248
	id.xPriv[31] &= 127
	id.xPriv[31] |= 64
	curve25519.ScalarBaseMult(&id.XPub, &id.xPriv)

	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("entropy failure: %w", err)
	}
	id.edPriv = edPriv
	id.EdPub = edPub

	return id, nil
}

// Exchange performs raw ECDH against the peer's X25519 public key and
// returns the shared secret.
func (id *Identity) Exchange(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != KeySize {
		return nil, ErrInvalidPeerKey
	}
	secret, err := curve25519.X25519(id.xPriv[:], peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return secret, nil
}

// DeriveSessionKey expands an ECDH shared secret into a 32-byte session
// key using HKDF-SHA256. The same secret, salt and info always produce
// the same key.
func DeriveSessionKey(sharedSecret, salt, info []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, sharedSecret, salt, info)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sign signs data with the Ed25519 signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.edPriv, data)
}

// Verify checks an Ed25519 signature. It never panics and reports false
// for malformed keys or signatures.
func Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// Fingerprint formats a public key as a colon-separated SHA-256 digest,
// e.g. "6e:34:0b:...". Peers compare these out of band.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	digest := hex.EncodeToString(sum[:])

	pairs := make([]string, 0, len(digest)/2)
	for i := 0; i < len(digest); i += 2 {
		pairs = append(pairs, digest[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// Fingerprint returns the fingerprint of this identity's signing key.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.EdPub)
}

// Zeroize overwrites both private keys. The identity is unusable after.
func (id *Identity) Zeroize() {
	Zero(id.xPriv[:])
	Zero(id.edPriv)
	id.edPriv = nil
}
