package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Argon2id parameters for the key-encryption key.
const (
	kdfSaltSize = 32
	kdfTime     = 2
	kdfMemory   = 100 * 1024 // KiB
	kdfThreads  = 8
)

const (
	identityKeyFile = "identity.key"
	signingKeyFile  = "signing.key"
)

var (
	ErrNoStoredIdentity = errors.New("no stored identity")

	// Wrong password and corrupted storage are indistinguishable: the
	// AEAD open fails either way and carries no further detail.
	ErrWrongPassword = errors.New("wrong password or corrupted key storage")
)

// Keystore persists identity keys encrypted at rest. Each private key is
// written as salt(32) || nonce(12) || ciphertext+tag with owner-only
// file permissions.
type Keystore struct {
	dir string
	log zerolog.Logger
}

// NewKeystore creates the keys directory if needed.
func NewKeystore(dir string, log zerolog.Logger) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keys directory: %w", err)
	}
	return &Keystore{
		dir: dir,
		log: log.With().Str("component", "keystore").Logger(),
	}, nil
}

// Exists reports whether both key files are present.
func (ks *Keystore) Exists() bool {
	for _, name := range []string{identityKeyFile, signingKeyFile} {
		if _, err := os.Stat(filepath.Join(ks.dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Save encrypts both private keys under a password-derived key and
// writes them to disk. The derived key is zeroized before returning on
// every path.
func (ks *Keystore) Save(id *Identity, password string) error {
	salt := make([]byte, kdfSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("entropy failure: %w", err)
	}

	kek := deriveKEK(password, salt)
	defer Zero(kek)

	if err := ks.writeKeyFile(identityKeyFile, salt, kek, id.xPriv[:]); err != nil {
		return err
	}
	if err := ks.writeKeyFile(signingKeyFile, salt, kek, id.edPriv.Seed()); err != nil {
		return err
	}

	ks.log.Info().Str("dir", ks.dir).Msg("identity keys saved")
	return nil
}

// Load reads and decrypts both key files. A failed decryption returns
// ErrWrongPassword; the caller cannot tell a bad password from corrupted
// storage.
func (ks *Keystore) Load(password string) (*Identity, error) {
	xPriv, err := ks.readKeyFile(identityKeyFile, password)
	if err != nil {
		return nil, err
	}
	defer Zero(xPriv)

	seed, err := ks.readKeyFile(signingKeyFile, password)
	if err != nil {
		return nil, err
	}
	defer Zero(seed)

	if len(xPriv) != KeySize || len(seed) != ed25519.SeedSize {
		return nil, ErrWrongPassword
	}

	id := &Identity{}
	copy(id.xPriv[:], xPriv)
	curve25519.ScalarBaseMult(&id.XPub, &id.xPriv)

	id.edPriv = ed25519.NewKeyFromSeed(seed)
	id.EdPub = id.edPriv.Public().(ed25519.PublicKey)

	ks.log.Info().Str("fingerprint", id.Fingerprint()).Msg("identity keys loaded")
	return id, nil
}

func (ks *Keystore) writeKeyFile(name string, salt, kek, keyBytes []byte) error {
	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return err
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("entropy failure: %w", err)
	}

	blob := make([]byte, 0, len(salt)+len(nonce)+len(keyBytes)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, keyBytes, nil)

	path := filepath.Join(ks.dir, name)
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (ks *Keystore) readKeyFile(name, password string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(ks.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoStoredIdentity
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	if len(data) < kdfSaltSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrWrongPassword
	}

	salt := data[:kdfSaltSize]
	nonce := data[kdfSaltSize : kdfSaltSize+chacha20poly1305.NonceSize]
	ciphertext := data[kdfSaltSize+chacha20poly1305.NonceSize:]

	kek := deriveKEK(password, salt)
	defer Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

func deriveKEK(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, KeySize)
}
