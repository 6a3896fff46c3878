package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"
)

// Encrypted message layout: [VERSION:1][TYPE:1][NONCE:12][CIPHERTEXT+TAG].
const (
	MessageVersion uint8 = 1

	MessageTypeText      uint8 = 1
	MessageTypeFile      uint8 = 2
	MessageTypeHandshake uint8 = 3

	NonceSize = chacha20poly1305.NonceSize

	// 1 version + 1 type + 12 nonce + 16 tag, for an empty plaintext.
	MinMessageSize = 2 + NonceSize + chacha20poly1305.Overhead
)

// The sender's timestamp is folded into the AAD but never transmitted, so
// the receiver retries verification against local time plus these offsets.
// Clock skew beyond five minutes makes messages undecryptable.
const (
	timestampWindow = 300 * time.Second
	timestampStep   = 60 * time.Second
)

var (
	ErrNoSession       = errors.New("no session")
	ErrMessageTooShort = errors.New("message too short")
	ErrBadVersion      = errors.New("unsupported message version")
	ErrNonceReplayed   = errors.New("nonce reuse detected")
	ErrDecryptFailed   = errors.New("decryption failed: invalid message or key")
)

// SessionCrypto owns the live session key. It is in the NoSession state
// until SetKey installs a key and returns there after Clear. A nonce
// observed once under the current key is never accepted again.
type SessionCrypto struct {
	mu sync.Mutex

	key          []byte
	aead         cipher.AEAD
	createdAt    time.Time
	messageCount uint64
	usedNonces   map[[NonceSize]byte]struct{}

	now func() time.Time
	log zerolog.Logger
}

// NewSessionCrypto returns a SessionCrypto in the NoSession state.
func NewSessionCrypto(log zerolog.Logger) *SessionCrypto {
	return &SessionCrypto{
		usedNonces: make(map[[NonceSize]byte]struct{}),
		now:        time.Now,
		log:        log.With().Str("component", "session").Logger(),
	}
}

// SetKey installs a 32-byte session key, replacing any previous one. The
// nonce set and counters are reset for the new key.
func (s *SessionCrypto) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("session key must be %d bytes", KeySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()

	s.key = make([]byte, KeySize)
	copy(s.key, key)

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return err
	}
	s.aead = aead
	s.createdAt = s.now()

	s.log.Info().Msg("session key installed")
	return nil
}

// Active reports whether a session key is installed.
func (s *SessionCrypto) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aead != nil
}

// GenerateNonce draws a random 12-byte nonce, resampling on collision
// against the nonces already used under the current key.
func (s *SessionCrypto) GenerateNonce() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return nil, ErrNoSession
	}
	return s.generateNonceLocked()
}

func (s *SessionCrypto) generateNonceLocked() ([]byte, error) {
	var nonce [NonceSize]byte
	for {
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("entropy failure: %w", err)
		}
		if _, used := s.usedNonces[nonce]; !used {
			s.usedNonces[nonce] = struct{}{}
			out := make([]byte, NonceSize)
			copy(out, nonce[:])
			return out, nil
		}
	}
}

// Encrypt seals plaintext into [VERSION][TYPE][NONCE][CIPHERTEXT+TAG].
// The associated data binds a big-endian 8-byte unix timestamp and the
// sender identifier into the tag without putting either on the wire.
func (s *SessionCrypto) Encrypt(plaintext []byte, messageType uint8, senderID []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead == nil {
		return nil, ErrNoSession
	}

	nonce, err := s.generateNonceLocked()
	if err != nil {
		return nil, err
	}

	aad := buildAAD(s.now().Unix(), senderID)

	msg := make([]byte, 0, 2+NonceSize+len(plaintext)+s.aead.Overhead())
	msg = append(msg, MessageVersion, messageType)
	msg = append(msg, nonce...)
	msg = s.aead.Seal(msg, nonce, plaintext, aad)

	s.messageCount++
	return msg, nil
}

// Decrypt opens a message produced by Encrypt. It rejects replayed
// nonces before any verification work, then tries AEAD verification
// against each candidate timestamp (local time ±5 minutes in 60-second
// steps); the first verifying candidate wins.
func (s *SessionCrypto) Decrypt(message, senderID []byte) ([]byte, uint8, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead == nil {
		return nil, 0, time.Time{}, ErrNoSession
	}
	if len(message) < MinMessageSize {
		return nil, 0, time.Time{}, ErrMessageTooShort
	}
	if message[0] != MessageVersion {
		return nil, 0, time.Time{}, fmt.Errorf("%w: %d", ErrBadVersion, message[0])
	}

	messageType := message[1]

	var nonce [NonceSize]byte
	copy(nonce[:], message[2:2+NonceSize])
	ciphertext := message[2+NonceSize:]

	if _, used := s.usedNonces[nonce]; used {
		s.log.Warn().Msg("nonce reuse detected, possible replay attack")
		return nil, 0, time.Time{}, ErrNonceReplayed
	}

	localUnix := s.now().Unix()
	step := int64(timestampStep / time.Second)
	window := int64(timestampWindow / time.Second)

	for offset := -window; offset <= window; offset += step {
		candidate := localUnix + offset
		aad := buildAAD(candidate, senderID)

		plaintext, err := s.aead.Open(nil, nonce[:], ciphertext, aad)
		if err != nil {
			continue
		}

		s.usedNonces[nonce] = struct{}{}
		s.messageCount++
		return plaintext, messageType, time.Unix(candidate, 0), nil
	}

	return nil, 0, time.Time{}, ErrDecryptFailed
}

// MessageCount returns the number of messages processed under the
// current key.
func (s *SessionCrypto) MessageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// NeedsRekey reports whether the current key has crossed the message
// count or age threshold.
func (s *SessionCrypto) NeedsRekey(maxMessages uint64, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil {
		return false
	}
	if maxMessages > 0 && s.messageCount >= maxMessages {
		return true
	}
	if maxAge > 0 && s.now().Sub(s.createdAt) >= maxAge {
		return true
	}
	return false
}

// Clear zeroizes the key material, drops the nonce set and resets the
// counters, returning to the NoSession state.
func (s *SessionCrypto) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aead == nil && s.key == nil {
		return
	}
	s.clearLocked()
	s.log.Info().Msg("session cleared")
}

func (s *SessionCrypto) clearLocked() {
	Zero(s.key)
	s.key = nil
	s.aead = nil
	s.messageCount = 0
	s.createdAt = time.Time{}
	s.usedNonces = make(map[[NonceSize]byte]struct{})
}

func buildAAD(unixTime int64, senderID []byte) []byte {
	aad := make([]byte, 8, 8+len(senderID))
	binary.BigEndian.PutUint64(aad, uint64(unixTime))
	return append(aad, senderID...)
}
