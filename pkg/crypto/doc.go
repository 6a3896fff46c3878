// Package crypto holds the long-term identity keys and the live session
// cipher for a VeilChat endpoint.
//
// An Identity pairs an X25519 key-exchange keypair with an Ed25519
// signing keypair. The Keystore persists both private keys encrypted
// under a password-derived key (Argon2id + ChaCha20-Poly1305). A
// SessionCrypto holds at most one symmetric session key at a time and
// provides the AEAD message format used for application traffic,
// including nonce tracking for replay defense.
//
// Nothing in this package logs key material, passwords or plaintext.
package crypto
