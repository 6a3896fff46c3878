package network

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/veilchat/veilchat-node/pkg/crypto"
	"github.com/veilchat/veilchat-node/pkg/protocol"
)

// Role says which side of the handshake this endpoint plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// HandshakePhase tracks progress through the handshake state machine.
type HandshakePhase int

const (
	PhaseIdle HandshakePhase = iota
	PhaseHelloSent
	PhaseAwaitingHello
	PhaseChallengeIssued
	PhaseAwaitingReady
	PhaseComplete

	// PhaseFailed is terminal. The connection must be torn down and a
	// new handshake started from scratch.
	PhaseFailed
)

var (
	ErrBadSignature      = errors.New("signature verification failed")
	ErrChallengeMismatch = errors.New("challenge response does not match issued challenge")
	ErrUnexpectedFrame   = errors.New("frame not valid in current handshake phase")
	ErrHandshakeFailed   = errors.New("handshake failed")
)

// HandshakeEngine is the per-connection authentication state machine. It
// consumes handshake frames and produces reply frames; the caller moves
// bytes. On success both sides have independently installed the same
// session key derived from ECDH and the responder-chosen salt.
type HandshakeEngine struct {
	role  Role
	phase HandshakePhase

	identity *crypto.Identity
	session  *crypto.SessionCrypto

	// Responder side: challenge issued in HELLO_ACK and salt used for
	// session key derivation.
	challenge []byte
	salt      []byte

	peerIdentityKey []byte
	peerSigningKey  []byte

	log zerolog.Logger
}

// NewHandshakeEngine creates an engine in the Idle phase.
func NewHandshakeEngine(role Role, identity *crypto.Identity, session *crypto.SessionCrypto, log zerolog.Logger) *HandshakeEngine {
	return &HandshakeEngine{
		role:     role,
		phase:    PhaseIdle,
		identity: identity,
		session:  session,
		log:      log.With().Str("component", "handshake").Str("role", role.String()).Logger(),
	}
}

// Start leaves Idle. The initiator returns the HELLO frame to send; the
// responder returns nil and waits.
func (e *HandshakeEngine) Start() (*protocol.Frame, error) {
	if e.phase != PhaseIdle {
		return nil, ErrUnexpectedFrame
	}

	if e.role == RoleResponder {
		e.phase = PhaseAwaitingHello
		return nil, nil
	}

	hello, err := protocol.NewHello(
		e.identity.XPub[:],
		e.identity.EdPub,
		e.identity.Sign(e.identity.XPub[:]),
	)
	if err != nil {
		return nil, err
	}

	e.phase = PhaseHelloSent
	e.log.Debug().Msg("sent HELLO")
	return hello, nil
}

// HandleFrame advances the state machine with one inbound handshake
// frame. The returned frame, if any, must be sent to the peer. Any error
// leaves the engine in the terminal Failed phase.
func (e *HandshakeEngine) HandleFrame(f *protocol.Frame) (*protocol.Frame, error) {
	reply, err := e.handle(f)
	if err != nil {
		e.phase = PhaseFailed
		e.log.Warn().
			Str("frame", protocol.TypeName(f.Type)).
			Err(err).
			Msg("handshake aborted")
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return reply, nil
}

func (e *HandshakeEngine) handle(f *protocol.Frame) (*protocol.Frame, error) {
	switch {
	case f.Type == protocol.MsgTypeHello && e.role == RoleResponder && e.phase == PhaseAwaitingHello:
		return e.handleHello(f)
	case f.Type == protocol.MsgTypeHelloAck && e.role == RoleInitiator && e.phase == PhaseHelloSent:
		return e.handleHelloAck(f)
	case f.Type == protocol.MsgTypeChallengeResponse && e.role == RoleResponder && e.phase == PhaseChallengeIssued:
		return e.handleChallengeResponse(f)
	case f.Type == protocol.MsgTypeReady && e.role == RoleInitiator && e.phase == PhaseAwaitingReady:
		return e.handleReady(f)
	default:
		return nil, fmt.Errorf("%w: %s in phase %d", ErrUnexpectedFrame, protocol.TypeName(f.Type), e.phase)
	}
}

// Responder: verify the initiator's HELLO signature, issue a challenge
// and the session salt.
func (e *HandshakeEngine) handleHello(f *protocol.Frame) (*protocol.Frame, error) {
	var hello protocol.HelloPayload
	if err := protocol.DecodePayload(f, &hello); err != nil {
		return nil, err
	}

	if !crypto.Verify(hello.IdentityKey, hello.Signature, hello.SigningKey) {
		return nil, fmt.Errorf("%w: HELLO identity key", ErrBadSignature)
	}

	e.peerIdentityKey = hello.IdentityKey
	e.peerSigningKey = hello.SigningKey

	e.challenge = make([]byte, protocol.ChallengeSize)
	if _, err := rand.Read(e.challenge); err != nil {
		return nil, fmt.Errorf("entropy failure: %w", err)
	}
	e.salt = make([]byte, protocol.SaltSize)
	if _, err := rand.Read(e.salt); err != nil {
		return nil, fmt.Errorf("entropy failure: %w", err)
	}

	ack, err := protocol.NewHelloAck(
		e.identity.XPub[:],
		e.identity.EdPub,
		e.identity.Sign(e.identity.XPub[:]),
		e.challenge,
		e.salt,
	)
	if err != nil {
		return nil, err
	}

	e.phase = PhaseChallengeIssued
	e.log.Debug().
		Str("peer", crypto.Fingerprint(e.peerSigningKey)).
		Msg("HELLO verified, challenge issued")
	return ack, nil
}

// Initiator: verify the responder's keys, derive and install the session
// key with the responder's salt, answer the challenge.
func (e *HandshakeEngine) handleHelloAck(f *protocol.Frame) (*protocol.Frame, error) {
	var ack protocol.HelloAckPayload
	if err := protocol.DecodePayload(f, &ack); err != nil {
		return nil, err
	}

	if !crypto.Verify(ack.IdentityKey, ack.Signature, ack.SigningKey) {
		return nil, fmt.Errorf("%w: HELLO_ACK identity key", ErrBadSignature)
	}
	if len(ack.Salt) != protocol.SaltSize {
		return nil, fmt.Errorf("bad salt length %d", len(ack.Salt))
	}

	e.peerIdentityKey = ack.IdentityKey
	e.peerSigningKey = ack.SigningKey

	if err := e.installSessionKey(ack.Salt); err != nil {
		return nil, err
	}

	resp, err := protocol.NewChallengeResponse(ack.Challenge, e.identity.Sign(ack.Challenge))
	if err != nil {
		return nil, err
	}

	e.phase = PhaseAwaitingReady
	e.log.Debug().
		Str("peer", crypto.Fingerprint(e.peerSigningKey)).
		Msg("HELLO_ACK verified, challenge answered")
	return resp, nil
}

// Responder: check the echoed challenge and its signature, then derive
// the same session key and confirm with READY.
func (e *HandshakeEngine) handleChallengeResponse(f *protocol.Frame) (*protocol.Frame, error) {
	var resp protocol.ChallengeResponsePayload
	if err := protocol.DecodePayload(f, &resp); err != nil {
		return nil, err
	}

	if !bytes.Equal(resp.Response, e.challenge) {
		return nil, ErrChallengeMismatch
	}
	if !crypto.Verify(resp.Response, resp.Signature, e.peerSigningKey) {
		return nil, fmt.Errorf("%w: challenge response", ErrBadSignature)
	}

	if err := e.installSessionKey(e.salt); err != nil {
		return nil, err
	}

	ready, err := protocol.NewReady()
	if err != nil {
		return nil, err
	}

	e.phase = PhaseComplete
	e.log.Info().
		Str("peer", crypto.Fingerprint(e.peerSigningKey)).
		Msg("handshake complete")
	return ready, nil
}

func (e *HandshakeEngine) handleReady(f *protocol.Frame) (*protocol.Frame, error) {
	var ready protocol.ReadyPayload
	if err := protocol.DecodePayload(f, &ready); err != nil {
		return nil, err
	}
	if ready.Status != "ready" {
		return nil, fmt.Errorf("unexpected READY status %q", ready.Status)
	}

	e.phase = PhaseComplete
	e.log.Info().
		Str("peer", crypto.Fingerprint(e.peerSigningKey)).
		Msg("handshake complete")
	return nil, nil
}

func (e *HandshakeEngine) installSessionKey(salt []byte) error {
	secret, err := e.identity.Exchange(e.peerIdentityKey)
	if err != nil {
		return err
	}
	defer crypto.Zero(secret)

	key, err := crypto.DeriveSessionKey(secret, salt, []byte(crypto.SessionKeyInfo))
	if err != nil {
		return err
	}
	defer crypto.Zero(key)

	return e.session.SetKey(key)
}

// Complete reports whether the handshake reached the terminal success
// state.
func (e *HandshakeEngine) Complete() bool { return e.phase == PhaseComplete }

// Failed reports whether the handshake reached the terminal failure
// state.
func (e *HandshakeEngine) Failed() bool { return e.phase == PhaseFailed }

// Phase returns the current phase.
func (e *HandshakeEngine) Phase() HandshakePhase { return e.phase }

// Role returns the engine's role.
func (e *HandshakeEngine) Role() Role { return e.role }

// PeerIdentityKey returns the peer's verified X25519 public key, nil
// until the peer's first handshake frame has been verified.
func (e *HandshakeEngine) PeerIdentityKey() []byte { return e.peerIdentityKey }

// PeerSigningKey returns the peer's verified Ed25519 public key, nil
// until the peer's first handshake frame has been verified.
func (e *HandshakeEngine) PeerSigningKey() []byte { return e.peerSigningKey }
