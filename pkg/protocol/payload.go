package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// HexBytes is a byte slice that marshals to a lowercase hex JSON string.
// All binary fields of handshake payloads travel in this form.
type HexBytes []byte

// MarshalJSON implements json.Marshaler.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex field: %w", err)
	}
	*h = b
	return nil
}

// HelloPayload opens the handshake. The signature covers the sender's
// X25519 identity key and is made with the sender's Ed25519 signing key.
type HelloPayload struct {
	IdentityKey HexBytes `json:"identity_key"`
	SigningKey  HexBytes `json:"signing_key"`
	Signature   HexBytes `json:"signature"`
}

// HelloAckPayload answers a HELLO. It carries the responder's own keys and
// signature, a random challenge the initiator must sign, and the HKDF salt
// both sides use to derive the session key.
type HelloAckPayload struct {
	IdentityKey HexBytes `json:"identity_key"`
	SigningKey  HexBytes `json:"signing_key"`
	Signature   HexBytes `json:"signature"`
	Challenge   HexBytes `json:"challenge"`
	Salt        HexBytes `json:"salt"`
}

// ChallengeResponsePayload proves possession of the signing key by echoing
// the responder's challenge together with a signature over it.
type ChallengeResponsePayload struct {
	Response  HexBytes `json:"response"`
	Signature HexBytes `json:"signature"`
}

// ReadyPayload completes the handshake.
type ReadyPayload struct {
	Status string `json:"status"`
}

// HeartbeatPayload is a periodic keepalive. The timestamp is the hex form
// of a big-endian 8-byte unix time.
type HeartbeatPayload struct {
	Timestamp HexBytes `json:"timestamp"`
}

// DisconnectPayload announces an orderly shutdown.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// FileTransferPayload announces an upcoming file transfer. Chunk transfer
// itself is not wired up yet; the announcement format matches the frame
// types reserved for it.
type FileTransferPayload struct {
	Filename string   `json:"filename"`
	Size     uint64   `json:"size"`
	Hash     HexBytes `json:"hash"`
}

// encodeJSONFrame marshals a payload and wraps it in a frame.
func encodeJSONFrame(frameType uint8, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return NewFrame(frameType, data), nil
}

// NewHello builds a HELLO frame.
func NewHello(identityKey, signingKey, signature []byte) (*Frame, error) {
	return encodeJSONFrame(MsgTypeHello, &HelloPayload{
		IdentityKey: identityKey,
		SigningKey:  signingKey,
		Signature:   signature,
	})
}

// NewHelloAck builds a HELLO_ACK frame.
func NewHelloAck(identityKey, signingKey, signature, challenge, salt []byte) (*Frame, error) {
	return encodeJSONFrame(MsgTypeHelloAck, &HelloAckPayload{
		IdentityKey: identityKey,
		SigningKey:  signingKey,
		Signature:   signature,
		Challenge:   challenge,
		Salt:        salt,
	})
}

// NewChallengeResponse builds a CHALLENGE_RESPONSE frame.
func NewChallengeResponse(response, signature []byte) (*Frame, error) {
	return encodeJSONFrame(MsgTypeChallengeResponse, &ChallengeResponsePayload{
		Response:  response,
		Signature: signature,
	})
}

// NewReady builds a READY frame.
func NewReady() (*Frame, error) {
	return encodeJSONFrame(MsgTypeReady, &ReadyPayload{Status: "ready"})
}

// NewTextMessage wraps an encrypted message in a TEXT_MESSAGE frame.
func NewTextMessage(encrypted []byte) *Frame {
	return NewFrame(MsgTypeTextMessage, encrypted)
}

// NewHeartbeat builds a HEARTBEAT frame stamped with the current time.
func NewHeartbeat(now time.Time) (*Frame, error) {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(now.Unix()))
	return encodeJSONFrame(MsgTypeHeartbeat, &HeartbeatPayload{Timestamp: ts})
}

// NewDisconnect builds a DISCONNECT frame.
func NewDisconnect(reason string) (*Frame, error) {
	return encodeJSONFrame(MsgTypeDisconnect, &DisconnectPayload{Reason: reason})
}

// NewRekeyRequest builds a REKEY_REQUEST frame.
func NewRekeyRequest() *Frame {
	return NewFrame(MsgTypeRekeyRequest, nil)
}

// DecodePayload unmarshals a JSON frame payload into dst.
func DecodePayload(f *Frame, dst any) error {
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
