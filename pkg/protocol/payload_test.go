package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	identity := bytes.Repeat([]byte{0x01}, 32)
	signing := bytes.Repeat([]byte{0x02}, 32)
	signature := bytes.Repeat([]byte{0x03}, 64)

	frame, err := NewHello(identity, signing, signature)
	require.NoError(t, err)
	require.Equal(t, MsgTypeHello, frame.Type)

	var payload HelloPayload
	require.NoError(t, DecodePayload(frame, &payload))
	require.Equal(t, identity, []byte(payload.IdentityKey))
	require.Equal(t, signing, []byte(payload.SigningKey))
	require.Equal(t, signature, []byte(payload.Signature))
}

func TestHelloAckCarriesChallengeAndSalt(t *testing.T) {
	challenge := bytes.Repeat([]byte{0xAA}, ChallengeSize)
	salt := bytes.Repeat([]byte{0xBB}, SaltSize)

	frame, err := NewHelloAck(
		bytes.Repeat([]byte{0x01}, 32),
		bytes.Repeat([]byte{0x02}, 32),
		bytes.Repeat([]byte{0x03}, 64),
		challenge,
		salt,
	)
	require.NoError(t, err)

	var payload HelloAckPayload
	require.NoError(t, DecodePayload(frame, &payload))
	require.Equal(t, challenge, []byte(payload.Challenge))
	require.Equal(t, salt, []byte(payload.Salt))
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	response := bytes.Repeat([]byte{0xCC}, ChallengeSize)
	signature := bytes.Repeat([]byte{0xDD}, 64)

	frame, err := NewChallengeResponse(response, signature)
	require.NoError(t, err)

	var payload ChallengeResponsePayload
	require.NoError(t, DecodePayload(frame, &payload))
	require.Equal(t, response, []byte(payload.Response))
	require.Equal(t, signature, []byte(payload.Signature))
}

func TestReadyStatus(t *testing.T) {
	frame, err := NewReady()
	require.NoError(t, err)

	var payload ReadyPayload
	require.NoError(t, DecodePayload(frame, &payload))
	require.Equal(t, "ready", payload.Status)
}

func TestHeartbeatTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)

	frame, err := NewHeartbeat(now)
	require.NoError(t, err)

	var payload HeartbeatPayload
	require.NoError(t, DecodePayload(frame, &payload))
	require.Len(t, []byte(payload.Timestamp), 8)
	require.Equal(t, uint64(1700000000), binary.BigEndian.Uint64(payload.Timestamp))
}

func TestDecodePayloadRejectsBadHex(t *testing.T) {
	frame := NewFrame(MsgTypeHello, []byte(`{"identity_key":"not-hex"}`))

	var payload HelloPayload
	err := DecodePayload(frame, &payload)
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestDecodePayloadRejectsBadJSON(t *testing.T) {
	frame := NewFrame(MsgTypeReady, []byte("not json"))

	var payload ReadyPayload
	require.ErrorIs(t, DecodePayload(frame, &payload), ErrBadPayload)
}
