package protocol

import "errors"

// Protocol constants
const (
	// Length prefix size in bytes
	LengthPrefixSize = 4

	// Maximum accepted frame body (type byte + payload)
	MaxFrameSize = 10 * 1024 * 1024

	// Size of the random handshake challenge
	ChallengeSize = 32

	// Size of the HKDF salt carried in HELLO_ACK
	SaltSize = 32
)

// Frame types
const (
	MsgTypeHello             uint8 = 1
	MsgTypeHelloAck          uint8 = 2
	MsgTypeChallengeResponse uint8 = 3
	MsgTypeReady             uint8 = 4
	MsgTypeTextMessage       uint8 = 5
	MsgTypeFileTransfer      uint8 = 6
	MsgTypeFileChunk         uint8 = 7
	MsgTypeFileComplete      uint8 = 8
	MsgTypeHeartbeat         uint8 = 9
	MsgTypeDisconnect        uint8 = 10
	MsgTypeRekeyRequest      uint8 = 11
)

var (
	ErrFrameTooShort = errors.New("frame too short")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("frame has no type byte")
	ErrBadPayload    = errors.New("malformed frame payload")
)

// TypeName returns a human readable name for a frame type.
func TypeName(t uint8) string {
	switch t {
	case MsgTypeHello:
		return "HELLO"
	case MsgTypeHelloAck:
		return "HELLO_ACK"
	case MsgTypeChallengeResponse:
		return "CHALLENGE_RESPONSE"
	case MsgTypeReady:
		return "READY"
	case MsgTypeTextMessage:
		return "TEXT_MESSAGE"
	case MsgTypeFileTransfer:
		return "FILE_TRANSFER"
	case MsgTypeFileChunk:
		return "FILE_CHUNK"
	case MsgTypeFileComplete:
		return "FILE_COMPLETE"
	case MsgTypeHeartbeat:
		return "HEARTBEAT"
	case MsgTypeDisconnect:
		return "DISCONNECT"
	case MsgTypeRekeyRequest:
		return "REKEY_REQUEST"
	default:
		return "UNKNOWN"
	}
}
