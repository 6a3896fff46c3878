package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
	}{
		{
			name:  "handshake frame",
			frame: NewFrame(MsgTypeHello, []byte(`{"identity_key":"00"}`)),
		},
		{
			name:  "empty payload",
			frame: NewFrame(MsgTypeReady, nil),
		},
		{
			name:  "binary payload",
			frame: NewFrame(MsgTypeTextMessage, bytes.Repeat([]byte{0xAB}, 4096)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.frame.Encode()

			decoded, remaining, err := DecodeFrame(encoded)
			require.NoError(t, err)
			require.NotNil(t, decoded)
			require.Empty(t, remaining)

			require.Equal(t, tt.frame.Type, decoded.Type)
			require.Equal(t, len(tt.frame.Payload), len(decoded.Payload))
			require.True(t, bytes.Equal(tt.frame.Payload, decoded.Payload))
		})
	}
}

func TestDecodeFramePartial(t *testing.T) {
	frame := NewTextMessage(bytes.Repeat([]byte{0x42}, 100))
	encoded := frame.Encode()

	// Split mid-length-prefix: no frame yet, buffer untouched.
	f, remaining, err := DecodeFrame(encoded[:2])
	require.NoError(t, err)
	require.Nil(t, f)
	require.Equal(t, encoded[:2], remaining)

	// Split mid-payload: still no frame.
	f, remaining, err = DecodeFrame(encoded[:50])
	require.NoError(t, err)
	require.Nil(t, f)
	require.Equal(t, encoded[:50], remaining)

	// Reassembled across two partial reads it decodes identically
	// to a frame delivered whole.
	buf := append([]byte{}, encoded[:50]...)
	buf = append(buf, encoded[50:]...)
	f, remaining, err = DecodeFrame(buf)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Empty(t, remaining)
	require.Equal(t, frame.Type, f.Type)
	require.True(t, bytes.Equal(frame.Payload, f.Payload))
}

func TestDecodeFrameMultiple(t *testing.T) {
	first := NewFrame(MsgTypeHeartbeat, []byte(`{"timestamp":"00"}`))
	second := NewTextMessage([]byte{1, 2, 3})

	buf := append(first.Encode(), second.Encode()...)

	f1, remaining, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, MsgTypeHeartbeat, f1.Type)

	f2, remaining, err := DecodeFrame(remaining)
	require.NoError(t, err)
	require.Equal(t, MsgTypeTextMessage, f2.Type)
	require.Equal(t, []byte{1, 2, 3}, f2.Payload)
	require.Empty(t, remaining)
}

func TestDecodeFrameRejectsOversize(t *testing.T) {
	buf := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(buf, MaxFrameSize+1)

	_, _, err := DecodeFrame(buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrameRejectsZeroLength(t *testing.T) {
	buf := make([]byte, LengthPrefixSize)

	_, _, err := DecodeFrame(buf)
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestReadWriteFrame(t *testing.T) {
	var stream bytes.Buffer

	frame := NewTextMessage(bytes.Repeat([]byte{0x17}, 256))
	require.NoError(t, WriteFrame(&stream, frame))

	got, err := ReadFrame(&stream)
	require.NoError(t, err)
	require.Equal(t, frame.Type, got.Type)
	require.True(t, bytes.Equal(frame.Payload, got.Payload))
}
