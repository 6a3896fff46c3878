package protocol

import (
	"encoding/binary"
	"io"
)

// Frame is the unit of transport.
type Frame struct {
	Type    uint8
	Payload []byte
}

// NewFrame creates a frame of the given type.
func NewFrame(frameType uint8, payload []byte) *Frame {
	return &Frame{Type: frameType, Payload: payload}
}

// Encode encodes the frame as [LENGTH:4][TYPE:1][PAYLOAD].
// LENGTH counts the type byte plus the payload.
func (f *Frame) Encode() []byte {
	buf := make([]byte, LengthPrefixSize+1+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(f.Payload)))
	buf[4] = f.Type
	copy(buf[5:], f.Payload)
	return buf
}

// DecodeFrame extracts one frame from the front of buf.
//
// It returns the decoded frame and the unconsumed remainder. When buf does
// not yet hold a complete frame it returns (nil, buf, nil) so the caller
// can read more bytes and retry.
func DecodeFrame(buf []byte) (*Frame, []byte, error) {
	if len(buf) < LengthPrefixSize {
		return nil, buf, nil
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 {
		return nil, buf, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, buf, ErrFrameTooLarge
	}

	if len(buf) < LengthPrefixSize+int(length) {
		return nil, buf, nil
	}

	body := buf[LengthPrefixSize : LengthPrefixSize+int(length)]
	remaining := buf[LengthPrefixSize+int(length):]

	frame := &Frame{
		Type:    body[0],
		Payload: make([]byte, length-1),
	}
	copy(frame.Payload, body[1:])

	return frame, remaining, nil
}

// ReadFrame reads exactly one frame from an io.Reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	prefix := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix)
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Frame{Type: body[0], Payload: body[1:]}, nil
}

// WriteFrame writes a frame to an io.Writer.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Encode())
	return err
}
