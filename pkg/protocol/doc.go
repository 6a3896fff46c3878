// Package protocol implements the VeilChat wire protocol.
//
// Every unit of transport is a frame:
//
//	[LENGTH:4 big-endian][TYPE:1][PAYLOAD:length-1]
//
// where LENGTH counts the type byte plus the payload. Handshake frames
// carry JSON payloads whose byte fields are hex-encoded; application
// frames carry the opaque bytes of an encrypted message produced by the
// session layer.
//
// The handshake runs HELLO -> HELLO_ACK -> CHALLENGE_RESPONSE -> READY.
// Once both sides report ready, TEXT_MESSAGE frames flow in both
// directions and HEARTBEAT frames keep the connection alive.
package protocol
