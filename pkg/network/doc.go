// Package network owns the TCP transport between two VeilChat endpoints.
//
// A Connection is either a listener waiting for one inbound peer or a
// dialer connecting out; never both. Once the socket is up, three
// goroutines run per connection: a receive loop (read, frame reassembly,
// dispatch), a send loop (single consumer of the outbound queue) and a
// keepalive loop (heartbeats after authentication). All three stop on a
// shared cancellation channel set by Disconnect.
//
// The HandshakeEngine drives mutual authentication over the connection:
// HELLO -> HELLO_ACK -> CHALLENGE_RESPONSE -> READY, with Ed25519
// signatures, a responder-chosen challenge, and an X25519/HKDF session
// key installed on both sides before READY is sent.
package network
