package network

// EventListener receives connection lifecycle events. Callbacks fire
// from the connection's receive goroutine in arrival order; implementors
// must not block for long and must not call back into the Connection
// synchronously.
type EventListener interface {
	// OnAuthenticated fires once per completed handshake with the
	// peer's signing-key fingerprint.
	OnAuthenticated(peerFingerprint string)

	// OnTextReceived fires for every decrypted text message.
	OnTextReceived(text string)

	// OnDisconnected fires once when the connection is torn down.
	OnDisconnected(reason string)
}

// EventFuncs adapts plain functions to EventListener. Nil fields are
// ignored.
type EventFuncs struct {
	Authenticated func(peerFingerprint string)
	TextReceived  func(text string)
	Disconnected  func(reason string)
}

func (e *EventFuncs) OnAuthenticated(peerFingerprint string) {
	if e.Authenticated != nil {
		e.Authenticated(peerFingerprint)
	}
}

func (e *EventFuncs) OnTextReceived(text string) {
	if e.TextReceived != nil {
		e.TextReceived(text)
	}
}

func (e *EventFuncs) OnDisconnected(reason string) {
	if e.Disconnected != nil {
		e.Disconnected(reason)
	}
}
