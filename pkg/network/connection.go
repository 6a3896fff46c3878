package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veilchat/veilchat-node/pkg/config"
	"github.com/veilchat/veilchat-node/pkg/crypto"
	"github.com/veilchat/veilchat-node/pkg/protocol"
	"github.com/veilchat/veilchat-node/pkg/storage"
)

const (
	// Receive reads are bounded so the loop can observe cancellation
	// even when the peer is silent.
	readPollInterval = 500 * time.Millisecond
	writeTimeout     = 5 * time.Second
	sendQueueSize    = 64
	readChunkSize    = 4096
)

var (
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrAlreadyListening = errors.New("already listening")
	ErrNotConnected     = errors.New("not connected")
	ErrNotAuthenticated = errors.New("handshake not complete")
	ErrMessageTooLarge  = errors.New("message exceeds maximum size")
)

// Options configures a Connection.
type Options struct {
	Identity *crypto.Identity // required
	Config   *config.Config   // nil means config.Default()
	Logger   zerolog.Logger
	Peers    *storage.PeerStore // optional trust store
	Metrics  *Metrics           // optional counters
}

// Connection owns one TCP socket to one peer, in either the listener or
// the dialer role, plus the handshake and session state for it. A
// Connection can be reused for a new Listen or Connect after Disconnect.
type Connection struct {
	identity *crypto.Identity
	cfg      *config.Config
	log      zerolog.Logger
	peers    *storage.PeerStore
	metrics  *Metrics
	session  *crypto.SessionCrypto

	mu              sync.Mutex
	listener        net.Listener
	conn            net.Conn
	role            Role
	engine          *HandshakeEngine
	connected       bool
	authenticated   bool
	rekeying        bool
	peerSigningKey  []byte
	peerIdentityKey []byte
	sendQ           chan []byte
	stop            chan struct{}
	stopOnce        *sync.Once
	listeners       []EventListener

	wg sync.WaitGroup
}

// NewConnection creates a disconnected Connection.
func NewConnection(opts Options) *Connection {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger.With().Str("component", "connection").Logger()
	return &Connection{
		identity: opts.Identity,
		cfg:      cfg,
		log:      log,
		peers:    opts.Peers,
		metrics:  opts.Metrics,
		session:  crypto.NewSessionCrypto(opts.Logger),
	}
}

// RegisterListener adds an event listener. Register before Listen or
// Connect; listeners cannot be removed.
func (c *Connection) RegisterListener(l EventListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Listen binds the configured address and waits for one inbound peer.
// It fails if the Connection is already listening or connected.
func (c *Connection) Listen(port int) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.listener != nil {
		c.mu.Unlock()
		return ErrAlreadyListening
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Network.BindAddress, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	c.listener = ln
	c.mu.Unlock()

	c.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	go c.acceptOne(ln)
	return nil
}

// LocalAddr returns the listener address, or nil when not listening.
func (c *Connection) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Connection) acceptOne(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		// Listener closed by Disconnect.
		return
	}

	c.log.Info().Str("peer_addr", conn.RemoteAddr().String()).Msg("accepted connection")
	if err := c.start(conn, RoleResponder); err != nil {
		c.log.Error().Err(err).Msg("failed to start inbound connection")
		conn.Close()
	}
}

// Connect dials a peer. It fails if the Connection is already listening
// or connected.
func (c *Connection) Connect(host string, port int, timeout time.Duration) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.listener != nil {
		c.mu.Unlock()
		return ErrAlreadyListening
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	c.log.Info().Str("peer_addr", addr).Msg("connected")
	if err := c.start(conn, RoleInitiator); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// start installs the socket and spins up the three loops.
func (c *Connection) start(conn net.Conn, role Role) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	c.conn = conn
	c.connected = true
	c.authenticated = false
	c.rekeying = false
	c.role = role
	c.peerSigningKey = nil
	c.peerIdentityKey = nil
	c.stop = make(chan struct{})
	c.stopOnce = &sync.Once{}
	c.sendQ = make(chan []byte, sendQueueSize)
	c.engine = NewHandshakeEngine(role, c.identity, c.session, c.log)

	first, err := c.engine.Start()
	if err != nil {
		c.connected = false
		c.engine = nil
		c.mu.Unlock()
		return err
	}

	stop := c.stop
	sendQ := c.sendQ
	c.mu.Unlock()

	c.wg.Add(3)
	go c.receiveLoop(conn, stop)
	go c.sendLoop(conn, sendQ, stop)
	go c.keepaliveLoop(stop)

	if first != nil {
		return c.enqueueFrame(first)
	}
	return nil
}

// receiveLoop reads raw bytes, reassembles frames and dispatches them.
// It is the only goroutine that mutates protocol state.
func (c *Connection) receiveLoop(conn net.Conn, stop chan struct{}) {
	defer c.wg.Done()

	var buf []byte
	chunk := make([]byte, readChunkSize)

	for {
		select {
		case <-stop:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			for {
				frame, remaining, decodeErr := protocol.DecodeFrame(buf)
				if decodeErr != nil {
					c.log.Error().Err(decodeErr).Msg("protocol error")
					go c.teardown("protocol error")
					return
				}
				if frame == nil {
					buf = remaining
					break
				}
				buf = remaining
				c.handleFrame(frame)
			}
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
			default:
				c.log.Info().Err(err).Msg("connection lost")
				go c.teardown("connection lost")
			}
			return
		}
	}
}

// sendLoop is the single consumer of the outbound queue; frames reach
// the wire in enqueue order.
func (c *Connection) sendLoop(conn net.Conn, sendQ chan []byte, stop chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stop:
			return
		case data := <-sendQ:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write(data); err != nil {
				select {
				case <-stop:
				default:
					c.log.Error().Err(err).Msg("send failed")
					go c.teardown("connection lost")
				}
				return
			}
		}
	}
}

// keepaliveLoop enqueues a heartbeat after the handshake completes.
func (c *Connection) keepaliveLoop(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Network.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			ready := c.authenticated
			c.mu.Unlock()
			if !ready {
				continue
			}

			hb, err := protocol.NewHeartbeat(time.Now())
			if err != nil {
				continue
			}
			if err := c.enqueueFrame(hb); err != nil {
				return
			}
			c.metrics.heartbeat()
		}
	}
}

func (c *Connection) enqueueFrame(f *protocol.Frame) error {
	c.mu.Lock()
	sendQ := c.sendQ
	stop := c.stop
	connected := c.connected
	c.mu.Unlock()

	if !connected || sendQ == nil {
		return ErrNotConnected
	}

	select {
	case sendQ <- f.Encode():
		return nil
	case <-stop:
		return ErrNotConnected
	}
}

// handleFrame routes one inbound frame. Runs on the receive loop.
func (c *Connection) handleFrame(f *protocol.Frame) {
	switch f.Type {
	case protocol.MsgTypeHello, protocol.MsgTypeHelloAck,
		protocol.MsgTypeChallengeResponse, protocol.MsgTypeReady:
		c.handleHandshakeFrame(f)

	case protocol.MsgTypeTextMessage:
		c.handleTextMessage(f)

	case protocol.MsgTypeHeartbeat:
		c.log.Debug().Msg("heartbeat received")

	case protocol.MsgTypeDisconnect:
		var p protocol.DisconnectPayload
		reason := "peer disconnected"
		if err := protocol.DecodePayload(f, &p); err == nil && p.Reason != "" {
			reason = p.Reason
		}
		go c.teardown(reason)

	case protocol.MsgTypeRekeyRequest:
		c.handleRekeyRequest()

	case protocol.MsgTypeFileTransfer, protocol.MsgTypeFileChunk, protocol.MsgTypeFileComplete:
		c.log.Warn().Str("frame", protocol.TypeName(f.Type)).Msg("file transfer not supported")

	default:
		c.log.Warn().Uint8("type", f.Type).Msg("unknown frame type")
	}
}

func (c *Connection) handleHandshakeFrame(f *protocol.Frame) {
	c.mu.Lock()
	engine := c.engine
	if engine == nil || engine.Failed() {
		c.mu.Unlock()
		return
	}

	reply, err := engine.HandleFrame(f)
	if err != nil {
		c.mu.Unlock()
		c.metrics.handshakeFailed()
		c.log.Warn().Err(err).Msg("authentication failure")
		go c.teardown("handshake failed")
		return
	}

	var completed bool
	var peerSigning, peerIdentity []byte
	if engine.Complete() && !c.authenticated {
		c.authenticated = true
		c.rekeying = false
		c.peerSigningKey = engine.PeerSigningKey()
		c.peerIdentityKey = engine.PeerIdentityKey()
		peerSigning = c.peerSigningKey
		peerIdentity = c.peerIdentityKey
		completed = true
	}
	c.mu.Unlock()

	if reply != nil {
		if err := c.enqueueFrame(reply); err != nil {
			return
		}
	}
	if completed {
		c.finishAuthentication(peerSigning, peerIdentity)
	}
}

// finishAuthentication pins the peer in the trust store and fires the
// Authenticated event. A pinned-key mismatch tears the connection down.
func (c *Connection) finishAuthentication(signingKey, identityKey []byte) {
	fingerprint := crypto.Fingerprint(signingKey)

	if c.peers != nil {
		err := c.peers.Remember(fingerprint, signingKey, identityKey, time.Now())
		if errors.Is(err, storage.ErrKeyMismatch) {
			c.log.Warn().
				Str("peer", fingerprint).
				Msg("peer presented a key that conflicts with the pinned one")
			go c.teardown("fingerprint mismatch")
			return
		}
		if err != nil {
			c.log.Error().Err(err).Msg("trust store update failed")
		}
	}

	c.log.Info().Str("peer", fingerprint).Msg("peer authenticated")
	for _, l := range c.snapshotListeners() {
		l.OnAuthenticated(fingerprint)
	}
}

func (c *Connection) handleTextMessage(f *protocol.Frame) {
	c.mu.Lock()
	if !c.authenticated {
		c.mu.Unlock()
		c.log.Warn().Msg("text message before handshake complete, dropped")
		return
	}
	senderID := []byte(crypto.Fingerprint(c.peerSigningKey))
	c.mu.Unlock()

	plaintext, msgType, _, err := c.session.Decrypt(f.Payload, senderID)
	if err != nil {
		switch {
		case errors.Is(err, crypto.ErrNonceReplayed):
			c.metrics.replayRejected()
			c.log.Warn().Msg("replayed message rejected")
		default:
			c.metrics.decryptFailed()
			c.log.Error().Err(err).Msg("message decryption failed")
		}
		// Per-message failure; the connection stays up.
		return
	}

	c.metrics.received()

	if msgType == crypto.MessageTypeText {
		text := string(plaintext)
		for _, l := range c.snapshotListeners() {
			l.OnTextReceived(text)
		}
	}

	c.maybeRekey()
}

// SendText encrypts and enqueues one text message. The sender identifier
// bound into the AEAD associated data is this endpoint's fingerprint;
// the receiver verifies against the authenticated peer fingerprint.
func (c *Connection) SendText(text string) error {
	if len(text) > c.cfg.Network.MaxMessageSize {
		return ErrMessageTooLarge
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.authenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.mu.Unlock()

	msg, err := c.session.Encrypt([]byte(text), crypto.MessageTypeText, []byte(c.identity.Fingerprint()))
	if err != nil {
		return err
	}
	if err := c.enqueueFrame(protocol.NewTextMessage(msg)); err != nil {
		return err
	}

	c.metrics.sent()
	c.maybeRekey()
	return nil
}

// maybeRekey re-runs the handshake over the live connection once the
// session crosses the configured thresholds. Only the endpoint that
// dialed drives the new handshake; the listening endpoint announces the
// threshold with REKEY_REQUEST and waits for the dialer's HELLO. This
// keeps the two sides from initiating against each other when both
// counters cross at once. Outbound application sends fail with
// ErrNotAuthenticated until the new key is installed.
func (c *Connection) maybeRekey() {
	if !c.session.NeedsRekey(c.cfg.Security.RekeyMessageThreshold, c.cfg.Security.RekeyTimeThreshold) {
		return
	}

	c.mu.Lock()
	if c.rekeying || !c.authenticated || !c.connected {
		c.mu.Unlock()
		return
	}
	c.rekeying = true
	c.authenticated = false
	role := c.role
	c.engine = NewHandshakeEngine(role, c.identity, c.session, c.log)
	hello, err := c.engine.Start()
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Msg("rekey start failed")
		go c.teardown("rekey failed")
		return
	}

	c.metrics.rekeyed()
	c.log.Info().Msg("session threshold crossed, rekeying")

	if err := c.enqueueFrame(protocol.NewRekeyRequest()); err != nil {
		return
	}
	if hello != nil {
		c.enqueueFrame(hello)
	}
}

// handleRekeyRequest reacts to the peer crossing its thresholds. The
// dialer answers with a fresh HELLO; the listener arms a responder
// engine and waits. A request received during an in-flight rekey is
// ignored.
func (c *Connection) handleRekeyRequest() {
	c.mu.Lock()
	if !c.connected || c.rekeying {
		c.mu.Unlock()
		return
	}
	c.rekeying = true
	c.authenticated = false
	c.engine = NewHandshakeEngine(c.role, c.identity, c.session, c.log)
	hello, err := c.engine.Start()
	c.mu.Unlock()

	if err != nil {
		go c.teardown("rekey failed")
		return
	}

	c.log.Info().Msg("peer requested rekey")
	if hello != nil {
		c.enqueueFrame(hello)
	}
}

// PeerFingerprint returns the authenticated peer's signing-key
// fingerprint, or "" before authentication.
func (c *Connection) PeerFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerSigningKey == nil {
		return ""
	}
	return crypto.Fingerprint(c.peerSigningKey)
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	Connected       bool   `json:"connected"`
	Authenticated   bool   `json:"authenticated"`
	Listening       bool   `json:"listening"`
	Role            string `json:"role,omitempty"`
	PeerFingerprint string `json:"peer_fingerprint,omitempty"`
	MessageCount    uint64 `json:"message_count"`
}

// Status reports the current connection state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Connected:     c.connected,
		Authenticated: c.authenticated,
		Listening:     c.listener != nil,
		MessageCount:  c.session.MessageCount(),
	}
	if c.engine != nil {
		s.Role = c.engine.Role().String()
	}
	if c.peerSigningKey != nil {
		s.PeerFingerprint = crypto.Fingerprint(c.peerSigningKey)
	}
	return s
}

// Disconnect sends a best-effort DISCONNECT frame, stops all three
// loops, wipes the session and waits for the workers to exit. Calling
// it twice is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if bye, err := protocol.NewDisconnect("user_disconnect"); err == nil {
			if c.enqueueFrame(bye) == nil {
				// Give the send loop a moment to flush the farewell.
				time.Sleep(100 * time.Millisecond)
			}
		}
	}

	c.teardown("user_disconnect")
	c.wg.Wait()
}

// teardown stops the loops and wipes per-connection state exactly once
// per connection attempt. Safe to call from any goroutine; it never
// blocks on the workers.
func (c *Connection) teardown(reason string) {
	c.mu.Lock()
	once := c.stopOnce
	c.mu.Unlock()

	if once == nil {
		// Never connected; release the listener if one is open.
		c.mu.Lock()
		if c.listener != nil {
			c.listener.Close()
			c.listener = nil
		}
		c.mu.Unlock()
		return
	}

	once.Do(func() {
		c.mu.Lock()
		close(c.stop)
		if c.conn != nil {
			c.conn.Close()
		}
		if c.listener != nil {
			c.listener.Close()
			c.listener = nil
		}
		c.connected = false
		c.authenticated = false
		c.rekeying = false
		c.engine = nil
		c.mu.Unlock()

		c.session.Clear()
		c.log.Info().Str("reason", reason).Msg("disconnected")

		for _, l := range c.snapshotListeners() {
			l.OnDisconnected(reason)
		}
	})
}

func (c *Connection) snapshotListeners() []EventListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
