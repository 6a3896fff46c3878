package network

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts protocol-level events. All fields are optional from the
// Connection's point of view; a nil Metrics disables counting.
type Metrics struct {
	MessagesSent      prometheus.Counter
	MessagesReceived  prometheus.Counter
	HandshakeFailures prometheus.Counter
	ReplaysRejected   prometheus.Counter
	DecryptFailures   prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	Rekeys            prometheus.Counter
}

// NewMetrics creates and registers the connection counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "messages_sent_total",
			Help:      "Encrypted application messages sent.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "messages_received_total",
			Help:      "Encrypted application messages received and decrypted.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "handshake_failures_total",
			Help:      "Handshakes aborted on signature or challenge failure.",
		}),
		ReplaysRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "replays_rejected_total",
			Help:      "Messages rejected for nonce reuse.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "decrypt_failures_total",
			Help:      "Messages that failed AEAD verification.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "heartbeats_sent_total",
			Help:      "Keepalive frames sent.",
		}),
		Rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veilchat",
			Name:      "rekeys_total",
			Help:      "Session rekey handshakes triggered.",
		}),
	}

	reg.MustRegister(
		m.MessagesSent,
		m.MessagesReceived,
		m.HandshakeFailures,
		m.ReplaysRejected,
		m.DecryptFailures,
		m.HeartbeatsSent,
		m.Rekeys,
	)
	return m
}

func count(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		count(m.MessagesSent)
	}
}

func (m *Metrics) received() {
	if m != nil {
		count(m.MessagesReceived)
	}
}

func (m *Metrics) handshakeFailed() {
	if m != nil {
		count(m.HandshakeFailures)
	}
}

func (m *Metrics) replayRejected() {
	if m != nil {
		count(m.ReplaysRejected)
	}
}

func (m *Metrics) decryptFailed() {
	if m != nil {
		count(m.DecryptFailures)
	}
}

func (m *Metrics) heartbeat() {
	if m != nil {
		count(m.HeartbeatsSent)
	}
}

func (m *Metrics) rekeyed() {
	if m != nil {
		count(m.Rekeys)
	}
}
