package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilchat/veilchat-node/pkg/network"
	"github.com/veilchat/veilchat-node/pkg/storage"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse reports the node and connection state.
type StatusResponse struct {
	Fingerprint     string `json:"fingerprint"`
	Connected       bool   `json:"connected"`
	Authenticated   bool   `json:"authenticated"`
	Listening       bool   `json:"listening"`
	Role            string `json:"role,omitempty"`
	PeerFingerprint string `json:"peer_fingerprint,omitempty"`
	MessageCount    uint64 `json:"message_count"`
}

// SendRequest carries one outbound text message.
type SendRequest struct {
	Text string `json:"text" binding:"required"`
}

// PeerInfo is one pinned peer in the trust store.
type PeerInfo struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(c *gin.Context) {
	st := s.conn.Status()
	c.JSON(http.StatusOK, StatusResponse{
		Fingerprint:     s.identity.Fingerprint(),
		Connected:       st.Connected,
		Authenticated:   st.Authenticated,
		Listening:       st.Listening,
		Role:            st.Role,
		PeerFingerprint: st.PeerFingerprint,
		MessageCount:    st.MessageCount,
	})
}

// handleSend handles POST /api/v1/send.
func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Message: "body must be {\"text\": \"...\"}",
		})
		return
	}

	if err := s.conn.SendText(req.Text); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, network.ErrNotConnected),
			errors.Is(err, network.ErrNotAuthenticated):
			status = http.StatusConflict
		case errors.Is(err, network.ErrMessageTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, ErrorResponse{Error: "send failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// handleDisconnect handles POST /api/v1/disconnect.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.conn.Disconnect()
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

// handlePeers handles GET /api/v1/peers.
func (s *Server) handlePeers(c *gin.Context) {
	if s.peers == nil {
		c.JSON(http.StatusOK, gin.H{"peers": []PeerInfo{}})
		return
	}

	peers, err := s.peers.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "peer store unavailable", Message: err.Error(),
		})
		return
	}

	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerInfo{
			Fingerprint: p.Fingerprint,
			FirstSeen:   p.FirstSeen,
			LastSeen:    p.LastSeen,
		})
	}
	c.JSON(http.StatusOK, gin.H{"peers": out})
}

// handleForgetPeer handles DELETE /api/v1/peers/:fingerprint. Removing a
// pin means the next contact from that fingerprint is trusted afresh.
func (s *Server) handleForgetPeer(c *gin.Context) {
	if s.peers == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "peer store disabled"})
		return
	}

	fp := c.Param("fingerprint")
	if err := s.peers.Forget(fp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown peer"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "peer store unavailable", Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"forgotten": true})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
