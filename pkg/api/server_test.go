package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat-node/pkg/crypto"
	"github.com/veilchat/veilchat-node/pkg/network"
	"github.com/veilchat/veilchat-node/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *crypto.Identity, *storage.PeerStore) {
	t.Helper()

	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	peers, err := storage.OpenPeerStore(filepath.Join(t.TempDir(), "peers.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { peers.Close() })

	registry := prometheus.NewRegistry()
	network.NewMetrics(registry)

	conn := network.NewConnection(network.Options{Identity: id, Logger: zerolog.Nop()})
	t.Cleanup(conn.Disconnect)

	srv := NewServer(Options{
		Conn:     conn,
		Identity: id,
		Peers:    peers,
		Registry: registry,
		Address:  "127.0.0.1:0",
		Logger:   zerolog.Nop(),
	})
	return srv, id, peers
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv, id, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, id.Fingerprint(), resp.Fingerprint)
	require.False(t, resp.Connected)
	require.False(t, resp.Authenticated)
}

func TestSendWithoutConnection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/send", `{"text":"hello"}`)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestSendRejectsBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/send", `{"nope":1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeersListAndForget(t *testing.T) {
	srv, _, peers := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/peers", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"peers":[]}`, w.Body.String())

	other, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	fp := other.Fingerprint()
	require.NoError(t, peers.Remember(fp, other.EdPub, other.XPub[:], time.Now()))

	w = doRequest(t, srv, http.MethodGet, "/api/v1/peers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Peers []PeerInfo `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Peers, 1)
	require.Equal(t, fp, listed.Peers[0].Fingerprint)

	w = doRequest(t, srv, http.MethodDelete, "/api/v1/peers/"+fp, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodDelete, "/api/v1/peers/"+fp, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "veilchat_messages_sent_total")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
