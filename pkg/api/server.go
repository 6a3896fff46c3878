// Package api exposes a local HTTP control surface for a veilchat node:
// connection status, sending messages, the pinned peer list and
// Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/veilchat/veilchat-node/pkg/crypto"
	"github.com/veilchat/veilchat-node/pkg/network"
	"github.com/veilchat/veilchat-node/pkg/storage"
)

// Server is the local HTTP API. It binds to a loopback address by
// default; it carries no authentication and must not be exposed beyond
// the host.
type Server struct {
	conn     *network.Connection
	identity *crypto.Identity
	peers    *storage.PeerStore
	router   *gin.Engine
	log      zerolog.Logger

	addr       string
	httpServer *http.Server
}

// Options configures the API server. Conn and Identity are required;
// Peers and Registry may be nil.
type Options struct {
	Conn     *network.Connection
	Identity *crypto.Identity
	Peers    *storage.PeerStore
	Registry *prometheus.Registry
	Address  string
	Logger   zerolog.Logger
}

// NewServer builds the router. Call Start to begin serving.
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	log := opts.Logger.With().Str("component", "api").Logger()

	s := &Server{
		conn:     opts.Conn,
		identity: opts.Identity,
		peers:    opts.Peers,
		router:   router,
		log:      log,
		addr:     opts.Address,
	}

	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/send", s.handleSend)
		v1.POST("/disconnect", s.handleDisconnect)
		v1.GET("/peers", s.handlePeers)
		v1.DELETE("/peers/:fingerprint", s.handleForgetPeer)
	}

	router.GET("/health", s.handleHealth)

	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			opts.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// Router returns the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server error")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
