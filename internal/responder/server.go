package responder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/zerolink/internal/auth"
	"github.com/danmuck/zerolink/internal/logging"
	"github.com/danmuck/zerolink/internal/node"
	"github.com/danmuck/zerolink/internal/observability"
	"github.com/danmuck/zerolink/internal/protocol/frame"
	"github.com/danmuck/zerolink/internal/transport/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrHandlerRequired = errors.New("responder: handler required")

type Config struct {
	NodeID          string
	ListenAddr      string
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ChunkSize       int
	Limits          frame.Limits
	CORSOrigins     []string
	// AuthToken, when set, is required as a bearer token on GET /ws.
	AuthToken       string
	TLS             ws.TLSConfig
}

func DefaultConfig() Config {
	return Config{
		NodeID:          "zerod",
		ListenAddr:      ":7420",
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		ChunkSize:       ws.DefaultChunkSize,
		Limits:          frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = def.NodeID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}

// Server accepts Protocol ZERO peers on GET /ws and dispatches their
// operations to a Handler.
type Server struct {
	cfg      Config
	handler  Handler
	router   *gin.Engine
	upgrader websocket.Upgrader
	auth     auth.Validator
	log      zerolog.Logger
	started  time.Time

	connsMu sync.Mutex
	conns   map[*ws.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

var _ node.Node = (*Server)(nil)

func NewServer(cfg Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	cfg = cfg.withDefaults()
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.NodeID))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", auth.HeaderAuthorization},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		router:  r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logging.Component("responder").With().Str("node", cfg.NodeID).Logger(),
		started: time.Now(),
		conns:   make(map[*ws.Conn]struct{}),
	}
	if token := strings.TrimSpace(cfg.AuthToken); token != "" {
		s.auth = auth.StaticToken{Token: token}
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) NodeID() string {
	return s.cfg.NodeID
}

func (s *Server) Kind() string {
	return "responder"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"uptime":      time.Since(s.started).String(),
			"service":     s.cfg.NodeID,
			"connections": s.activeConns(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleUpgrade)
}

func (s *Server) handleUpgrade(c *gin.Context) {
	if s.auth != nil {
		if err := auth.CheckRequest(s.auth, c.Request); err != nil {
			s.log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("responder.Server upgrade rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}
	sock, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.log.Warn().Err(err).Msg("responder.Server upgrade")
		return
	}
	conn := ws.Wrap(sock, ws.Options{
		WriteTimeout: s.cfg.WriteTimeout,
		ChunkSize:    s.cfg.ChunkSize,
		Limits:       s.cfg.Limits,
	})
	if !s.trackConn(conn) {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()
	defer s.untrackConn(conn)
	newPeer(s, conn).serve()
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		addr = s.cfg.ListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then stops accepting,
// closes live peers and waits for their handlers. A stopped Server may
// serve again.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.connsMu.Lock()
	s.closing = false
	s.connsMu.Unlock()

	tlsCfg, err := s.cfg.TLS.ServerTLS()
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("responder: tls: %w", err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", tlsCfg != nil).Msg("responder.Server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.closeAllConns()
	s.wg.Wait()
	s.log.Info().Msg("responder.Server stopped")
	return err
}

// trackConn reports false once shutdown has begun.
func (s *Server) trackConn(conn *ws.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	observability.AddResponderConnections(1)
	return true
}

func (s *Server) untrackConn(conn *ws.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		observability.AddResponderConnections(-1)
	}
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) activeConns() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}
