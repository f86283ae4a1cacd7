// internal/api/api.go
// Provides StartServer and the HTTP surface around the relay hub.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/erilali/relay/internal/hub"
	"github.com/erilali/relay/internal/logger"
	"github.com/erilali/relay/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

const shutdownTimeout = 10 * time.Second

// OriginPolicy is the cross-origin allow-list for the handshake and HTTP
// routes.
type OriginPolicy struct {
	Origins          []string
	AllowCredentials bool
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.TrimSpace(o), "/")
}

// Allowed reports whether origin may connect. A single "*" entry allows
// every origin.
func (p OriginPolicy) Allowed(origin string) bool {
	origin = normalizeOrigin(origin)
	for _, o := range p.Origins {
		o = normalizeOrigin(o)
		if o == "*" || (o != "" && o == origin) {
			return true
		}
	}
	return false
}

// CheckOrigin is the upgrader hook. Requests without an Origin header come
// from non-browser clients and are accepted.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return p.Allowed(origin)
}

// CORS sets cross-origin headers for allowed origins.
func (p OriginPolicy) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && p.Allowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			if p.AllowCredentials {
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Server bundles what the HTTP handlers need.
type Server struct {
	Hub      *hub.Hub
	Policy   OriginPolicy
	Verifier *TokenVerifier // nil disables handshake auth
	Nats     *nats.Conn
	Logger   *logger.Logger
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.Policy.CORS())

	r.GET("/ws", s.handleWebSocket)
	r.GET("/health", s.handleHealth)
	r.GET("/api/online", s.handleOnline)
	return r
}

func (s *Server) handleWebSocket(c *gin.Context) {
	subject := ""
	if s.Verifier != nil {
		sub, err := s.Verifier.Subject(c.Request)
		if err != nil {
			s.Logger.Debugf("Handshake rejected: %v", err)
			status := http.StatusUnauthorized
			if errors.Is(err, ErrInvalidToken) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"message": errorMessage(err)})
			return
		}
		subject = sub
	}
	s.Hub.ServeWs(c.Writer, c.Request, subject)
}

func errorMessage(err error) string {
	if errors.Is(err, ErrMissingToken) {
		return "Not Authenticated!"
	}
	return "Token is not Valid!"
}

func (s *Server) natsStatus() string {
	if s.Nats != nil && s.Nats.Status() == nats.CONNECTED {
		return "connected"
	}
	return "disconnected"
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"nats":        s.natsStatus(),
		"online":      s.Hub.Registry().Len(),
		"connections": s.Hub.OpenConnections(),
		"uptime":      time.Since(s.Hub.StartTime).Round(time.Second).String(),
		"version":     "1.0.0",
	})
}

func (s *Server) handleOnline(c *gin.Context) {
	users := s.Hub.Registry().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

// connectNATS returns a JetStream context, or nils when NATS is unreachable.
// The relay runs without event publication in that case.
func connectNATS(cfg util.Config, log *logger.Logger) (*nats.Conn, nats.JetStreamContext) {
	log.Infof("Connecting to NATS at %s", cfg.NatsURL)
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("presence-relay"))
	if err != nil {
		log.Errorf("Error connecting to NATS: %v", err)
		log.Warn("Running without NATS connection. Event publication will be disabled.")
		return nil, nil
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Errorf("Error getting JetStream context: %v", err)
		log.Warn("Running without JetStream. Event publication will be disabled.")
		return nc, nil
	}
	if err := hub.EnsureStream(js, cfg.StreamRetention); err != nil {
		log.Errorf("Error setting up stream: %v", err)
	} else {
		log.Infof("Stream %s ready", hub.PresenceStream)
	}
	return nc, js
}

// StartServer runs the relay until ctx is cancelled, then shuts down HTTP
// and closes every connection.
func StartServer(ctx context.Context, cfg util.Config, serverLogger *logger.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	nc, js := connectNATS(cfg, serverLogger)
	if nc != nil {
		defer nc.Close()
	}

	var publisher hub.EventPublisher
	if js != nil {
		p := hub.NewNATSPublisher(js, logger.NewLogger("nats"))
		go p.Run(ctx)
		publisher = p
	}

	policy := OriginPolicy{Origins: cfg.AllowedOrigins, AllowCredentials: cfg.AllowCredentials}
	h := hub.NewHub(hub.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		CheckOrigin:    policy.CheckOrigin,
	}, publisher, logger.NewLogger("hub"))
	go h.Run(ctx)

	srv := &Server{Hub: h, Policy: policy, Nats: nc, Logger: serverLogger}
	if cfg.JWTSecret != "" {
		srv.Verifier = NewTokenVerifier(cfg.JWTSecret, cfg.AllowCredentials)
		serverLogger.Info("Handshake authentication enabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		serverLogger.Infof("Server started at %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	serverLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serverLogger.Warnf("HTTP shutdown: %v", err)
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("close connections: %w", err)
	}
	return nil
}
