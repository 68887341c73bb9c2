package http_api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subtally/subtally/internal/auth"
	"github.com/subtally/subtally/internal/models"
	"github.com/subtally/subtally/internal/rates"
	"github.com/subtally/subtally/internal/store"
	"github.com/subtally/subtally/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second

	identityKey = "identity"
)

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	// manager hands out per-identity subscription stores
	manager *store.Manager
	// repo is used for notification profile management
	repo models.Repository
	// rates converts summary totals into a base currency; may be nil
	rates *rates.Service

	jwtSecret []byte

	// sessions tracks one auth session per signed-in identity
	sessionMutex sync.Mutex
	sessions     map[string]*auth.Session
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(manager *store.Manager, repo models.Repository, rateService *rates.Service, jwtSecret []byte, port int, logger *logger.Logger) *HTTPServer {
	router := gin.Default()

	// Add CORS middleware
	router.Use(corsMiddleware())

	server := &HTTPServer{
		router:    router,
		port:      port,
		manager:   manager,
		repo:      repo,
		rates:     rateService,
		jwtSecret: jwtSecret,
		logger:    logger,
		sessions:  make(map[string]*auth.Session),
	}

	// Define routes
	server.routes()

	return server
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server: ", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}

// authRequired verifies the bearer token and stores the identity on the
// request context.
func (s *HTTPServer) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ident, err := auth.VerifyToken(token, s.jwtSecret)
		if err != nil {
			s.logger.Debug("Rejected token ", "error ", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// identity returns the authenticated identity set by authRequired.
func identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*auth.Identity)
	return ident
}

// storeFor returns the identity's subscription store, opening a session
// and loading the store on first use.
func (s *HTTPServer) storeFor(ident *auth.Identity) (*store.SubscriptionStore, error) {
	s.sessionMutex.Lock()
	session, ok := s.sessions[ident.ID]
	if !ok {
		session = auth.NewSession(ident)
		s.sessions[ident.ID] = session
	}
	s.sessionMutex.Unlock()

	return s.manager.Open(session)
}

// endSession signs the identity out, which tears down its store and feed
// subscription.
func (s *HTTPServer) endSession(ident *auth.Identity) {
	s.sessionMutex.Lock()
	session, ok := s.sessions[ident.ID]
	if ok {
		delete(s.sessions, ident.ID)
	}
	s.sessionMutex.Unlock()

	if ok {
		session.SignOut()
		session.Close()
	}
}
