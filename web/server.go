// Package web exposes storefront sessions over HTTP.
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/engine"
)

// SessionHeader carries the session id. The cookie of the same purpose is
// used when the header is absent.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "storefront_session"
)

// Session lookup failures.
const (
	ErrMsgSessionRequired = "A session is required; open one with POST /api/sessions"
	ErrMsgSessionUnknown  = "Session not found or expired"
)

// Server is the storefront HTTP server.
type Server struct {
	engine *engine.Engine
	router *gin.Engine
	logger *zap.Logger
}

// NewServer creates the server and registers every route.
func NewServer(e *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine: e,
		router: router,
		logger: logger,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/checkout/return", s.withSession(s.handleReturn))

	api := router.Group("/api")
	{
		api.POST("/sessions", s.handleOpenSession)
		api.DELETE("/sessions/current", s.withSession(s.handleCloseSession))
		api.POST("/sessions/current/resume", s.withSession(s.handleResume))
		api.POST("/messages", s.handlePublish)

		api.GET("/cart", s.withSession(s.handleCart))
		api.POST("/cart/lines", s.withSession(s.handleAddLine))
		api.DELETE("/cart/lines/:key", s.withSession(s.handleRemoveLine))
		api.DELETE("/cart", s.withSession(s.handleClearCart))

		api.POST("/checkout", s.withSession(s.handleCheckout))
		api.GET("/order", s.withSession(s.handleOrder))
		api.POST("/order/retry", s.withSession(s.handleRetry))
		api.POST("/order/recover", s.withSession(s.handleRecover))
		api.POST("/order/new", s.withSession(s.handleNewOrder))

		api.GET("/profile", s.withSession(s.handleProfile))
		api.POST("/login", s.withSession(s.handleLogin))
		api.POST("/logout", s.withSession(s.handleLogout))
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the web server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// withSession resolves the caller's session and hands it to h. Only
// POST /api/sessions creates sessions: a request naming none is
// unauthorized and one naming an unknown or evicted session is not found.
func (s *Server) withSession(h func(*gin.Context, *engine.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			id, _ = c.Cookie(SessionCookie)
		}
		if id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMsgSessionRequired})
			return
		}
		session, ok := s.engine.Session(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrMsgSessionUnknown})
			return
		}
		c.Header(SessionHeader, session.ID())
		h(c, session)
	}
}
