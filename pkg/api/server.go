// Package api exposes payment sessions to a host UI over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/keygate/checkout/pkg/checkout"
	"github.com/keygate/checkout/pkg/logger"
)

const requestIDKey = "request_id"

// Server is the payment API
type Server struct {
	env      *checkout.Environment
	registry *checkout.Registry
	logger   logger.Logger
	engine   *gin.Engine
}

// NewServer builds the router for the payment API
func NewServer(env *checkout.Environment, registry *checkout.Registry, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	s := &Server{
		env:      env,
		registry: registry,
		logger:   log,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestID(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1")

	payments := v1.Group("/payments")
	payments.POST("", s.startPayment)
	payments.GET("/:id", s.getPayment)
	payments.POST("/:id/purchase", s.requestPurchase)
	payments.PUT("/:id/intent", s.updateIntent)
	payments.POST("/:id/confirm", s.confirm)
	payments.DELETE("/:id", s.closePayment)

	v1.GET("/wallet", s.getWallet)
	v1.POST("/wallet/connect", s.connectWallet)
	v1.POST("/wallet/disconnect", s.disconnectWallet)

	v1.GET("/routes/active", s.activeRoutes)
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API on port until ctx is cancelled
func (s *Server) Run(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting payment API on port %s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestID tags every request with an id, reusing X-Request-ID when sent
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s [%s]", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.GetString(requestIDKey))
	}
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errSessionNotFound = errors.New("payment session not found")

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, errSessionNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, checkout.ErrInvalidIntent):
		status, code = http.StatusBadRequest, "INVALID_INTENT"
	case errors.Is(err, checkout.ErrNotPurchasing):
		status, code = http.StatusConflict, "NOT_PURCHASING"
	case errors.Is(err, checkout.ErrNoQuote):
		status, code = http.StatusConflict, "NO_QUOTE"
	case errors.Is(err, checkout.ErrProcessing):
		status, code = http.StatusConflict, "PROCESSING"
	case errors.Is(err, checkout.ErrSessionClosed):
		status, code = http.StatusGone, "SESSION_CLOSED"
	default:
		s.logger.Error("Request %s failed: %v", c.GetString(requestIDKey), err)
	}
	c.JSON(status, errorResponse{Code: code, Message: err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
}

func (s *Server) session(c *gin.Context) (*checkout.Session, bool) {
	session, ok := s.registry.Get(c.Param("id"))
	if !ok {
		s.writeError(c, errSessionNotFound)
		return nil, false
	}
	return session, true
}
