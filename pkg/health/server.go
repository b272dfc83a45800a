package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/keygate/checkout/pkg/circuitbreaker"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BlockSource reports the head of a chain
type BlockSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// SessionCounter reports how many payment sessions are open
type SessionCounter interface {
	Len() int
}

// Options configures the health server
type Options struct {
	Port          string
	MetricsAPIKey string
	// RequiredChains must have a connected client for the service to be ready
	RequiredChains []int
	Chains         map[int]BlockSource
	Nonces         *wallet.NonceManager
	Wallet         wallet.Provider
	Sessions       SessionCounter
	Breakers       []*circuitbreaker.CircuitBreaker
	Logger         logger.Logger
}

// Server represents a health check HTTP server
type Server struct {
	port           string
	metricsAPIKey  string
	requiredChains []int
	chains         map[int]BlockSource
	nonces         *wallet.NonceManager
	wallet         wallet.Provider
	sessions       SessionCounter
	breakers       map[string]*circuitbreaker.CircuitBreaker
	logger         logger.Logger
	mux            *http.ServeMux
}

// NewServer creates a new health check server
func NewServer(opts Options) *Server {
	s := &Server{
		port:           opts.Port,
		metricsAPIKey:  opts.MetricsAPIKey,
		requiredChains: opts.RequiredChains,
		chains:         opts.Chains,
		nonces:         opts.Nonces,
		wallet:         opts.Wallet,
		sessions:       opts.Sessions,
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker),
		logger:         opts.Logger,
		mux:            http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = &logger.EmptyLogger{}
	}
	for _, cb := range opts.Breakers {
		s.breakers[cb.Name()] = cb
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	// Expose Prometheus metrics with API key authentication
	s.mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting health and metrics server on port %s", s.port)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	for _, chainID := range s.requiredChains {
		if s.chains[chainID] == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not connected", chainID)))
			return
		}
	}
	for name, cb := range s.breakers {
		if cb.IsOpen() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s is open", name)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// ChainStatus is the status of one configured chain
type ChainStatus struct {
	Connected     bool   `json:"connected"`
	LatestBlock   uint64 `json:"latest_block,omitempty"`
	PendingNonces int    `json:"pending_nonces"`
}

// Status is the body of the status endpoint
type Status struct {
	Sessions        int                             `json:"sessions"`
	Wallet          *wallet.State                   `json:"wallet,omitempty"`
	Chains          map[string]ChainStatus          `json:"chains"`
	CircuitBreakers map[string]circuitbreaker.State `json:"circuit_breakers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Chains:          make(map[string]ChainStatus),
		CircuitBreakers: make(map[string]circuitbreaker.State),
	}
	if s.sessions != nil {
		status.Sessions = s.sessions.Len()
	}
	if s.wallet != nil {
		state := s.wallet.State()
		status.Wallet = &state
	}

	for chainID, source := range s.chains {
		chainStatus := ChainStatus{Connected: source != nil}
		if source != nil {
			if block, err := source.LatestBlock(r.Context()); err == nil {
				chainStatus.LatestBlock = block
			} else {
				s.logger.DebugWithChain(chainID, "Status could not read latest block: %v", err)
			}
		}
		if s.nonces != nil {
			chainStatus.PendingNonces = s.nonces.Pending(chainID)
		}
		status.Chains[fmt.Sprintf("chain_%d", chainID)] = chainStatus
	}

	for name, cb := range s.breakers {
		status.CircuitBreakers[name] = cb.GetState()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// handleCircuitReset is the circuit breaker admin control endpoint
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing name parameter"))
		return
	}

	cb, ok := s.breakers[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker named %s", name)))
		return
	}

	cb.Reset()
	s.logger.Notice("Circuit breaker %s reset by admin request", name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker %s reset", name)))
}
