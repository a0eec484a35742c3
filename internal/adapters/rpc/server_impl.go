package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sendwatch/go-backend/internal/app"
	"sendwatch/go-backend/internal/platform/metrics"
	"sendwatch/go-backend/internal/platform/ratelimiter"
)

const (
	DefaultRPCAddr = "127.0.0.1:8787"
	tokenHeader    = "X-Sendwatch-Token"
	shutdownGrace  = 5 * time.Second
)

type Options struct {
	Addr           string
	Token          string
	RequireToken   bool
	AllowedOrigins []string
	// RateLimit is shared by every client key; nil disables limiting.
	RateLimit *ratelimiter.MapLimiter
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Streams   StreamLimits
}

type Server struct {
	httpServer  *http.Server
	service     app.DaemonService
	initErr     error
	rpcToken    string
	requireRPC  bool
	origins     map[string]bool
	rpcLimiter  *ratelimiter.MapLimiter
	streams     *rpcStreamLimiter
	metrics     *metrics.Recorder
	logger      *slog.Logger
	idempotency *rpcIdempotencyCache
	upgrader    websocket.Upgrader
	now         func() time.Time
}

// NewServer builds the HTTP surface. A missing token while one is required is
// reported by Run.
func NewServer(svc app.DaemonService, opts Options) *Server {
	if opts.RequireToken && strings.TrimSpace(opts.Token) == "" {
		return &Server{initErr: errors.New("rpc token is required unless SENDWATCH_ENV is test or dev")}
	}
	if opts.Addr == "" {
		opts.Addr = DefaultRPCAddr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:     svc,
		rpcToken:    strings.TrimSpace(opts.Token),
		requireRPC:  opts.RequireToken,
		origins:     make(map[string]bool),
		rpcLimiter:  opts.RateLimit,
		streams:     newRPCStreamLimiter(opts.Streams),
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		idempotency: newRPCIdempotencyCache(),
		now:         time.Now,
	}
	for _, origin := range opts.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.origins[trimmed] = true
		}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	if s.rpcToken == "" {
		s.logger.Warn("rpc token is not set; RPC auth disabled")
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/ws", s.handleOutcomeStream)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return s
}

// Run serves until ctx is done, then shuts down and closes the service.
func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("rpc server listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.service.Close()
		if err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		s.service.Close()
		return err
	}
}

func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return http.NotFoundHandler()
	}
	return s.httpServer.Handler
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !s.isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+tokenHeader+", "+rpcIdempotencyHeader)
	return true
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" && !s.requireRPC {
		return true
	}
	if s.extractRPCToken(r) != s.rpcToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	key := rpcRateLimitKey(r, s.extractRPCToken(r))
	if s.rpcLimiter.Allow(key, s.now()) {
		return true
	}
	if s.metrics != nil {
		s.metrics.RateLimited()
	}
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}

func (s *Server) extractRPCToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	// browsers cannot set headers on a websocket handshake
	if r.URL.Path == "/ws" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// isAllowedOrigin accepts configured origins and loopback hosts.
func (s *Server) isAllowedOrigin(raw string) bool {
	if s.origins[raw] {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
