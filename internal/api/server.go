// Package api serves capture status and a websocket feed of persisted
// artifacts.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
)

// Server is an HTTP API server
type Server struct {
	httpServer    *http.Server
	mux           *http.ServeMux
	hub           *Hub
	statusHandler *StatusHandler
	configHandler *ConfigHandler
	limiter       *RateLimiter
	logger        recorderlog.Logger
	listener      net.Listener
}

// NewServer creates a new API server. lister may be nil when the capture
// index is disabled.
func NewServer(cfg *config.Config, provider StatusProvider, lister CaptureLister, hub *Hub, logger recorderlog.Logger) *Server {
	if logger == nil {
		logger = recorderlog.L()
	}
	logger = logger.Named("api")
	mux := http.NewServeMux()

	statusHandler := NewStatusHandler(provider, lister, hub, logger)
	statusHandler.RegisterRoutes(mux)

	configHandler := NewConfigHandler(cfg, logger)
	configHandler.RegisterRoutes(mux)

	// websocket upgrades are the expensive endpoint: 10 per minute per IP
	limiter := NewRateLimiter(10, time.Minute)
	if hub != nil {
		upgrader := &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		}
		mux.HandleFunc("/ws/events", limiter.Middleware(hub.ServeWS(upgrader)))
	}

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	addr := ""
	if cfg != nil {
		addr = cfg.API.Addr
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1 MB
			// no WriteTimeout: websocket connections are long lived
		},
		mux:           mux,
		hub:           hub,
		statusHandler: statusHandler,
		configHandler: configHandler,
		limiter:       limiter,
		logger:        logger,
	}
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// allowedOrigins is the CORS and websocket origin whitelist
var allowedOrigins = map[string]bool{
	"http://localhost:8080": true,
	"http://localhost:3000": true,
	"http://127.0.0.1:8080": true,
	"http://127.0.0.1:3000": true,
}

// checkOrigin accepts non-browser clients, same-host pages and the
// whitelist.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowedOrigins[origin] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Listen binds the configured address. Addr() is valid afterwards, which
// matters for port 0.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start serves until Shutdown, binding first if needed.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("Starting API server", recorderlog.String("addr", s.Addr()))
	return s.httpServer.Serve(s.listener)
}

// StartInBackground starts the server in a goroutine
func (s *Server) StartInBackground() error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", recorderlog.Error(err))
		}
	}()
	return nil
}

// Shutdown closes event clients and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.hub != nil {
		s.hub.Close()
	}
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}
