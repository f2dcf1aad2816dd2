package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"fieldroute/internal/handlers"
	"fieldroute/internal/metrics"
)

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	handler    *handlers.Handler
	listener   net.Listener
	addr       string
}

// Config holds server configuration
type Config struct {
	Addr           string // e.g., "127.0.0.1:8080" or "127.0.0.1:0" for random port
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string // exact origins allowed in addition to localhost
}

// New creates a server around an assembled handler (does not start it)
func New(cfg Config, handler *handlers.Handler) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	mux := setupRoutes(handler)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      loggingMiddleware(corsMiddleware(cfg.AllowedOrigins, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		addr:       cfg.Addr,
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	log.Printf("Starting server on %s", actualAddr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server and closes the data store
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if s.handler.DB == nil {
		return nil
	}
	return s.handler.DB.Close()
}

// setupRoutes configures all HTTP routes
func setupRoutes(h *handlers.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.HandleHealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Stateless engine operations
	mux.HandleFunc("POST /api/v1/resolve", h.HandleResolve)
	mux.HandleFunc("POST /api/v1/relocate", h.HandleRelocate)
	mux.HandleFunc("POST /api/v1/sequence", h.HandleSequence)
	mux.HandleFunc("POST /api/v1/estimate", h.HandleEstimate)
	mux.HandleFunc("POST /api/v1/declutter", h.HandleDeclutter)

	// Per-user planning session
	mux.HandleFunc("GET /api/v1/session/{user}", h.HandleGetSession)
	mux.HandleFunc("PUT /api/v1/session/{user}", h.HandleSetSessionCustomers)
	mux.HandleFunc("DELETE /api/v1/session/{user}", h.HandleClearSession)
	mux.HandleFunc("POST /api/v1/session/{user}/stops", h.HandleAddSessionStop)
	mux.HandleFunc("DELETE /api/v1/session/{user}/stops/{id}", h.HandleRemoveSessionStop)
	mux.HandleFunc("POST /api/v1/session/{user}/move", h.HandleMoveSessionStop)
	mux.HandleFunc("POST /api/v1/session/{user}/optimize", h.HandleOptimizeSession)
	mux.HandleFunc("POST /api/v1/session/{user}/estimate", h.HandleEstimateSession)
	mux.HandleFunc("POST /api/v1/session/{user}/relocate", h.HandleRelocateSession)
	mux.HandleFunc("POST /api/v1/session/{user}/save", h.HandleSaveSession)

	// Saved routes
	mux.HandleFunc("GET /api/v1/routes", h.HandleListRoutes)
	mux.HandleFunc("POST /api/v1/routes", h.HandleCreateRoute)
	mux.HandleFunc("GET /api/v1/routes/{id}", h.HandleGetRoute)
	mux.HandleFunc("DELETE /api/v1/routes/{id}", h.HandleDeleteRoute)

	return mux
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		duration := time.Since(start)
		log.Printf("%s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, duration)

		// r.Pattern is filled in by the mux; unmatched requests share one label
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(lrw.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Localhost map clients are always allowed
		if origin == "" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:") ||
			slices.Contains(allowed, origin) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
