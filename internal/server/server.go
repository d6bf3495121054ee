// Package server provides the HTTP API for exportstudio.
package server

import (
	"cmp"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"exportstudio/internal/exporter"
	"exportstudio/internal/home"
	"exportstudio/internal/jobs"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// RateLimit caps mutating requests per second per client IP.
	// Zero means the default of 5/s with a burst of 10.
	RateLimit rate.Limit
	RateBurst int
}

// Server is the HTTP API server. It owns no domain state; everything lives in
// the store and the home directory.
type Server struct {
	store    *store.Store
	home     home.Dir
	coord    *jobs.Coordinator
	exporter *exporter.Exporter
	logger   *slog.Logger

	limiter *rateLimiter

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	shutdown chan struct{}
	inFlight sync.WaitGroup // tracks in-flight requests for graceful drain
	draining atomic.Bool    // true when server is draining (rejecting new requests)

	cleanupCancel context.CancelFunc
	cleanupWG     sync.WaitGroup
}

// New creates a new Server.
func New(s *store.Store, h home.Dir, coord *jobs.Coordinator, cfg Config) *Server {
	limit := cfg.RateLimit
	if limit == 0 {
		limit = 5
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = 10
	}
	logger := logging.Default(cfg.Logger)
	return &Server{
		store:    s,
		home:     h,
		coord:    coord,
		exporter: exporter.New(s, logger),
		logger:   logger.With("component", "server"),
		limiter:  newRateLimiter(limit, burst),
		shutdown: make(chan struct{}),
	}
}

// registerProbes adds liveness and readiness probe endpoints.
func (s *Server) registerProbes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.draining.Load() && s.store.Ping(r.Context()) == nil {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}

// isLoopback returns true if host is a loopback address (localhost, 127.0.0.1, ::1).
func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// corsMiddleware adds CORS headers for browser clients.
// Only allows same-origin requests; never reflects arbitrary Origin. For
// loopback (dev with a proxy), allows Origin from any loopback host.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			sameOrigin := scheme + "://" + r.Host
			allowed := origin == sameOrigin
			if !allowed {
				reqHost, _, _ := net.SplitHostPort(r.Host)
				reqHost = cmp.Or(reqHost, r.Host)
				if isLoopback(reqHost) {
					if u, err := url.Parse(origin); err == nil {
						oHost, _, _ := net.SplitHostPort(u.Host)
						if oHost == "" {
							oHost = u.Host
						}
						allowed = isLoopback(oHost)
					}
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// trackingMiddleware wraps an http.Handler to track in-flight requests.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// buildMux creates a ServeMux with all API routes and probe endpoints registered.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)

	mux.HandleFunc("GET /api/export/markdown", s.handleExportMarkdown)
	mux.HandleFunc("POST /api/export/jsonl", s.handleExportJSONL)
	mux.HandleFunc("POST /api/export/pairs", s.handleExportPairs)
	mux.HandleFunc("POST /api/export/obsidian", s.handleExportObsidian)

	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/check", s.handleCheckJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/stream", s.handleStreamJob)
	mux.HandleFunc("GET /api/jobs/{id}/download", s.handleDownloadJob)

	s.registerProbes(mux)
	return mux
}

// Serve starts the server on the given listener.
// It blocks until the server is stopped or an error occurs.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener

	mux := s.buildMux()
	handler := s.trackingMiddleware(
		rateLimitMiddleware(s.limiter)(
			s.corsMiddleware(compressMiddleware(mux))))
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel
	s.limiter.startCleanup(cleanupCtx, &s.cleanupWG, 5*time.Minute, 15*time.Minute)

	s.logger.Info("server starting", "addr", listener.Addr().String())

	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Stop gracefully stops the server, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if s.cleanupCancel != nil {
		s.cleanupCancel()
		s.cleanupWG.Wait()
	}

	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	s.draining.Store(true)
	s.inFlight.Wait()
	return server.Shutdown(ctx)
}

// Shutdown signals the serve loop to exit. Used by signal handlers.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// ShutdownChan returns a channel that is closed when shutdown is initiated.
func (s *Server) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// Handler returns the fully assembled http.Handler.
// Useful for testing or embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.trackingMiddleware(
		rateLimitMiddleware(s.limiter)(
			s.corsMiddleware(compressMiddleware(s.buildMux()))))
}
