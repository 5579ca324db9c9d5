// Package server exposes the agent's HTTP surface: the peer-facing
// protocol endpoints (/swarm/...), the local inbox and outbox API, the
// wake endpoint and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentswarm/swarmgate/pkg/bus"
	"github.com/agentswarm/swarmgate/pkg/config"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/swarm"
	"github.com/agentswarm/swarmgate/pkg/wake"
)

// Server is the agent's HTTP server.
type Server struct {
	cfg     *config.Config
	store   *store.Manager
	bus     *bus.MessageBus
	swarms  *swarm.Service
	waker   *wake.Coordinator
	limiter *ipLimiter
	metrics *Metrics
	server  *http.Server
}

// New wires the HTTP server. waker may be nil when the wake endpoint
// is disabled.
func New(cfg *config.Config, st *store.Manager, mb *bus.MessageBus, svc *swarm.Service, waker *wake.Coordinator) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		bus:     mb,
		swarms:  svc,
		waker:   waker,
		limiter: newIPLimiter(cfg.MessagesPerMinute, time.Minute),
		metrics: NewMetrics(),
	}
}

// Metrics exposes the server's metric set for wiring callbacks.
func (s *Server) MetricSet() *Metrics { return s.metrics }

// routes builds the request mux. Split out from Start so tests can
// exercise the full routing table without a listener.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /swarm/message", s.rateLimitMiddleware(s.handleMessage))
	mux.HandleFunc("POST /swarm/join", s.rateLimitMiddleware(s.handleJoin))
	mux.HandleFunc("GET /swarm/health", s.handleHealth)
	mux.HandleFunc("GET /swarm/info", s.handleInfo)

	mux.HandleFunc("GET /api/inbox", s.handleInboxList)
	mux.HandleFunc("GET /api/inbox/count", s.handleInboxCount)
	mux.HandleFunc("GET /api/inbox/{id}", s.handleInboxGet)
	mux.HandleFunc("POST /api/inbox/{id}/read", s.handleInboxRead)
	mux.HandleFunc("POST /api/inbox/{id}/archive", s.handleInboxArchive)
	mux.HandleFunc("POST /api/inbox/{id}/delete", s.handleInboxDelete)
	mux.HandleFunc("POST /api/inbox/batch", s.handleInboxBatch)

	mux.HandleFunc("GET /api/outbox", s.handleOutboxList)
	mux.HandleFunc("GET /api/outbox/count", s.handleOutboxCount)

	if s.waker != nil {
		mux.HandleFunc("POST /api/wake", s.handleWake)
	}
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Start begins listening on addr. It returns once the listener is
// running; serve errors are logged.
func (s *Server) Start(addr string) error {
	mux := s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.loggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.limiter.sweep()
		}
	}()
	go func() {
		logger.InfoCF("server", "HTTP server starting", map[string]any{"addr": addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("server", "HTTP server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs each request after it completes. Bodies are
// never logged; query strings pass through redaction.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.DebugCF("server", "request", map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"query":    r.URL.RawQuery,
			"status":   rec.status,
			"duration": fmt.Sprintf("%.1fms", float64(time.Since(start).Microseconds())/1000),
			"ip":       clientIP(r),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
