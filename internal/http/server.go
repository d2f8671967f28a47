package http

import (
	"context"
	"net/http"
	"net/netip"
	"sync/atomic"
	"sync"
	"time"

	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/predict"
)

const (
	defaultRateLimit = 60
	recentCount      = 5
	maxBodyBytes     = 1 << 20
)

type Server struct {
	http.Server
	ledger      *ledger.Store
	predictions *predict.Flow
	rateLimiter *rateLimiter
	clients     clientResolver
	metrics     *securityMetrics
	logger      *log.Logger
	security    *log.Logger
	limits      *log.Logger
	access      *log.StructuredLogger
	started     time.Time

	shutdownOnce sync.Once
}

type ServerOption func(*Server)

// WithRateLimit sets the number of mutating requests a client may make per minute.
func WithRateLimit(n int) ServerOption {
	return func(s *Server) { s.rateLimiter = newRateLimiter(n, time.Minute) }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// identifies the client.
func WithTrustedProxies(prefixes ...netip.Prefix) ServerOption {
	return func(s *Server) { s.clients = clientResolver{proxies: prefixes} }
}

// NewServer configures routes, returning a ready-to-run http.Server. A nil
// flow disables predictions.
func NewServer(addr string, store *ledger.Store, flow *predict.Flow, logger *log.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if flow == nil {
		flow = predict.NewFlow(nil)
	}
	httpLogger := logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ledger:      store,
		predictions: flow,
		metrics:     &securityMetrics{},
		logger:      httpLogger,
		security:    logger.WithComponent(log.ComponentSecurity),
		limits:      logger.WithComponent(log.ComponentRateLimit),
		access:      log.NewStructuredLogger(httpLogger),
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rateLimiter == nil {
		s.rateLimiter = newRateLimiter(defaultRateLimit, time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("POST /api/expenses", s.handleAddExpense)
	mux.HandleFunc("POST /api/funds", s.handleAddFunds)
	mux.HandleFunc("PUT /api/balance", s.handleUpdateBalance)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/reports", s.handleReport)
	mux.HandleFunc("POST /api/predictions", s.handlePredict)

	var handler http.Handler = s.withSecurityHeaders(mux)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get(requestIDHeader)
	})(handler)
	handler = withRequestID(handler)
	handler = log.Middleware(httpLogger)(handler)
	s.Handler = handler

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

const requestIDHeader = "X-Request-ID"

// withRequestID keeps a sane inbound X-Request-ID or assigns a new one, and
// echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeInput(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = generateRequestID()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := s.clients.clientIP(r)
		requestID := r.Header.Get(requestIDHeader)

		if reason := suspicionReason(r); reason != "" {
			atomic.AddInt64(&s.metrics.suspiciousRequests, 1)
			s.security.WarnContext(ctx, "Suspicious request",
				"reason", reason,
				log.FieldRequestID, requestID,
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		if isMutating(r.Method) && !s.rateLimiter.allow(clientIP, s.metrics) {
			s.limits.WarnContext(ctx, "Rate limit exceeded",
				log.FieldRequestID, requestID,
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.access.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
