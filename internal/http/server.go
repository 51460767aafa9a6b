// Package http exposes the engine as a JSON API.
//
// Handlers stay thin: parse and validate the request, call the service, map
// domain errors to statuses. Every mutation goes through the security
// middleware, which rate-limits writes per client IP and tags each request
// with an id for tracing.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"finledger/internal/cache"
	"finledger/internal/dps"
	"finledger/internal/rates"
	"finledger/internal/services"
)

type Server struct {
	http.Server
	svc      *services.FinanceService
	dpsMgr   *dps.Manager
	rateProv rates.Provider
	limiter  *rateLimiter
	balances *cache.LRUCache[balanceView]
	cacheMgr *cache.Manager
	shutOnce sync.Once
}

// balanceView is the cached shape of a balance lookup.
type balanceView struct {
	AccountID string `json:"account_id"`
	Units     int64  `json:"units"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// NewServer wires routes and middleware, returning a ready-to-run server.
// rateProv may be nil; transfer requests must then carry an explicit rate.
func NewServer(addr string, svc *services.FinanceService, dpsMgr *dps.Manager, rateProv rates.Provider) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		svc:      svc,
		dpsMgr:   dpsMgr,
		rateProv: rateProv,
		limiter:  newRateLimiter(),
		balances: cache.NewLRUCache[balanceView](500, 30*time.Second),
		cacheMgr: cache.NewManager(),
	}
	s.cacheMgr.Register(s.balances)
	s.cacheMgr.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/accounts", s.withSecurity(s.handleAccounts))
	mux.HandleFunc("/accounts/balance", s.withSecurity(s.handleBalance))
	mux.HandleFunc("/transactions", s.withSecurity(s.handleTransactions))
	mux.HandleFunc("/transfers", s.withSecurity(s.handleTransfers))
	mux.HandleFunc("/rates", s.withSecurity(s.handleRate))
	mux.HandleFunc("/dps/enable", s.withSecurity(s.handleDPSEnable))
	mux.HandleFunc("/dps/disable", s.withSecurity(s.handleDPSDisable))
	mux.HandleFunc("/dps/contribute", s.withSecurity(s.handleDPSContribute))
	mux.HandleFunc("/dps/withdraw", s.withSecurity(s.handleDPSWithdraw))
	mux.HandleFunc("/dps/transfers", s.withSecurity(s.handleDPSTransfers))
	mux.HandleFunc("/allocations", s.withSecurity(s.handleAllocations))
	mux.HandleFunc("/allocations/toggle", s.withSecurity(s.handleAllocationToggle))
	mux.HandleFunc("/allocations/totals", s.withSecurity(s.handleAllocationTotals))
	mux.HandleFunc("/goals", s.withSecurity(s.handleGoals))
	mux.HandleFunc("/goals/add", s.withSecurity(s.handleGoalAdd))

	return s
}

// withSecurity adds request tracing, security headers, and per-IP rate
// limiting on mutating methods.
func (s *Server) withSecurity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := extractClientIP(r)
		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.limiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) invalidateBalance(accountIDs ...string) {
	for _, id := range accountIDs {
		if id != "" {
			s.balances.Delete(id)
		}
	}
}

// Shutdown stops the background cleanup loops and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutOnce.Do(func() {
		s.limiter.stop()
		s.cacheMgr.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
