// Package server provides HTTP server initialization and lifecycle management
// for the Robi interaction endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/robi/internal/config"
	"github.com/scrypster/robi/internal/metrics"
)

// Version is reported by the health endpoint. Overridden at build time.
var Version = "dev"

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RateLimiter wraps a rate.Limiter for HTTP middleware.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// reqPerSec is the sustained rate, burst is the maximum burst size.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst),
	}
}

// RateLimitMiddleware enforces rate limiting on HTTP requests.
func RateLimitMiddleware(next http.Handler, rl *RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the routing tree: the interaction WebSocket (rate
// limited on upgrade), the health probe and optionally metrics.
func NewHandler(cfg *config.Config, interact http.Handler) http.Handler {
	mux := http.NewServeMux()

	limiter := NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	mux.Handle(cfg.Server.WSPath, RateLimitMiddleware(interact, limiter))

	// Health endpoint, no auth required
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
	})

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	return securityHeadersMiddleware(mux)
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully. It returns the address actually
// bound (useful for testing with port 0) and a channel that is closed once
// the server has stopped.
func Start(ctx context.Context, cfg *config.Config, interact http.Handler) (string, <-chan struct{}, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: interaction connections are long-lived and each
	// session bounds its own writes.
	server := &http.Server{
		Handler:           NewHandler(cfg, interact),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: server: %v", err)
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: server: shutdown: %v", err)
		}
	}()

	return listener.Addr().String(), done, nil
}
