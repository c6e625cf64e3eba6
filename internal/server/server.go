// Package server exposes the settlement ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/server/handler"
	"github.com/will87p/betpool/internal/server/middleware"
	"github.com/will87p/betpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// Identity controls caller authentication.
	Identity middleware.IdentityConfig

	// RateLimiter, when non-nil, throttles requests per client IP.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Settle   *handler.SettlementHandler
	Accounts *handler.AccountHandler
	Events   *handler.EventHandler
	Images   *handler.ImageHandler
}

// Server is the HTTP + WebSocket API server for the settlement ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (identity, rate limiting, logging, CORS) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/count", handlers.Markets.MarketCount)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("DELETE /api/markets/{id}", handlers.Markets.DeleteMarket)

	// Stakes.
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{account}", handlers.Bets.GetStake)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Settle.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Settle.ClaimWinnings)

	// Account funding.
	mux.HandleFunc("POST /api/accounts/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/withdraw", handlers.Accounts.Withdraw)
	mux.HandleFunc("GET /api/accounts/{address}/balance", handlers.Accounts.GetBalance)

	// Event feed for indexers.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Market image side-channel.
	if handlers.Images != nil {
		mux.HandleFunc("PUT /api/markets/{id}/image", handlers.Images.PutImage)
		mux.HandleFunc("GET /api/markets/{id}/image", handlers.Images.GetImage)
		mux.HandleFunc("DELETE /api/markets/{id}/image", handlers.Images.DeleteImage)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	h = middleware.Identity(cfg.Identity)(h)

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
