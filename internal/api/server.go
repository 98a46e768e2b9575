// Package api exposes the HTTP and WebSocket surface of the backend:
// market listings, order-book depth, candles, positions, trade preparation
// and wallet-nonce authentication under /api/v1, plus /health and the /ws
// stream endpoint.
//
// Handlers are thin request→service translations; every domain decision
// lives in the services they call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"market-intel/internal/bus"
	"market-intel/internal/config"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	server   *http.Server
	handlers *Handlers
	hub      *Hub
	log      zerolog.Logger
}

// NewServer wires the router.
func NewServer(cfg *config.Config, h *Handlers, b *bus.Bus, log zerolog.Logger) *Server {
	hub := NewHub(b, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if cfg.CORS.Origin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{cfg.CORS.Origin},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Wallet", "X-Nonce", "X-Signature"},
		}))
	}

	r.Get("/health", h.Health)
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/markets", h.ListMarkets)
		r.Get("/markets/{id}", h.GetMarket)
		r.Get("/markets/{id}/orderbook", h.GetOrderbook)
		r.Get("/markets/{id}/candles", h.GetMarketCandles)
		r.Get("/instruments/{id}/candles", h.GetInstrumentCandles)
		r.Get("/instruments/{id}/signals", h.GetInstrumentSignals)
		r.Get("/auth/nonce", h.GetNonce)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireWallet)
			r.Get("/positions/{wallet}", h.GetPositions)
			r.Post("/trades/prepare", h.PrepareTrade)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		server:   srv,
		handlers: h,
		hub:      hub,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Start blocks serving until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}
