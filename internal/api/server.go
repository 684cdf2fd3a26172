package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchanged/internal/broker"
	"exchanged/internal/config"
	"exchanged/internal/diffsync"
	"exchanged/internal/gateway"
)

// Server runs the HTTP/WebSocket API (spec §6.1, §6.2).
type Server struct {
	cfg        config.APIConfig
	hub        *Hub
	handlers   *Handlers
	dispatcher *Dispatcher
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the WebSocket hub and HTTP mux against the gateway
// and diffsync core.
func NewServer(
	cfg config.APIConfig,
	gw *gateway.Gateway,
	gatewayID string,
	br *broker.Broker,
	diffsyncMgr *diffsync.Manager,
	auth Authenticator,
	router OrderRouter,
	metricsReg *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	dispatcher := NewDispatcher(gw, diffsyncMgr, auth, router, logger)
	if br != nil {
		dispatcher.SetBroker(br, gatewayID)
	}
	handlers := NewHandlers(cfg, hub, dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	if cfg.MetricsEnabled {
		if metricsReg != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("/metrics", promhttp.Handler())
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		hub:        hub,
		handlers:   handlers,
		dispatcher: dispatcher,
		httpServer: httpServer,
		logger:     logger.With("component", "api-server"),
	}
}

// Start runs the hub loop and the HTTP server; blocks until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
