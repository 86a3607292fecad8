// Package api provides the engine's REST admin façade and live WebSocket
// event stream, grounded on the teacher's internal/api/server.go: the same
// gorilla/mux router, rs/cors middleware, and http.Server wiring, retargeted
// from backtest-run/data-history endpoints to this engine's
// positions/portfolios/orders/alerts/explainability surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/volbalance/internal/explain"
	"github.com/atlas-desktop/volbalance/internal/live"
	"github.com/atlas-desktop/volbalance/internal/ports"
)

// Config carries the server's bind address and timeouts, mirroring the
// teacher's types.ServerConfig shape without depending on its package.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sane development defaults.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 8080, ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second}
}

// Server is the HTTP/WebSocket admin façade in front of the live engine.
type Server struct {
	logger *zap.Logger
	cfg    Config
	router *mux.Router
	http   *http.Server
	hub    *Hub

	positions  ports.PositionsRepo
	portfolios ports.PortfoliosRepo
	orders     ports.OrdersRepo
	trades     ports.TradesRepo
	alerts     ports.AlertRepo
	explain    *explain.Service
	orch       *live.Orchestrator

	// metricsHandler, when set, is mounted at GET /metrics. cmd/engine wires
	// this to internal/metrics's promhttp handler; it stays nil (404) for
	// callers that never configure metrics, e.g. simulation-only runs.
	metricsHandler http.Handler
}

// NewServer constructs an admin Server and registers its routes.
func NewServer(logger *zap.Logger, cfg Config, positions ports.PositionsRepo, portfolios ports.PortfoliosRepo, orders ports.OrdersRepo, trades ports.TradesRepo, alerts ports.AlertRepo, explainSvc *explain.Service, orch *live.Orchestrator, metricsHandler http.Handler) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:         logger,
		cfg:            cfg,
		router:         mux.NewRouter(),
		hub:            NewHub(logger),
		positions:      positions,
		portfolios:     portfolios,
		orders:         orders,
		trades:         trades,
		alerts:         alerts,
		explain:        explainSvc,
		orch:           orch,
		metricsHandler: metricsHandler,
	}
	s.setupRoutes()
	go s.hub.Run()
	return s
}

// Hub exposes the WebSocket broadcast hub so callers (the alert worker, the
// live scheduler) can push updates to connected clients.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/positions", s.handleListPositions).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}", s.handleGetPosition).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}/orders", s.handleListPositionOrders).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}/trades", s.handleListPositionTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}/timeline", s.handleExplainTimeline).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}/status", s.handlePositionStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions/{id}/start", s.handlePositionStart).Methods("POST")
	s.router.HandleFunc("/api/v1/positions/{id}/pause", s.handlePositionPause).Methods("POST")
	s.router.HandleFunc("/api/v1/positions/{id}/resume", s.handlePositionResume).Methods("POST")
	s.router.HandleFunc("/api/v1/positions/{id}/stop", s.handlePositionStop).Methods("POST")

	s.router.HandleFunc("/api/v1/portfolios", s.handleListPortfolios).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolios/{id}", s.handleGetPortfolio).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolios/{id}/positions", s.handleListPortfolioPositions).Methods("GET")

	s.router.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods("GET")

	s.router.HandleFunc("/api/v1/alerts", s.handleListAlerts).Methods("GET")

	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the HTTP server and every WebSocket connection down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "time": time.Now().UTC()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsHandler == nil {
		http.Error(w, "metrics not configured", http.StatusNotFound)
		return
	}
	s.metricsHandler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
