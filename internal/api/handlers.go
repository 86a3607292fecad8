package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/atlas-desktop/volbalance/internal/explain"
	"github.com/atlas-desktop/volbalance/internal/ports"
)

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		writeError(w, http.StatusBadRequest, errMissingQuery("portfolio_id"))
		return
	}
	positions, err := s.positions.ListByPortfolio(r.Context(), portfolioID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pos, err := s.positions.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleListPositionOrders(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	orders, err := s.orders.ListByPosition(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleListPositionTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trades, err := s.trades.ListByPosition(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// handleExplainTimeline implements the Explainability view's HTTP surface:
// GET /api/v1/positions/{id}/timeline?from=RFC3339&to=RFC3339&aggregate=daily|all&offset=&limit=
func (s *Server) handleExplainTimeline(w http.ResponseWriter, r *http.Request) {
	if s.explain == nil {
		http.Error(w, "explainability not configured", http.StatusNotFound)
		return
	}
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	aggregation := explain.Aggregation(q.Get("aggregate"))

	timeline, err := s.explain.Build(r.Context(), ports.TimelineQuery{PositionID: id, From: from, To: to}, explain.Filter{}, aggregation, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handlePositionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.orch == nil {
		writeError(w, http.StatusNotFound, errOrchestratorUnconfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Status(id))
}

func (s *Server) handlePositionStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.orch == nil {
		writeError(w, http.StatusNotFound, errOrchestratorUnconfigured)
		return
	}
	s.orch.Start(id)
	writeJSON(w, http.StatusOK, map[string]string{"position_id": id, "state": "running"})
}

func (s *Server) handlePositionPause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.orch == nil {
		writeError(w, http.StatusNotFound, errOrchestratorUnconfigured)
		return
	}
	s.orch.Pause(id)
	writeJSON(w, http.StatusOK, map[string]string{"position_id": id, "state": "paused"})
}

func (s *Server) handlePositionResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.orch == nil {
		writeError(w, http.StatusNotFound, errOrchestratorUnconfigured)
		return
	}
	s.orch.Resume(id)
	writeJSON(w, http.StatusOK, map[string]string{"position_id": id, "state": "running"})
}

func (s *Server) handlePositionStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.orch == nil {
		writeError(w, http.StatusNotFound, errOrchestratorUnconfigured)
		return
	}
	s.orch.Stop(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"position_id": id, "state": "stopped"})
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.portfolios.List(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolios)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pf, err := s.portfolios.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

func (s *Server) handleListPortfolioPositions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	positions, err := s.positions.ListByPortfolio(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
