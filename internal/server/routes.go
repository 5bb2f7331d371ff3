package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cepweb/gocep/internal/engine"
	"github.com/cepweb/gocep/pkg/forest"
	"github.com/cepweb/gocep/pkg/layout"
	"github.com/cepweb/gocep/pkg/recall"
	"github.com/cepweb/gocep/pkg/view"
)

func (s *Server) handleCreateTUnit(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	u, err := s.engine.CreateTUnit(r.Context(), in)
	if err != nil {
		if errors.Is(err, engine.ErrValenceOutOfBounds) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListTUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.engine.ListTUnits(r.URL.Query().Get("agent"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleGetTUnit(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.GetTUnit(chi.URLParam(r, "tUnitID"))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "t-unit not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteTUnit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteTUnit(chi.URLParam(r, "tUnitID")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TUnitIDs []string `json:"t_unit_ids"`
		AgentID  string   `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	u, err := s.engine.Synthesize(r.Context(), req.TUnitIDs, req.AgentID)
	if err != nil {
		if errors.Is(err, engine.ErrTooFewParents) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TUnitID string `json:"t_unit_id"`
		Anomaly string `json:"anomaly"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	units, err := s.engine.Transform(r.Context(), req.TUnitID, req.Anomaly)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "t-unit not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// handleGraph rebuilds the laid-out forest. previous_nodes is the only
// channel carrying manual position overrides; omitting it resets them.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agents        []string              `json:"agents"`
		PreviousNodes []layout.RenderedNode `json:"previous_nodes"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var filter forest.AgentFilter
	if len(req.Agents) > 0 {
		filter = make(forest.AgentFilter, len(req.Agents))
		for _, agent := range req.Agents {
			filter[agent] = true
		}
	}

	v, err := s.engine.Graph(view.Request{Filter: filter, Previous: req.PreviousNodes})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FocalID           string   `json:"focal_id"`
		Limit             *int     `json:"limit"`
		IncludeCrossAgent bool     `json:"include_cross_agent"`
		ValenceWeight     float64  `json:"valence_weight"`
		Exclude           []string `json:"exclude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// An omitted limit defaults to 5; an explicit 0 means "no results"
	// and flows through to the ranker unchanged.
	limit := 5
	if req.Limit != nil {
		if *req.Limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be non-negative")
			return
		}
		limit = *req.Limit
	}
	if req.ValenceWeight < 0 || req.ValenceWeight > 1 {
		writeError(w, http.StatusBadRequest, "valence_weight must be in [0,1]")
		return
	}

	opts := recall.Options{
		Limit:             limit,
		IncludeCrossAgent: req.IncludeCrossAgent,
		ValenceWeight:     req.ValenceWeight,
	}
	if len(req.Exclude) > 0 {
		opts.Exclude = make(map[string]bool, len(req.Exclude))
		for _, id := range req.Exclude {
			opts.Exclude[id] = true
		}
	}

	suggestions, err := s.engine.Recall(req.FocalID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []recall.Suggestion{}
	}

	// focal_id is echoed so clients can discard responses that arrive
	// after the focus has moved on.
	writeJSON(w, http.StatusOK, map[string]any{
		"focal_id":    req.FocalID,
		"suggestions": suggestions,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGenesisExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGenesisImport(w http.ResponseWriter, r *http.Request) {
	var snap engine.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.engine.Import(&snap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

func (s *Server) handleInitSampleData(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.InitSampleData(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "initialized",
		"count":  n,
	})
}
