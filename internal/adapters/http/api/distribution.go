package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryPage = 20

type supplyResponse struct {
	TotalSupply int64 `json:"total_supply"`
}

// handleDistribute handles GET|POST /distribute[?pool=N].
func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	const op = "api.distribute"
	var pool int64
	if raw := r.FormValue("pool"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("pool must be a positive integer, got %q", raw)))
			return
		}
		pool = n
	}

	evt, err := s.deps.Distribute(r.Context(), pool)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// handleListDistributions handles GET /distributions[?limit=N], newest first.
func (s *Server) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	const op = "api.distributions"
	limit, err := queryLimit(r, defaultHistoryPage)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Distributions(limit))
}

// queryLimit parses the optional non-negative limit query parameter.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

// handleGetDistribution handles GET /distributions/{id}.
func (s *Server) handleGetDistribution(w http.ResponseWriter, r *http.Request) {
	evt, err := s.deps.Distribution(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// handleRetryDistribution handles POST /distributions/{id}/retry.
func (s *Server) handleRetryDistribution(w http.ResponseWriter, r *http.Request) {
	evt, err := s.deps.RetryDistribution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// handleTotal handles GET /total.
func (s *Server) handleTotal(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, supplyResponse{TotalSupply: s.deps.Supply()})
}
