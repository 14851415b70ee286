package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"piggysaving/internal/core"
	"piggysaving/internal/log"
	"piggysaving/internal/remote"
)

const maxRequestBytes = 4 << 10

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAll returns every saving, or every cost when withdraw is set, keyed
// by record ID. Map order carries no meaning; clients sort by date.
func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	var req remote.AllRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out := make(map[string]remote.WireRecord)
	if req.Withdraw {
		costs, err := s.repo.FetchCosts(r.Context())
		if err != nil {
			s.internalError(w, r, "Failed to fetch costs", err, log.OpRefresh)
			return
		}
		for _, c := range costs {
			out[c.ID] = remote.NewWireCost(c)
		}
	} else {
		savings, err := s.repo.FetchSavings(r.Context())
		if err != nil {
			s.internalError(w, r, "Failed to fetch savings", err, log.OpRefresh)
			return
		}
		for _, sv := range savings {
			out[sv.ID] = remote.NewWireSaving(sv)
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSum(w http.ResponseWriter, r *http.Request) {
	sum, err := s.repo.Sum(r.Context())
	if err != nil {
		s.internalError(w, r, "Failed to compute sum", err, log.OpRefresh)
		return
	}
	writeJSON(w, http.StatusOK, remote.SumResponse{Sum: json.Number(sum.StringFixed(2))})
}

// handleSave confirms the saving for the given date. A request to unconfirm
// is answered with false since confirmation never reverts.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req remote.SaveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Saved {
		writeJSON(w, http.StatusOK, false)
		return
	}

	if err := s.repo.MarkConfirmed(r.Context(), date); err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "no saving for "+date.String())
			return
		}
		s.internalError(w, r, "Failed to confirm saving", err, log.OpConfirm)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogSavingConfirmed(r.Context(), "server", date.String())
	writeJSON(w, http.StatusOK, true)
}

// handleLast returns the latest proposal keyed by its date, or an empty
// mapping when nothing has been proposed yet.
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]remote.WireLast)
	last, err := s.repo.Last(r.Context())
	switch {
	case errors.Is(err, core.ErrRecordNotFound):
	case err != nil:
		s.internalError(w, r, "Failed to fetch last saving", err, log.OpRefresh)
		return
	default:
		out[last.Date.String()] = remote.WireLast{
			Amount: json.Number(last.Amount.StringFixed(2)),
			Saved:  remote.Flag(last.Confirmed),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error, op string) {
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogError(r.Context(), msg, err, op, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.UserAgent()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
