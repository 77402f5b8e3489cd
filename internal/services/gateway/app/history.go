package app

import (
	"net/http"
)

func (s *Server) handleModeHistory(w http.ResponseWriter, r *http.Request) {
	sum, err := s.History.Mode(r.Context(), userIDFrom(r), r.URL.Query().Get("deviceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePumpHistory(w http.ResponseWriter, r *http.Request) {
	sum, err := s.History.Pump(r.Context(), userIDFrom(r), r.URL.Query().Get("deviceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleMoistureAverages(w http.ResponseWriter, r *http.Request) {
	avgs, err := s.History.MoistureAverages(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avgs)
}
