package app

import (
	"net/http"

	"github.com/LeonardoBeccarini/smartgarden/internal/services/irrigation"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	out, err := s.Schedules.List(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var in irrigation.ScheduleInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	sch, err := s.Schedules.Create(r.Context(), userIDFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "scheduleID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sch, err := s.Schedules.Get(r.Context(), userIDFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "scheduleID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in irrigation.ScheduleInput
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	sch, err := s.Schedules.Update(r.Context(), userIDFrom(r), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "scheduleID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Schedules.Delete(r.Context(), userIDFrom(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "scheduleID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sch, err := s.Schedules.Toggle(r.Context(), userIDFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}
