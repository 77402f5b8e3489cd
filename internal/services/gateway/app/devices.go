package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
)

type deviceRequest struct {
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	Feeds      []string   `json:"feeds"`
	AreaID     *uuid.UUID `json:"areaId"`
	PlantIndex *int       `json:"plantIndex"`
	IsActive   *bool      `json:"isActive"`
}

type deviceUpdateRequest struct {
	DeviceName *string  `json:"deviceName"`
	Feeds      []string `json:"feeds"`
	IsActive   *bool    `json:"isActive"`
}

type linkRequest struct {
	AreaID     *uuid.UUID `json:"areaId"`
	PlantIndex *int       `json:"plantIndex"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.Registry.ListDevices(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dev, err := s.Registry.RegisterDevice(r.Context(), userIDFrom(r), registry.DeviceInput{
		ID:         req.DeviceID,
		Name:       req.DeviceName,
		Channels:   req.Feeds,
		AreaID:     req.AreaID,
		PlantIndex: req.PlantIndex,
		IsActive:   req.IsActive,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

func (s *Server) handleUnassignedDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.Registry.ListUnassignedDevices(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleDeviceMapping(w http.ResponseWriter, r *http.Request) {
	links, err := s.Registry.DeviceAreaMapping(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleDevicesByArea(w http.ResponseWriter, r *http.Request) {
	areaID, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	devs, err := s.Registry.ListDevicesByArea(r.Context(), userIDFrom(r), areaID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.Registry.GetUserDevice(r.Context(), userIDFrom(r), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dev, err := s.Registry.UpdateDevice(r.Context(), userIDFrom(r), chi.URLParam(r, "deviceID"), registry.DeviceUpdate{
		Name:     req.DeviceName,
		Channels: req.Feeds,
		IsActive: req.IsActive,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, deviceID := userIDFrom(r), chi.URLParam(r, "deviceID")
	if err := s.Registry.DeleteDevice(r.Context(), userID, deviceID); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.Schedules != nil {
		if err := s.Schedules.ReleaseDevice(r.Context(), userID, deviceID); err != nil {
			s.log.Warn("failed to release schedules of deleted device", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.Registry.ToggleActive(r.Context(), userIDFrom(r), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleLinkDevice(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dev, err := s.Registry.UpdateLink(r.Context(), userIDFrom(r), chi.URLParam(r, "deviceID"), req.AreaID, req.PlantIndex)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type activeRequest struct {
	DeviceID string `json:"deviceId"`
}

type activeResponse struct {
	ActiveDeviceID   *string `json:"activeDeviceId"`
	PreviousDeviceID *string `json:"previousDeviceId,omitempty"`
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	id, ok, err := s.Arbitrator.GetActive(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var resp activeResponse
	if ok {
		resp.ActiveDeviceID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	prev, err := s.Arbitrator.SetActive(r.Context(), userIDFrom(r), req.DeviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := activeResponse{ActiveDeviceID: &req.DeviceID}
	if prev != "" {
		resp.PreviousDeviceID = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}
