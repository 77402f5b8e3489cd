package app

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
)

type plantRequest struct {
	Name              string              `json:"name"`
	Type              string              `json:"type"`
	MoistureThreshold *entities.Threshold `json:"moistureThreshold"`
}

type plantUpdateRequest struct {
	Name              *string             `json:"name"`
	Type              *string             `json:"type"`
	MoistureThreshold *entities.Threshold `json:"moistureThreshold"`
}

type areaRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Plants      []plantRequest `json:"plants"`
}

type areaUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type areaDeviceRequest struct {
	DeviceID   string `json:"deviceId"`
	PlantIndex *int   `json:"plantIndex"`
}

func (p plantRequest) input() registry.PlantInput {
	return registry.PlantInput{Name: p.Name, Type: p.Type, Threshold: p.MoistureThreshold}
}

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := s.Registry.ListAreas(r.Context(), userIDFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, areas)
}

func (s *Server) handleCreateArea(w http.ResponseWriter, r *http.Request) {
	var req areaRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	in := registry.AreaInput{Name: req.Name, Description: req.Description}
	for _, p := range req.Plants {
		in.Plants = append(in.Plants, p.input())
	}
	area, err := s.Registry.CreateArea(r.Context(), userIDFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, area)
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	area, err := s.Registry.GetArea(r.Context(), userIDFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleUpdateArea(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req areaUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	area, err := s.Registry.UpdateArea(r.Context(), userIDFrom(r), id, registry.AreaUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	orphaned, err := s.Registry.DeleteArea(r.Context(), userIDFrom(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if orphaned == nil {
		orphaned = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "unlinkedDevices": orphaned})
}

func (s *Server) handleAddPlant(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req plantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	plant, err := s.Registry.AddPlant(r.Context(), userIDFrom(r), id, req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plant)
}

func (s *Server) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	index, err := parseIndexParam(r, "index")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req plantUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	plant, err := s.Registry.UpdatePlant(r.Context(), userIDFrom(r), id, index, registry.PlantUpdate{
		Name:      req.Name,
		Type:      req.Type,
		Threshold: req.MoistureThreshold,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	index, err := parseIndexParam(r, "index")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stale, err := s.Registry.DeletePlant(r.Context(), userIDFrom(r), id, index)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if stale == nil {
		stale = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": index, "staleDevices": stale})
}

func (s *Server) handleAddAreaDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req areaDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	dev, err := s.Registry.UpdateLink(r.Context(), userIDFrom(r), req.DeviceID, &id, req.PlantIndex)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleRemoveAreaDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "areaID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	userID := userIDFrom(r)
	deviceID := chi.URLParam(r, "deviceID")
	dev, err := s.Registry.GetUserDevice(r.Context(), userID, deviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if dev.AreaID == nil || *dev.AreaID != id {
		s.fail(w, r, fmt.Errorf("%w: device %s is not in area %s", model.ErrValidation, deviceID, id))
		return
	}
	dev, err = s.Registry.UpdateLink(r.Context(), userID, deviceID, nil, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}
