package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/persistence"
)

type fetchRequest struct {
	DeviceID string `json:"deviceId"`
}

type commandRequest struct {
	DeviceID string `json:"deviceId"`
	Channel  string `json:"channel"`
	Value    string `json:"value"`
}

// processDataRequest is posted by devices. Sensor values may be numbers or strings
// and unknown sensors are ignored.
type processDataRequest struct {
	DeviceID string                     `json:"deviceId"`
	Sensors  map[string]json.RawMessage `json:"sensors"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.Fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "feed fetching is not configured")
		return
	}
	var req fetchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		s.fail(w, r, fmt.Errorf("%w: deviceId is required", model.ErrValidation))
		return
	}
	res, err := s.Fetcher.FetchDevice(r.Context(), userIDFrom(r), req.DeviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) readingFilter(r *http.Request) (string, persistence.Filter, error) {
	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" {
		return "", persistence.Filter{}, fmt.Errorf("%w: channel is required", model.ErrValidation)
	}
	known, err := s.channelKnown(r.Context(), channel)
	if err != nil {
		return "", persistence.Filter{}, err
	}
	if !known {
		return "", persistence.Filter{}, fmt.Errorf("%w: channel %s", model.ErrNotFound, channel)
	}
	f := persistence.Filter{UserID: userIDFrom(r), DeviceID: strings.TrimSpace(q.Get("deviceId"))}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return "", f, err
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		return "", f, err
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		return "", f, err
	}
	return channel, f, nil
}

// channelKnown avoids creating reading tables for channels nobody ever reported on.
func (s *Server) channelKnown(ctx context.Context, channel string) (bool, error) {
	if model.IsKnownChannel(channel) {
		return true, nil
	}
	names, err := s.Readings.Tables().Channels(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, channel), nil
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	channel, f, err := s.readingFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reading, err := s.Readings.Latest(r.Context(), channel, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel, f, err := s.readingFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	readings, err := s.Readings.History(r.Context(), channel, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cmd, err := s.Commander.Send(r.Context(), userIDFrom(r), req.DeviceID, req.Channel, req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

func (s *Server) handleProcessData(w http.ResponseWriter, r *http.Request) {
	var req processDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	moisture, err := sensorValue(req.Sensors, "soil_moisture")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.Controller.ProcessDeviceData(r.Context(), req.DeviceID, moisture)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func sensorValue(sensors map[string]json.RawMessage, name string) (float64, error) {
	raw, ok := sensors[name]
	if !ok {
		return 0, fmt.Errorf("%w: sensors.%s is required", model.ErrValidation, name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: sensors.%s: %v", model.ErrValidation, name, err)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: sensors.%s must be a number", model.ErrValidation, name)
}
