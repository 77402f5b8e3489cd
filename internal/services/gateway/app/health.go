package app

import (
	"context"
	"net/http"
	"time"
)

type ConnChecker interface {
	IsConnectionOpen() bool
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type ErrorAger interface {
	LastErrorAge() time.Duration
}

// Health reports broker, database and persistence state. Influx is optional.
type Health struct {
	MQTT     ConnChecker
	DB       Pinger
	Writer   ErrorAger
	Influx   ErrorAger
	MinError time.Duration
}

type healthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	DatabaseOK      bool    `json:"database_ok"`
	InfluxOK        *bool   `json:"influx_ok,omitempty"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
}

func (h *Health) check(ctx context.Context) healthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthStatus{
		MQTTConnected: h.MQTT != nil && h.MQTT.IsConnectionOpen(),
		DatabaseOK:    h.DB != nil && h.DB.PingContext(ctx) == nil,
	}
	writeOK := true
	if h.Writer != nil {
		age := h.Writer.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		writeOK = age > h.MinError
	}
	influxOK := true
	if h.Influx != nil {
		influxOK = h.Influx.LastErrorAge() > h.MinError
		st.InfluxOK = &influxOK
	}

	switch {
	case st.MQTTConnected && st.DatabaseOK && writeOK && influxOK:
		st.Status = "ok"
	case st.DatabaseOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

func (h *Health) ServeHealth(w http.ResponseWriter, r *http.Request) {
	st := h.check(r.Context())
	code := http.StatusOK
	if st.Status == "down" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// ServeReady answers 200 only when every dependency is ok.
func (h *Health) ServeReady(w http.ResponseWriter, r *http.Request) {
	ready := h.check(r.Context()).Status == "ok"
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}
