package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/services/arbitrator"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/history"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/irrigation"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/telemetry"
)

// Deps are the services behind the HTTP surface. Fetcher, Hub, Health and Metrics may be nil.
type Deps struct {
	Registry   *registry.Registry
	Arbitrator *arbitrator.Arbitrator
	Readings   *persistence.ReadingStore
	Fetcher    *telemetry.Fetcher
	Controller *irrigation.Controller
	Commander  *irrigation.Commander
	Schedules  *irrigation.ScheduleService
	History    *history.Service
	Hub        *Hub
	Health     *Health
	Metrics    http.Handler
	JWTSecret  []byte
	Timeout    time.Duration
	Log        *zap.Logger
}

type Server struct {
	Deps
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	return &Server{Deps: d, log: d.Log}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	if s.Health != nil {
		r.Get("/healthz", s.Health.ServeHealth)
		r.Get("/readyz", s.Health.ServeReady)
	}
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	// devices call this without a user session
	r.With(middleware.Timeout(s.Timeout)).Post("/api/iot/process-data", s.handleProcessData)

	auth := JWTAuth(s.JWTSecret)
	if s.Hub != nil {
		r.With(auth).Get("/ws/readings", s.Hub.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.Timeout(s.Timeout))

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)
			r.Get("/unassigned", s.handleUnassignedDevices)
			r.Get("/mapping", s.handleDeviceMapping)
			r.Get("/area/{areaID}", s.handleDevicesByArea)
			r.Get("/{deviceID}", s.handleGetDevice)
			r.Put("/{deviceID}", s.handleUpdateDevice)
			r.Delete("/{deviceID}", s.handleDeleteDevice)
			r.Post("/{deviceID}/toggle", s.handleToggleDevice)
			r.Put("/{deviceID}/link", s.handleLinkDevice)
		})

		r.Route("/areas", func(r chi.Router) {
			r.Get("/", s.handleListAreas)
			r.Post("/", s.handleCreateArea)
			r.Get("/{areaID}", s.handleGetArea)
			r.Put("/{areaID}", s.handleUpdateArea)
			r.Delete("/{areaID}", s.handleDeleteArea)
			r.Post("/{areaID}/plants", s.handleAddPlant)
			r.Put("/{areaID}/plants/{index}", s.handleUpdatePlant)
			r.Delete("/{areaID}/plants/{index}", s.handleDeletePlant)
			r.Post("/{areaID}/devices", s.handleAddAreaDevice)
			r.Delete("/{areaID}/devices/{deviceID}", s.handleRemoveAreaDevice)
		})

		r.Get("/active-device", s.handleGetActive)
		r.Put("/active-device", s.handleSetActive)

		r.Route("/data", func(r chi.Router) {
			r.Post("/fetch", s.handleFetch)
			r.Get("/latest", s.handleLatest)
			r.Get("/history", s.handleHistory)
			r.Post("/command", s.handleCommand)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/mode", s.handleModeHistory)
			r.Get("/pump", s.handlePumpHistory)
			r.Get("/moisture", s.handleMoistureAverages)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{scheduleID}", s.handleGetSchedule)
			r.Put("/{scheduleID}", s.handleUpdateSchedule)
			r.Delete("/{scheduleID}", s.handleDeleteSchedule)
			r.Post("/{scheduleID}/toggle", s.handleToggleSchedule)
		})
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
