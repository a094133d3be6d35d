package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/probebench/internal/device"
)

// Handler builds the HTTP router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/streams", s.handleListStreams)
		r.Get("/drivers", s.handleListDrivers)
		r.Get("/drivers/{name}", s.handleGetDriver)
		r.Get("/devices", s.handleListDevices)
	})

	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

// handleHealth reports liveness plus broker and hub counters.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
		"broker":     s.broker.Stats(),
	}
	if !s.started.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	}
	if s.inventory != nil {
		resp["drivers"] = len(s.inventory.ListDrivers())
		resp["devices"] = len(s.inventory.GetAllDevices())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListStreams returns the broker's channel table.
func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	channels := s.broker.Channels()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
		"stats":    s.broker.Stats(),
	})
}

// handleListDrivers returns a descriptor per loaded driver.
func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	if s.inventory == nil {
		writeUnavailable(w, "driver inventory not available")
		return
	}
	names := s.inventory.ListDrivers()
	drivers := make([]any, 0, len(names))
	for _, name := range names {
		d, err := s.inventory.Describe(name)
		if err != nil {
			continue // unloaded between list and describe
		}
		drivers = append(drivers, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": drivers,
		"count":   len(drivers),
	})
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeUnavailable(w, "driver inventory not available")
		return
	}
	name := chi.URLParam(r, "name")
	d, err := s.inventory.Describe(name)
	if err != nil {
		writeNotFound(w, "driver not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListDevices returns the device store contents, optionally filtered
// by ?driver=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeUnavailable(w, "device inventory not available")
		return
	}
	driverName := r.URL.Query().Get("driver")

	entries := s.inventory.GetAllDevices()
	devices := make([]device.Entry, 0, len(entries))
	for _, e := range entries {
		if driverName != "" && e.Device.Driver != driverName {
			continue
		}
		devices = append(devices, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
