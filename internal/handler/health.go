// Package handler contains the HTTP handlers and route wiring.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"image-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	BackendMode     string `json:"backend_mode"`
	IngestionMode   string `json:"ingestion_mode"`
	MaxPayloadBytes int64  `json:"max_payload_bytes"`
	Notifications   bool   `json:"notifications"`
}

// Status reports how the relay is configured. The backend URL is left out
// since it may embed credentials.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:          "ok",
		Version:         string(h.version),
		BackendMode:     h.cfg.Relay.BackendMode,
		IngestionMode:   h.cfg.Relay.IngestionMode,
		MaxPayloadBytes: h.cfg.Relay.MaxPayloadBytes,
		Notifications:   h.cfg.Notify.Enabled(),
	})
}
