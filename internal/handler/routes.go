package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"image-relay/internal/config"
	"image-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	relay *RelayHandler,
	notify *NotifyHandler,
	health *HealthHandler,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	e.POST("/process-image", relay.Handle)
	e.POST("/upload", relay.Handle)

	if n := cfg.Notify.BodyMaxBytes; n > 0 {
		e.POST("/send-email", notify.Handle, echomw.BodyLimit(fmt.Sprintf("%dB", n)))
	} else {
		e.POST("/send-email", notify.Handle)
	}

	if cfg.Metrics.Enabled && m != nil {
		m.TrackPath(cfg.Metrics.Path)
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	if cfg.Server.StaticDir != "" {
		e.Static("/", cfg.Server.StaticDir)
	}
}
