package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"image-relay/internal/cleanup"
	"image-relay/internal/client"
	"image-relay/internal/config"
	"image-relay/internal/handler"
	"image-relay/internal/ingest"
	"image-relay/internal/metrics"
	"image-relay/internal/middleware"
	"image-relay/internal/notify"
	"image-relay/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("image-relay"),
		kong.Description("Stateless relay between image uploads and an image processing backend."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			cleanup.NewCoordinator,
			ingest.NewIngestor,
			client.NewBackendClient,
			service.NewDispatcher,
			service.NewRelay,
			fx.Annotate(notify.NewBrevoSender, fx.As(new(notify.Sender))),
			handler.NewRelayHandler,
			handler.NewNotifyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, prepareStagingDir, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Uploads can be large and slow; headers cannot.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = cfg.Server.ReadTimeout()
	// Writing waits on the backend, which has its own bound.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// prepareStagingDir makes sure staged uploads have somewhere to go before the
// first request arrives.
func prepareStagingDir(cfg *config.Config) error {
	if cfg.Relay.IngestionMode != config.IngestionStaged {
		return nil
	}
	if err := os.MkdirAll(cfg.Relay.StagingDir, 0o700); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	return nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"version", version,
				"backend_mode", cfg.Relay.BackendMode,
				"ingestion_mode", cfg.Relay.IngestionMode,
				"max_payload_bytes", cfg.Relay.MaxPayloadBytes,
				"notifications", cfg.Notify.Enabled(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
