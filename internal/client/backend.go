// Package client provides the outbound HTTP client for the image backend.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"image-relay/internal/config"
	"image-relay/internal/model"
)

const userAgent = "image-relay/1.0"

// BackendClient sends payloads to the image processing backend.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBackendClient creates a BackendClient with connection pooling and a
// bound on the total duration of each call. There is deliberately no limit on
// request or response size; uploads are bounded at ingestion.
func NewBackendClient(cfg *config.Config, logger *slog.Logger) *BackendClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Relay.IdleConnections,
		MaxIdleConnsPerHost: cfg.Relay.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Relay.Timeout(),
		},
		logger: logger.With("component", "backend_client"),
	}
}

// Post sends br to the backend. The caller is responsible for closing the
// response body. The context controls the call's lifetime, so a client
// disconnect cancels the backend request too.
func (c *BackendClient) Post(ctx context.Context, br *model.BackendRequest) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, br.URL, br.Body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header = br.Header.Clone()
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = br.Length

	c.logger.Debug("backend request",
		"url", req.URL.Redacted(),
		"content_type", req.Header.Get("Content-Type"),
		"content_length", br.Length,
	)

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	return resp, nil
}
