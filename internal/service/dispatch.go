// Package service implements backend dispatch and response shaping for the relay.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"image-relay/internal/client"
	"image-relay/internal/config"
	"image-relay/internal/metrics"
	"image-relay/internal/model"
)

const octetStream = "application/octet-stream"

// maxFailureMessage bounds how much of a backend error body is relayed.
const maxFailureMessage = 512

// Dispatcher sends a payload to the processing backend. Dispatch always
// returns exactly one result; failures are reported in the result, never as
// a separate error.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *model.IncomingPayload) *model.BackendResult
}

// NewDispatcher returns the dispatcher for the configured backend mode.
func NewDispatcher(cfg *config.Config, c *client.BackendClient, logger *slog.Logger, m *metrics.Metrics) Dispatcher {
	if cfg.Relay.BackendMode == config.BackendModeScript {
		return NewScriptDispatcher(cfg, logger, m)
	}
	return NewHTTPDispatcher(cfg, c, logger, m)
}

// HTTPDispatcher posts the payload to a backend URL and buffers the reply.
type HTTPDispatcher struct {
	client          *client.BackendClient
	url             string
	forwardOriginal bool
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// NewHTTPDispatcher creates an HTTPDispatcher.
// The metrics parameter is optional; pass nil to disable backend metrics.
func NewHTTPDispatcher(cfg *config.Config, c *client.BackendClient, logger *slog.Logger, m *metrics.Metrics) *HTTPDispatcher {
	return &HTTPDispatcher{
		client:          c,
		url:             cfg.Relay.BackendURL,
		forwardOriginal: cfg.Relay.ForwardContentType == config.ForwardOriginal,
		logger:          logger.With("component", "http_dispatcher"),
		metrics:         m,
	}
}

// Dispatch makes a single backend call. There is no retry.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, p *model.IncomingPayload) *model.BackendResult {
	br, closeBody, err := d.buildRequest(p)
	if err != nil {
		return model.Failed(http.StatusInternalServerError, "staged payload unavailable", err)
	}
	defer closeBody()

	start := time.Now()
	resp, err := d.client.Post(ctx, br)
	if err != nil {
		d.observe(start, "error")
		d.logger.Error("backend unavailable", "err", err, "size", p.Size)
		return model.Failed(http.StatusInternalServerError, describeTransportError(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	d.observe(start, strconv.Itoa(resp.StatusCode))
	if err != nil {
		d.logger.Error("reading backend response", "err", err, "status", resp.StatusCode)
		return model.Failed(http.StatusInternalServerError, describeTransportError(err), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := failureText(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		d.logger.Warn("backend error", "status", resp.StatusCode, "message", msg)
		return model.Failed(resp.StatusCode, msg, nil)
	}

	return model.Succeeded(model.BackendSuccess{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	})
}

// buildRequest derives the BackendRequest from the payload. Content-Length
// is the exact byte count ingested, which is also what the body will yield.
func (d *HTTPDispatcher) buildRequest(p *model.IncomingPayload) (*model.BackendRequest, func(), error) {
	ct := octetStream
	if d.forwardOriginal && p.ContentType != "" {
		ct = p.ContentType
	}

	br := &model.BackendRequest{
		URL:    d.url,
		Header: http.Header{"Content-Type": {ct}},
		Length: p.Size,
	}

	if !p.Staged() {
		br.Body = bytes.NewReader(p.Data)
		return br, func() {}, nil
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open staged payload: %w", err)
	}
	br.Body = f
	return br, func() { _ = f.Close() }, nil
}

func (d *HTTPDispatcher) observe(start time.Time, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.BackendDuration.WithLabelValues(config.BackendModeHTTP).Observe(time.Since(start).Seconds())
	d.metrics.BackendResponses.WithLabelValues(config.BackendModeHTTP, status).Inc()
}

// describeTransportError turns a client error into a message safe to show the
// caller. The backend URL is left out because it may carry credentials.
func describeTransportError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "backend request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "backend host unreachable: " + dnsErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "backend request timed out"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return "backend connection failed: " + opErr.Err.Error()
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "backend connection failed: " + urlErr.Err.Error()
	}

	return "backend request failed: " + err.Error()
}

// failureText makes a backend error body fit for a plain text response:
// valid UTF-8, printable, trimmed and bounded.
func failureText(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	if len(s) > maxFailureMessage {
		s = strings.ToValidUTF8(s[:maxFailureMessage], "") + "..."
	}
	return s
}
