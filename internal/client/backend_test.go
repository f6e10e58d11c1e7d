package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"image-relay/internal/config"
	"image-relay/internal/model"
)

func newTestClient(timeoutSeconds int) *BackendClient {
	cfg := &config.Config{
		Relay: config.RelayConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 4,
		},
	}
	return NewBackendClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBackendClient_Post(t *testing.T) {
	payload := []byte("\x89PNG payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q, want application/octet-stream", got)
		}
		if r.ContentLength != int64(len(payload)) {
			t.Errorf("ContentLength = %d, want %d", r.ContentLength, len(payload))
		}
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(10)
	resp, err := c.Post(context.Background(), &model.BackendRequest{
		URL:    srv.URL + "/process-image",
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   bytes.NewReader(payload),
		Length: int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("body = %q, want %q", got, payload)
	}
}

func TestBackendClient_Post_ConnectionRefused(t *testing.T) {
	c := newTestClient(1)

	_, err := c.Post(context.Background(), &model.BackendRequest{
		URL:    "http://127.0.0.1:1/process-image",
		Header: http.Header{},
		Body:   bytes.NewReader([]byte("x")),
		Length: 1,
	})
	if err == nil {
		t.Fatal("Post() expected error for unreachable host, got nil")
	}
}

func TestBackendClient_Post_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Post(ctx, &model.BackendRequest{
		URL:    srv.URL,
		Header: http.Header{},
		Body:   bytes.NewReader([]byte("x")),
		Length: 1,
	})
	if err == nil {
		t.Fatal("Post() expected error for canceled context, got nil")
	}
}

func TestBackendClient_Post_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(1)
	start := time.Now()
	_, err := c.Post(context.Background(), &model.BackendRequest{
		URL:    srv.URL,
		Header: http.Header{},
		Body:   bytes.NewReader([]byte("x")),
		Length: 1,
	})
	if err == nil {
		t.Fatal("Post() expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Post() took %v, want it bounded by the 1s client timeout", elapsed)
	}
}
