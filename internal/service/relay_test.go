package service

import (
	"net/http"
	"strings"
	"testing"

	"image-relay/internal/config"
	"image-relay/internal/model"
)

func TestRelay_OutcomeSuccess(t *testing.T) {
	tests := []struct {
		name     string
		fixed    string
		declared string
		want     string
	}{
		{"backend image type kept", "", "image/jpeg", "image/jpeg"},
		{"non-image type replaced", "", "application/octet-stream", "image/png"},
		{"missing type defaults to png", "", "", "image/png"},
		{"configured type wins", "image/webp", "image/jpeg", "image/webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelay(&config.Config{Relay: config.RelayConfig{ResponseContentType: tt.fixed}})
			out := r.Outcome(model.Succeeded(model.BackendSuccess{Body: []byte("img"), ContentType: tt.declared}))

			if out.StatusCode != http.StatusOK {
				t.Errorf("StatusCode = %d, want 200", out.StatusCode)
			}
			if out.ContentType != tt.want {
				t.Errorf("ContentType = %q, want %q", out.ContentType, tt.want)
			}
			if string(out.Body) != "img" {
				t.Errorf("Body = %q, want %q", out.Body, "img")
			}
		})
	}
}

func TestRelay_OutcomeArtifact(t *testing.T) {
	r := NewRelay(&config.Config{})
	out := r.Outcome(model.Succeeded(model.BackendSuccess{
		ArtifactPath: "/srv/output/processed-image-1.png",
		ContentType:  "image/png",
	}))

	if out.FilePath != "/srv/output/processed-image-1.png" {
		t.Errorf("FilePath = %q", out.FilePath)
	}
	if out.Filename != "processed-image-1.png" {
		t.Errorf("Filename = %q, want %q", out.Filename, "processed-image-1.png")
	}
	if out.Body != nil {
		t.Error("Body should be empty when serving an artifact")
	}
}

func TestRelay_OutcomeFailure(t *testing.T) {
	tests := []struct {
		name        string
		passthrough bool
		status      int
		want        int
	}{
		{"503 collapsed to 500", false, http.StatusServiceUnavailable, http.StatusInternalServerError},
		{"503 passed through", true, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"400 passed through", true, http.StatusBadRequest, http.StatusBadRequest},
		{"odd status not passed through", true, 302, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelay(&config.Config{Relay: config.RelayConfig{PassthroughStatus: tt.passthrough}})
			out := r.Outcome(model.Failed(tt.status, "Image could not be loaded.", nil))

			if out.StatusCode != tt.want {
				t.Errorf("StatusCode = %d, want %d", out.StatusCode, tt.want)
			}
			if !strings.HasPrefix(out.ContentType, "text/plain") {
				t.Errorf("ContentType = %q, want text/plain", out.ContentType)
			}
			if string(out.Body) != "Error processing image: Image could not be loaded." {
				t.Errorf("Body = %q", out.Body)
			}
		})
	}
}

func TestRelay_OutcomeNilResult(t *testing.T) {
	out := NewRelay(&config.Config{}).Outcome(nil)
	if out.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", out.StatusCode)
	}
}
