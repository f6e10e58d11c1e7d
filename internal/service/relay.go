package service

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"image-relay/internal/config"
	"image-relay/internal/model"
)

const (
	defaultImageType = "image/png"
	textPlain        = "text/plain; charset=utf-8"
)

// Relay turns a BackendResult into the response for the original caller.
type Relay struct {
	fixedContentType  string
	passthroughStatus bool
}

// NewRelay creates a Relay. A configured response_content_type overrides
// whatever the backend declares.
func NewRelay(cfg *config.Config) *Relay {
	return &Relay{
		fixedContentType:  cfg.Relay.ResponseContentType,
		passthroughStatus: cfg.Relay.PassthroughStatus,
	}
}

// Outcome builds the single RelayOutcome for res.
func (r *Relay) Outcome(res *model.BackendResult) *model.RelayOutcome {
	if res == nil || res.Success == nil {
		return r.failure(res)
	}

	s := res.Success
	out := &model.RelayOutcome{
		StatusCode:  http.StatusOK,
		ContentType: r.contentType(s.ContentType),
	}
	if s.ArtifactPath != "" {
		out.FilePath = s.ArtifactPath
		out.Filename = filepath.Base(s.ArtifactPath)
		return out
	}
	out.Body = s.Body
	return out
}

func (r *Relay) failure(res *model.BackendResult) *model.RelayOutcome {
	status := http.StatusInternalServerError
	msg := "no result from backend"
	if res != nil && res.Failure != nil {
		f := res.Failure
		if f.Message != "" {
			msg = f.Message
		}
		if r.passthroughStatus && f.StatusCode >= 400 && f.StatusCode <= 599 {
			status = f.StatusCode
		}
	}

	return &model.RelayOutcome{
		StatusCode:  status,
		ContentType: textPlain,
		Body:        []byte("Error processing image: " + msg),
	}
}

// contentType picks the response media type: the configured one, else the
// backend's if it declares an image, else image/png.
func (r *Relay) contentType(declared string) string {
	if r.fixedContentType != "" {
		return r.fixedContentType
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err == nil && strings.HasPrefix(mt, "image/") {
		return declared
	}
	return defaultImageType
}
