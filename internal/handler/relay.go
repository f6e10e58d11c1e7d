package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"image-relay/internal/cleanup"
	"image-relay/internal/ingest"
	"image-relay/internal/model"
	"image-relay/internal/service"
)

const textPlain = "text/plain; charset=utf-8"

// RelayHandler accepts an image upload, forwards it to the processing backend
// and relays the result to the caller.
type RelayHandler struct {
	ingestor   *ingest.Ingestor
	dispatcher service.Dispatcher
	relay      *service.Relay
	cleanup    *cleanup.Coordinator
	logger     *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(
	ing *ingest.Ingestor,
	d service.Dispatcher,
	r *service.Relay,
	cc *cleanup.Coordinator,
	logger *slog.Logger,
) *RelayHandler {
	return &RelayHandler{
		ingestor:   ing,
		dispatcher: d,
		relay:      r,
		cleanup:    cc,
		logger:     logger.With("component", "relay_handler"),
	}
}

// Handle runs one request through ingest, dispatch and relay. Every temporary
// file it creates is removed once the response has been written, whatever
// the outcome.
func (h *RelayHandler) Handle(c echo.Context) error {
	scope := h.cleanup.Begin()
	defer scope.Release()

	req := c.Request()

	p, err := h.ingestor.Ingest(req)
	if err != nil {
		return h.mapError(c, err)
	}
	scope.TrackPayload(p)

	res := h.dispatcher.Dispatch(req.Context(), p)
	if res == nil {
		res = model.Failed(http.StatusInternalServerError, "no result from backend", nil)
	}
	if res.Success != nil && res.Success.ArtifactPath != "" {
		scope.Track(res.Success.ArtifactPath, cleanup.KindArtifact)
	}

	out := h.relay.Outcome(res)
	if res.Failure != nil {
		h.logger.Warn("relaying backend failure",
			"status", out.StatusCode,
			"backend_status", res.Failure.StatusCode,
			"message", res.Failure.Message,
			"filename", p.Filename,
		)
	}

	if err := h.write(c, out); err != nil {
		h.logger.Error("writing response", "err", err, "path", req.URL.Path)
		if !c.Response().Committed {
			c.Response().Header().Del(echo.HeaderContentDisposition)
			return c.Blob(http.StatusInternalServerError, textPlain,
				[]byte("Error processing image: processed file unavailable"))
		}
	}
	return nil
}

func (h *RelayHandler) write(c echo.Context, out *model.RelayOutcome) error {
	if out.FilePath == "" {
		return c.Blob(out.StatusCode, out.ContentType, out.Body)
	}
	c.Response().Header().Set(echo.HeaderContentType, out.ContentType)
	return c.Attachment(out.FilePath, out.Filename)
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, ingest.ErrPayloadTooLarge) {
		h.logger.Warn("upload rejected", "err", err, "path", path)
		return c.Blob(http.StatusRequestEntityTooLarge, textPlain,
			[]byte("Error uploading file: payload exceeds the size limit"))
	}

	var ve *ingest.ValidationError
	if errors.As(err, &ve) {
		h.logger.Warn("upload rejected", "err", err, "path", path)
		msg := "Error uploading file: " + ve.Err.Error()
		if errors.Is(err, ingest.ErrNoFilePresent) {
			msg = "No file uploaded."
		}
		return c.Blob(http.StatusBadRequest, textPlain, []byte(msg))
	}

	h.logger.Error("ingest failed", "err", err, "path", path)
	return c.Blob(http.StatusInternalServerError, textPlain, []byte("Error uploading file"))
}
