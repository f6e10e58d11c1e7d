package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"image-relay/internal/metrics"
	"image-relay/internal/model"
	"image-relay/internal/notify"
)

// NotifyHandler forwards contact form submissions to the email gateway.
type NotifyHandler struct {
	sender  notify.Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNotifyHandler creates a NotifyHandler.
// The metrics parameter is optional; pass nil to disable notification metrics.
func NewNotifyHandler(s notify.Sender, logger *slog.Logger, m *metrics.Metrics) *NotifyHandler {
	return &NotifyHandler{
		sender:  s,
		logger:  logger.With("component", "notify_handler"),
		metrics: m,
	}
}

// Handle sends one contact message.
func (h *NotifyHandler) Handle(c echo.Context) error {
	var msg model.ContactMessage
	if err := c.Bind(&msg); err != nil {
		h.count("invalid")
		return c.String(http.StatusBadRequest, "Invalid request body")
	}

	id, err := h.sender.Send(c.Request().Context(), msg)
	if err != nil {
		return h.mapError(c, err)
	}

	h.count("sent")
	return c.String(http.StatusOK, "Message sent: "+id)
}

func (h *NotifyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, notify.ErrInvalidMessage) {
		h.count("invalid")
		return c.String(http.StatusBadRequest, "Email and message are required")
	}

	if errors.Is(err, notify.ErrNotConfigured) {
		h.count("unconfigured")
		h.logger.Warn("contact message dropped", "err", err)
		return c.String(http.StatusServiceUnavailable, "Notification service unavailable")
	}

	h.count("failed")
	h.logger.Error("sending contact message", "err", err)
	return c.String(http.StatusInternalServerError, "Internal Server Error")
}

func (h *NotifyHandler) count(result string) {
	if h.metrics != nil {
		h.metrics.Notifications.WithLabelValues(result).Inc()
	}
}
