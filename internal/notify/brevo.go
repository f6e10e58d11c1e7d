// Package notify submits contact form messages to a transactional email API.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"image-relay/internal/config"
	"image-relay/internal/model"
)

// ErrNotConfigured is returned when no API key or recipients are configured.
var ErrNotConfigured = errors.New("notification gateway is not configured")

// ErrInvalidMessage is returned for submissions missing required fields.
var ErrInvalidMessage = errors.New("invalid contact message")

// NotificationError reports a failed submission to the email provider.
type NotificationError struct {
	StatusCode int // 0 for transport failures
	Body       string
	Err        error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send notification: %v", e.Err)
	}
	return fmt.Sprintf("send notification: provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Sender delivers a contact message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg model.ContactMessage) (string, error)
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	Sender      address   `json:"sender"`
	To          []address `json:"to"`
	ReplyTo     *address  `json:"replyTo,omitempty"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// BrevoSender sends through the Brevo (formerly Sendinblue) SMTP API.
type BrevoSender struct {
	client     *resty.Client
	sender     string
	recipients []string
	subject    string
	enabled    bool
	logger     *slog.Logger
}

// NewBrevoSender creates a BrevoSender. It is returned even when the gateway
// is not configured so the route can answer with a clear error.
func NewBrevoSender(cfg *config.Config, logger *slog.Logger) *BrevoSender {
	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Notify.BaseURL, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("api-key", cfg.Notify.APIKey)

	return &BrevoSender{
		client:     cli,
		sender:     cfg.Notify.Sender,
		recipients: cfg.Notify.Recipients,
		subject:    cfg.Notify.Subject,
		enabled:    cfg.Notify.Enabled(),
		logger:     logger.With("component", "brevo_sender"),
	}
}

// Send submits msg to every configured recipient.
func (s *BrevoSender) Send(ctx context.Context, msg model.ContactMessage) (string, error) {
	if !s.enabled {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(msg.Email) == "" || strings.TrimSpace(msg.Message) == "" {
		return "", fmt.Errorf("%w: email and message are required", ErrInvalidMessage)
	}

	to := make([]address, 0, len(s.recipients))
	for _, r := range s.recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, address{Email: r})
		}
	}
	if len(to) == 0 {
		return "", ErrNotConfigured
	}

	sender := s.sender
	if sender == "" {
		sender = to[0].Email
	}

	body := sendRequest{
		Sender:      address{Email: sender},
		To:          to,
		ReplyTo:     &address{Email: msg.Email, Name: strings.TrimSpace(msg.Name + " " + msg.Surname)},
		Subject:     s.subject,
		HTMLContent: renderHTML(msg),
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v3/smtp/email")
	if err != nil {
		return "", &NotificationError{Err: err}
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return "", &NotificationError{
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}

	var sr sendResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		return "", &NotificationError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}

	s.logger.Info("notification sent", "message_id", sr.MessageID, "recipients", len(to))
	return sr.MessageID, nil
}

// renderHTML builds the email body; every user field is escaped.
func renderHTML(msg model.ContactMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>New message received from %s %s (%s):</p>",
		html.EscapeString(msg.Name),
		html.EscapeString(msg.Surname),
		html.EscapeString(msg.Email),
	)
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(msg.Message), "\n", "<br>"))
	b.WriteString("</p>")
	return b.String()
}
