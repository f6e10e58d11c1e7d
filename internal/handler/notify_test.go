package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"image-relay/internal/metrics"
	"image-relay/internal/model"
	"image-relay/internal/notify"
)

type stubSender struct {
	id  string
	err error
	got model.ContactMessage
}

func (s *stubSender) Send(_ context.Context, msg model.ContactMessage) (string, error) {
	s.got = msg
	return s.id, s.err
}

func TestNotifyHandler_Handle(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sender     *stubSender
		wantStatus int
		wantBody   string
		wantResult string
	}{
		{
			name:       "sent",
			body:       `{"name":"Ada","surname":"Lovelace","email":"ada@example.com","message":"hi"}`,
			sender:     &stubSender{id: "<abc@smtp>"},
			wantStatus: http.StatusOK,
			wantBody:   "Message sent: <abc@smtp>",
			wantResult: "sent",
		},
		{
			name:       "malformed json",
			body:       `{"email":`,
			sender:     &stubSender{},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid request body",
			wantResult: "invalid",
		},
		{
			name:       "missing fields",
			body:       `{"name":"Ada"}`,
			sender:     &stubSender{err: notify.ErrInvalidMessage},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Email and message are required",
			wantResult: "invalid",
		},
		{
			name:       "not configured",
			body:       `{"email":"ada@example.com","message":"hi"}`,
			sender:     &stubSender{err: notify.ErrNotConfigured},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "Notification service unavailable",
			wantResult: "unconfigured",
		},
		{
			name:       "provider error",
			body:       `{"email":"ada@example.com","message":"hi"}`,
			sender:     &stubSender{err: &notify.NotificationError{StatusCode: 401, Body: "Key not found"}},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Internal Server Error",
			wantResult: "failed",
		},
		{
			name:       "transport error",
			body:       `{"email":"ada@example.com","message":"hi"}`,
			sender:     &stubSender{err: &notify.NotificationError{Err: errors.New("dial tcp: connection refused")}},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Internal Server Error",
			wantResult: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			h := NewNotifyHandler(tt.sender, testLogger(), m)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/send-email", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()

			if err := h.Handle(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := testutil.ToFloat64(m.Notifications.WithLabelValues(tt.wantResult)); got != 1 {
				t.Errorf("notifications{result=%q} = %v, want 1", tt.wantResult, got)
			}
		})
	}
}

func TestNotifyHandler_BindsFields(t *testing.T) {
	s := &stubSender{id: "1"}
	h := NewNotifyHandler(s, testLogger(), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/send-email",
		strings.NewReader(`{"name":"Ada","surname":"Lovelace","email":"ada@example.com","message":"hello"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := model.ContactMessage{Name: "Ada", Surname: "Lovelace", Email: "ada@example.com", Message: "hello"}
	if s.got != want {
		t.Errorf("sent message = %+v, want %+v", s.got, want)
	}
}
