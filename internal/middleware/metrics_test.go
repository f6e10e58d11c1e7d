package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"image-relay/internal/metrics"
)

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/process-image", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "image/png", []byte("\x89PNG"))
	})

	req := httptest.NewRequest(http.MethodPost, "/process-image", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "200", "/process-image"))
	if got != 1 {
		t.Errorf("counter value = %v, want 1", got)
	}
	if v := testutil.ToFloat64(m.RequestsInFlight); v != 0 {
		t.Errorf("in-flight gauge = %v, want 0 after request", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if n := testutil.CollectAndCount(m.RequestDuration, "image_relay_http_request_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestMetricsMiddleware_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		want    string
	}{
		{
			name: "written status",
			handler: func(c echo.Context) error {
				return c.String(http.StatusRequestEntityTooLarge, "too large")
			},
			want: "413",
		},
		{
			name: "echo http error",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusServiceUnavailable)
			},
			want: "503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()

			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.POST("/upload", tt.handler)

			req := httptest.NewRequest(http.MethodPost, "/upload", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", tt.want, "/upload")); got != 1 {
				t.Errorf("requests{status_code=%s} = %v, want 1", tt.want, got)
			}
		})
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/process-image", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/process-image", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// The router does not match non-standard methods, even for Any routes.
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("other", "405", "/process-image")); got != 1 {
		t.Errorf("requests{method=other,status_code=405} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.RequestsTotal); n != 1 {
		t.Errorf("request series = %d, want 1", n)
	}
}

func TestMetricsMiddleware_TrackedPath(t *testing.T) {
	m := metrics.New()
	m.TrackPath("/internal/scrape")

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/internal/scrape", func(c echo.Context) error {
		return c.String(http.StatusOK, "# metrics")
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/scrape", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "200", "/internal/scrape")); got != 1 {
		t.Errorf("requests{path_prefix=/internal/scrape} = %v, want 1", got)
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	req := httptest.NewRequest(http.MethodGet, "/wp-login.php", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "404", "other")); got != 1 {
		t.Errorf("requests{path_prefix=other,status_code=404} = %v, want 1", got)
	}
}
