package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders apply to a single connection and are never acted on.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from the inbound request and hardens every response. Processed images are
// per-request results, so they are marked uncacheable.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next so the headers are present once the body is written.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if c.Request().Method == http.MethodPost {
				h.Set(echo.HeaderCacheControl, "no-store")
			}

			return next(c)
		}
	}
}
