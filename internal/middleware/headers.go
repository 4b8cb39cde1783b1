package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Permissive CORS values attached to every relay response so that a browser
// page on any origin can read the envelope.
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization, x-credential"
)

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from requests.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}

// RelayCORS sets the permissive CORS headers before the handler runs, so they
// are present on envelopes, error bodies and preflight replies alike. With
// paths given, only requests to those paths get the headers; registered ahead
// of BodyLimit and the rate limiter it also covers their 413 and 429 replies.
func RelayCORS(paths ...string) echo.MiddlewareFunc {
	only := make(map[string]bool, len(paths))
	for _, p := range paths {
		only[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(only) > 0 && !only[c.Request().URL.Path] {
				return next(c)
			}
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, CORSAllowOrigin)
			h.Set(echo.HeaderAccessControlAllowMethods, CORSAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, CORSAllowHeaders)
			return next(c)
		}
	}
}
