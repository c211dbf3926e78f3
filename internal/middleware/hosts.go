package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AllowedHosts rejects requests whose Host header is not listed. An empty
// list or "*" allows any host.
func AllowedHosts(hosts []string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if h == "*" {
			allowed = nil
			break
		}
		allowed[strings.ToLower(h)] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(allowed) == 0 {
			return next
		}
		return func(c echo.Context) error {
			host := c.Request().Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if _, ok := allowed[strings.ToLower(host)]; !ok {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid host header")
			}
			return next(c)
		}
	}
}
