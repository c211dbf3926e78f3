package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/keys"
	"github.com/Skotchmaster/autho/internal/logging"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHTTP struct {
	DB          Pinger
	Environment string
	Now         func() time.Time
}

type healthResponse struct {
	Status      string    `json:"status"`
	Database    string    `json:"database"`
	Environment string    `json:"environment,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *HealthHTTP) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *HealthHTTP) Live(c echo.Context) error { return c.NoContent(http.StatusOK) }

// Ready pings the database; the service is useless without it.
func (h *HealthHTTP) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "connected", Environment: h.Environment, Timestamp: h.now()}
	if err := h.DB.Ping(ctx); err != nil {
		logging.FromContext(ctx).Error("health_check_failed", "error", err)
		resp.Status, resp.Database = "unhealthy", "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type KeysHTTP struct {
	Keys *keys.Manager
}

func (h *KeysHTTP) JWKS(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=300")
	return c.JSON(http.StatusOK, h.Keys.JWKS())
}
