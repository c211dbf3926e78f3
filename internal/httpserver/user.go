package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/middleware"
	"github.com/Skotchmaster/autho/internal/service"
	"github.com/Skotchmaster/autho/internal/transport"
)

type UserHTTP struct {
	Svc *service.AuthService
}

func (h *UserHTTP) Me(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return service.ErrInvalidToken
	}
	return c.JSON(http.StatusOK, transport.NewUserResponse(u))
}

func (h *UserHTTP) UpdateMe(c echo.Context) error {
	ctx := c.Request().Context()
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return service.ErrInvalidToken
	}

	var req transport.UserUpdateRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn("update_user_error", "handler", "user_update", "status", 400, "error", err)
		return fmt.Errorf("%w: invalid body", service.ErrInvalidRequest)
	}
	upd := req.Update()
	if upd.Empty() {
		return c.JSON(http.StatusOK, transport.NewUserResponse(u))
	}

	updated, err := h.Svc.UpdateProfile(ctx, u.ID, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.NewUserResponse(updated))
}

func (h *UserHTTP) DeleteMe(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return service.ErrInvalidToken
	}
	if err := h.Svc.Deactivate(c.Request().Context(), u.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "account deactivated"})
}
