package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/middleware"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/internal/service"
	"github.com/Skotchmaster/autho/internal/transport"
)

type AuthHTTP struct {
	Svc *service.AuthService
	// SecureCookies marks the login state cookie Secure; off only for
	// plain http development setups.
	SecureCookies bool
}

func clientMeta(c echo.Context) service.ClientMeta {
	return service.ClientMeta{UserAgent: c.Request().UserAgent(), IPAddress: c.RealIP()}
}

func tokenResponse(p *service.Pair) transport.TokenResponse {
	return transport.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    p.ExpiresIn,
	}
}

func providerParam(c echo.Context) (provider.Provider, error) {
	return provider.ParseProvider(c.Param("provider"))
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	p, err := providerParam(c)
	if err != nil {
		return err
	}
	start, err := h.Svc.BeginLogin(ctx, p, c.QueryParam("redirect_uri"), c.QueryParam("state"))
	if err != nil {
		return err
	}

	c.SetCookie(createCookie(stateCookie, start.State, "/auth", start.ExpiresAt, h.SecureCookies))
	l.Info("login_started", "provider", p)
	return c.JSON(http.StatusOK, transport.LoginResponse{
		AuthorizationURL: start.AuthorizationURL,
		State:            start.State,
		ExpiresAt:        start.ExpiresAt,
	})
}

func (h *AuthHTTP) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_callback")

	p, err := providerParam(c)
	if err != nil {
		return err
	}

	var req transport.CallbackRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("callback_error", "status", 400, "error", err)
		return fmt.Errorf("%w: invalid body", service.ErrInvalidRequest)
	}
	formPost := strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm)
	// Apple form posts carry the user object as a JSON string.
	if req.User == nil && formPost {
		if raw := c.FormValue("user"); raw != "" {
			var u transport.AppleUser
			if err := json.Unmarshal([]byte(raw), &u); err == nil {
				req.User = &u
			}
		}
	}

	in := service.CallbackInput{
		Provider:    p,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		IDToken:     req.IDToken,
		NameHint:    req.User.DisplayName(),
		Meta:        clientMeta(c),
	}
	// Browsers only send the SameSite=None cookie on the cross-site form
	// post when it is Secure.
	in.RequireCookie = formPost && h.SecureCookies
	if ck, err := c.Cookie(stateCookie); err == nil {
		in.CookieState = ck.Value
	}

	pair, err := h.Svc.Callback(ctx, in)
	c.SetCookie(deleteCookie(stateCookie, "/auth", h.SecureCookies))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse(pair))
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	var req transport.RefreshRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("refresh_error", "status", 400, "error", err)
		return fmt.Errorf("%w: invalid body", service.ErrInvalidRequest)
	}
	if req.RefreshToken == "" {
		return fmt.Errorf("%w: refresh_token is required", service.ErrInvalidRequest)
	}

	pair, err := h.Svc.Refresh(ctx, req.RefreshToken, clientMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse(pair))
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	var req transport.RefreshRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("logout_error", "status", 400, "error", err)
		return fmt.Errorf("%w: invalid body", service.ErrInvalidRequest)
	}
	if err := h.Svc.Logout(ctx, req.RefreshToken); err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refresh token", "error", err)
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "logged out"})
}

func (h *AuthHTTP) LogOutAll(c echo.Context) error {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return service.ErrInvalidToken
	}
	n, err := h.Svc.LogoutAll(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.LogoutAllResponse{Message: "logged out everywhere", Revoked: n})
}
