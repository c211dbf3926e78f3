package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/internal/repo"
	"github.com/Skotchmaster/autho/internal/service"
	"github.com/Skotchmaster/autho/internal/transport"
)

type apiError struct {
	status  int
	code    string
	message string
}

// toAPIError maps an error to its public presentation. Unknown errors
// become a generic 500 so internal details never reach the client.
func toAPIError(err error) apiError {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		return apiError{http.StatusBadRequest, "authentication_failed", "authentication failed"}
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenRevoked):
		return apiError{http.StatusUnauthorized, "invalid_token", "invalid or expired token"}
	case errors.Is(err, service.ErrUserInactive):
		return apiError{http.StatusUnauthorized, "user_inactive", "user account is inactive"}
	case errors.Is(err, service.ErrUserDisabled):
		return apiError{http.StatusUnauthorized, "user_disabled", "user account is disabled"}
	case errors.Is(err, repo.ErrDuplicateCredential):
		return apiError{http.StatusConflict, "duplicate_credential", "credential already exists"}
	case errors.Is(err, service.ErrInvalidRequest):
		return apiError{http.StatusBadRequest, "invalid_request", err.Error()}
	case errors.Is(err, provider.ErrUnknownProvider):
		return apiError{http.StatusNotFound, "not_found", "unknown provider"}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return apiError{he.Code, codeForStatus(he.Code), msg}
	}
	return apiError{http.StatusInternalServerError, "internal_error", "internal server error"}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "invalid_token"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	}
	return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
}

// ErrorHandler renders every error as the JSON error body.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ae := toAPIError(err)
	if ae.status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
	}
	if ae.status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(ae.status)
	} else {
		werr = c.JSON(ae.status, transport.ErrorResponse{Error: ae.code, Message: ae.message})
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Error("write_error_response", "error", werr)
	}
}
