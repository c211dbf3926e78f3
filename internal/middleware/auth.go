package middleware

import (
	"context"
	"errors"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/models"
	"github.com/Skotchmaster/autho/internal/service"
)

const userKey = "user"

// Authenticator resolves a bearer access token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*models.User, error)
}

// authFailure carries errors that are not about the token itself, so they
// survive the translation to ErrInvalidToken below.
type authFailure struct{ err error }

func (e *authFailure) Error() string { return e.err.Error() }
func (e *authFailure) Unwrap() error { return e.err }

// RequireUser rejects requests without a valid bearer access token and
// stores the authenticated user for CurrentUser.
func RequireUser(a Authenticator) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  userKey,
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			u, err := a.Authenticate(c.Request().Context(), auth)
			if err != nil {
				return nil, &authFailure{err: err}
			}
			return u, nil
		},
		SuccessHandler: func(c echo.Context) {
			if u, ok := CurrentUser(c); ok {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.With(req.Context(), "user_id", u.ID)))
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			for _, known := range []error{service.ErrInvalidToken, service.ErrUserInactive, service.ErrUserDisabled} {
				if errors.Is(err, known) {
					return known
				}
			}
			var af *authFailure
			if errors.As(err, &af) {
				return af.err
			}
			return service.ErrInvalidToken
		},
	})
}

// CurrentUser returns the user stored by RequireUser.
func CurrentUser(c echo.Context) (*models.User, bool) {
	u, ok := c.Get(userKey).(*models.User)
	return u, ok && u != nil
}
