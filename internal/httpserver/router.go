package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/middleware"
)

type Deps struct {
	AuthHandler   *AuthHTTP
	UserHandler   *UserHTTP
	HealthHandler *HealthHTTP
	KeysHandler   *KeysHTTP
	Authenticator middleware.Authenticator
	Logger        *slog.Logger

	Production   bool
	CORSOrigins  []string
	AllowedHosts []string
}

func Common(d *Deps) []echo.MiddlewareFunc {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	mws := []echo.MiddlewareFunc{
		ecM.Recover(),
		ecM.RequestID(),
		middleware.RequestLogger(logger),
		ecM.SecureWithConfig(ecM.SecureConfig{
			XSSProtection:         "1; mode=block",
			ContentTypeNosniff:    "nosniff",
			XFrameOptions:         "DENY",
			HSTSMaxAge:            31536000,
			ContentSecurityPolicy: "default-src 'self'",
			ReferrerPolicy:        "strict-origin-when-cross-origin",
		}),
	}
	if len(d.CORSOrigins) > 0 {
		mws = append(mws, ecM.CORSWithConfig(ecM.CORSConfig{
			AllowOrigins:     d.CORSOrigins,
			AllowCredentials: true,
		}))
	}
	mws = append(mws, ecM.GzipWithConfig(ecM.GzipConfig{MinLength: 1000}))
	if d.Production {
		mws = append(mws, middleware.AllowedHosts(d.AllowedHosts))
	}
	return mws
}

func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = ErrorHandler
	if d.Production {
		e.Pre(ecM.HTTPSRedirect())
	}
	e.Use(Common(d)...)

	e.GET("/health", d.HealthHandler.Ready)
	e.GET("/health/live", d.HealthHandler.Live)
	e.GET("/health/ready", d.HealthHandler.Ready)
	e.GET("/.well-known/jwks.json", d.KeysHandler.JWKS)

	requireUser := middleware.RequireUser(d.Authenticator)

	auth := e.Group("/auth")
	auth.GET("/:provider/login", d.AuthHandler.Login)
	auth.POST("/:provider/callback", d.AuthHandler.Callback)
	auth.POST("/refresh", d.AuthHandler.Refresh)
	auth.POST("/logout", d.AuthHandler.LogOut)
	auth.POST("/logout/all", d.AuthHandler.LogOutAll, requireUser)

	user := e.Group("/user", requireUser)
	user.GET("/me", d.UserHandler.Me)
	user.PUT("/me", d.UserHandler.UpdateMe)
	user.DELETE("/me", d.UserHandler.DeleteMe)
}
