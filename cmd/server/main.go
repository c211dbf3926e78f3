package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/autho/internal/config"
	"github.com/Skotchmaster/autho/internal/db"
	"github.com/Skotchmaster/autho/internal/es"
	"github.com/Skotchmaster/autho/internal/events"
	"github.com/Skotchmaster/autho/internal/httpserver"
	"github.com/Skotchmaster/autho/internal/keys"
	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/mykafka"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/internal/repo"
	"github.com/Skotchmaster/autho/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("env", cfg.Environment)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := db.Migrate(initCtx, gdb, db.DialectOf(cfg.DatabaseURL)); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}
	store := repo.New(gdb)
	if n, err := store.PurgeExpiredStates(initCtx, time.Now()); err != nil {
		logger.Warn("purge_states_failed", "error", err)
	} else if n > 0 {
		logger.Info("purged_expired_states", "count", n)
	}

	km, err := keys.Load(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
	if err != nil {
		log.Fatalf("signing keys: %v", err)
	}
	logger.Info("signing_key_loaded", "kid", km.KeyID())

	registry, err := buildProviders(cfg)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}
	logger.Info("providers_configured", "providers", registry.Providers())

	publisher := buildEvents(initCtx, cfg, logger)

	tokens := &service.TokenService{
		Keys:             km,
		Store:            store,
		Events:           publisher,
		Issuer:           cfg.JWTIssuer,
		AccessTTL:        cfg.AccessTokenTTL,
		RefreshTTL:       cfg.RefreshTokenTTL,
		StoreTimeout:     cfg.StoreTimeout,
		RevokeAllOnReuse: cfg.RefreshReuseRevokesAll,
	}
	auth := &service.AuthService{
		Providers:         registry,
		Tokens:            tokens,
		Store:             store,
		Events:            publisher,
		RedirectAllowlist: cfg.RedirectAllowlist,
		RequireState:      cfg.RequireState,
		StateTTL:          cfg.StateTTL,
	}

	e := echo.New()
	e.HideBanner = true
	httpserver.Register(e, &httpserver.Deps{
		AuthHandler:   &httpserver.AuthHTTP{Svc: auth, SecureCookies: cfg.IsProduction()},
		UserHandler:   &httpserver.UserHTTP{Svc: auth},
		HealthHandler: &httpserver.HealthHTTP{DB: store, Environment: cfg.Environment},
		KeysHandler:   &httpserver.KeysHTTP{Keys: km},
		Authenticator: auth,
		Logger:        logger,
		Production:    cfg.IsProduction(),
		CORSOrigins:   cfg.CORSOrigins,
		AllowedHosts:  cfg.AllowedHosts,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http_server_started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Error("events close error", "error", err)
	}
	if err := db.Close(gdb); err != nil {
		logger.Error("db close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildProviders(cfg *config.Config) (*provider.Registry, error) {
	hc := &http.Client{Timeout: cfg.ProviderTimeout}
	clients := make(map[provider.Provider]provider.Client)

	if cfg.GoogleEnabled() {
		g, err := provider.NewGoogle(provider.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURI:  cfg.GoogleRedirectURI,
		}, hc)
		if err != nil {
			return nil, err
		}
		clients[provider.Google] = g
	}
	if cfg.AppleEnabled() {
		a, err := provider.NewApple(provider.AppleConfig{
			ClientID:       cfg.AppleClientID,
			TeamID:         cfg.AppleTeamID,
			KeyID:          cfg.AppleKeyID,
			PrivateKeyPath: cfg.ApplePrivateKeyPath,
			RedirectURI:    cfg.AppleRedirectURI,
		}, hc)
		if err != nil {
			return nil, err
		}
		clients[provider.Apple] = a
	}
	return provider.NewRegistry(clients), nil
}

const eventQueueSize = 1024

// buildEvents fans out to every configured sink. A sink that cannot be
// reached at startup is skipped rather than blocking logins.
func buildEvents(ctx context.Context, cfg *config.Config, logger *slog.Logger) events.Publisher {
	var sinks events.Multi

	if len(cfg.KafkaBrokers) > 0 {
		prod, err := mykafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Warn("kafka_disabled", "error", err)
		} else {
			sinks = append(sinks, prod)
		}
	}
	if cfg.ESURL != "" {
		idx, err := es.NewAuditIndex(ctx, es.Config{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
			Index:    cfg.ESIndex,
		})
		if err != nil {
			logger.Warn("audit_index_disabled", "error", err)
		} else {
			sinks = append(sinks, idx)
		}
	}

	if len(sinks) == 0 {
		return events.Nop{}
	}
	return events.NewAsync(sinks, eventQueueSize, logger)
}
