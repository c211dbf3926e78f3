package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	Development = "development"
	Production  = "production"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Addr        string `env:"AUTHO_ADDR"  envDefault:":8000"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://autho.db"`

	JWTPrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH" envDefault:"keys/private.pem"`
	JWTPublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH"  envDefault:"keys/public.pem"`
	JWTIssuer         string        `env:"JWT_ISSUER"           envDefault:"autho"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL"     envDefault:"15m"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL"    envDefault:"168h"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI"`

	AppleClientID       string `env:"APPLE_CLIENT_ID"`
	AppleTeamID         string `env:"APPLE_TEAM_ID"`
	AppleKeyID          string `env:"APPLE_KEY_ID"`
	ApplePrivateKeyPath string `env:"APPLE_PRIVATE_KEY_PATH"`
	AppleRedirectURI    string `env:"APPLE_REDIRECT_URI"`

	CORSOrigins       []string `env:"CORS_ORIGINS"            envSeparator:","`
	AllowedHosts      []string `env:"ALLOWED_HOSTS"           envSeparator:","`
	RedirectAllowlist []string `env:"AUTH_REDIRECT_ALLOWLIST" envSeparator:","`

	RequireState           bool          `env:"AUTH_REQUIRE_STATE"        envDefault:"true"`
	StateTTL               time.Duration `env:"STATE_TTL"                 envDefault:"10m"`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT"          envDefault:"5s"`
	StoreTimeout           time.Duration `env:"STORE_TIMEOUT"             envDefault:"5s"`
	RefreshReuseRevokesAll bool          `env:"REFRESH_REUSE_REVOKES_ALL" envDefault:"true"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"auth_events"`

	ESURL      string `env:"ES_URL"`
	ESUser     string `env:"ES_USER"`
	ESPassword string `env:"ES_PASSWORD"`
	ESIndex    string `env:"ES_INDEX" envDefault:"auth-audit"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}
	return Parse()
}

func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool { return c.Environment == Production }

func (c *Config) GoogleEnabled() bool { return c.GoogleClientID != "" }

func (c *Config) AppleEnabled() bool { return c.AppleClientID != "" }

func (c *Config) Validate() error {
	var errs []error
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be %q or %q", Development, Production))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL"))
	}
	if c.GoogleEnabled() && (c.GoogleClientSecret == "" || c.GoogleRedirectURI == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URI are required with GOOGLE_CLIENT_ID"))
	}
	if c.AppleEnabled() && (c.AppleTeamID == "" || c.AppleKeyID == "" || c.ApplePrivateKeyPath == "" || c.AppleRedirectURI == "") {
		errs = append(errs, errors.New("APPLE_TEAM_ID, APPLE_KEY_ID, APPLE_PRIVATE_KEY_PATH and APPLE_REDIRECT_URI are required with APPLE_CLIENT_ID"))
	}

	if c.IsProduction() {
		if !c.GoogleEnabled() && !c.AppleEnabled() {
			errs = append(errs, errors.New("at least one provider must be configured in production"))
		}
		if len(c.AllowedHosts) == 0 {
			errs = append(errs, errors.New("ALLOWED_HOSTS is required in production"))
		}
		for _, h := range c.AllowedHosts {
			if h == "*" {
				errs = append(errs, errors.New("ALLOWED_HOSTS must not contain a wildcard in production"))
			}
		}
		for _, o := range c.CORSOrigins {
			if o == "*" {
				errs = append(errs, errors.New("CORS_ORIGINS must not contain a wildcard in production"))
			}
		}
	}
	return errors.Join(errs...)
}
