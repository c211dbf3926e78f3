package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleIssuer   = "https://appleid.apple.com"
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
	appleKeysURL  = "https://appleid.apple.com/auth/keys"

	// Apple rejects client secrets valid for longer than six months.
	maxAppleSecretTTL = 180 * 24 * time.Hour
)

type AppleConfig struct {
	ClientID       string
	TeamID         string
	KeyID          string
	PrivateKeyPath string
	RedirectURI    string

	PrivateKey *ecdsa.PrivateKey
	SecretTTL  time.Duration

	// Overridable for tests; the zero values mean Apple's endpoints.
	AuthURL  string
	TokenURL string
	KeysURL  string
	Now      func() time.Time
}

type AppleClient struct {
	clientID    string
	teamID      string
	keyID       string
	redirectURI string
	key         *ecdsa.PrivateKey
	secretTTL   time.Duration
	endpoint    oauth2.Endpoint
	http        *http.Client
	verifier    *oidc.IDTokenVerifier
	now         func() time.Time
}

func NewApple(cfg AppleConfig, hc *http.Client) (*AppleClient, error) {
	if cfg.ClientID == "" || cfg.TeamID == "" || cfg.KeyID == "" {
		return nil, errors.New("apple: client id, team id and key id are required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	key := cfg.PrivateKey
	if key == nil {
		raw, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("apple: read private key: %w", err)
		}
		key, err = jwt.ParseECPrivateKeyFromPEM(raw)
		if err != nil {
			return nil, fmt.Errorf("apple: parse private key: %w", err)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.SecretTTL
	if ttl <= 0 || ttl > maxAppleSecretTTL {
		ttl = maxAppleSecretTTL
	}
	a := &AppleClient{
		clientID:    cfg.ClientID,
		teamID:      cfg.TeamID,
		keyID:       cfg.KeyID,
		redirectURI: cfg.RedirectURI,
		key:         key,
		secretTTL:   ttl,
		endpoint: oauth2.Endpoint{
			AuthURL:   orDefault(cfg.AuthURL, appleAuthURL),
			TokenURL:  orDefault(cfg.TokenURL, appleTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		http: hc,
		now:  now,
	}
	// Key downloads run on their own context, bounded by hc's timeout, so a
	// cancelled callback does not fail the others waiting on the same fetch.
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), hc), orDefault(cfg.KeysURL, appleKeysURL))
	a.verifier = oidc.NewVerifier(appleIssuer, keySet, &oidc.Config{
		ClientID:             cfg.ClientID,
		SupportedSigningAlgs: []string{oidc.RS256},
		Now:                  now,
	})
	return a, nil
}

func (a *AppleClient) RedirectURI() string { return a.redirectURI }

func (a *AppleClient) config(secret, redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = a.redirectURI
	}
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: secret,
		RedirectURL:  redirectURI,
		Endpoint:     a.endpoint,
		Scopes:       []string{"name", "email"},
	}
}

func (a *AppleClient) AuthCodeURL(state, redirectURI string) string {
	// Apple posts the callback as a form when name or email is requested.
	return a.config("", redirectURI).AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// ClientSecret mints the short-lived ES256 assertion Apple accepts in place
// of a static client secret.
func (a *AppleClient) ClientSecret() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.teamID,
		Subject:   a.clientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.secretTTL)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = a.keyID
	return t.SignedString(a.key)
}

func (a *AppleClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResult, error) {
	secret, err := a.ClientSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: apple: client secret: %v", ErrCodeExchangeFailed, err)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.http)
	tok, err := a.config(secret, redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: apple: %v", ErrCodeExchangeFailed, err)
	}
	res := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idt, ok := tok.Extra("id_token").(string); ok {
		res.IDToken = idt
	}
	return res, nil
}

type appleIDClaims struct {
	Email          string   `json:"email"`
	EmailVerified  flexBool `json:"email_verified"`
	IsPrivateEmail flexBool `json:"is_private_email"`
}

// VerifyIdentity validates an Apple id_token against Apple's published keys.
// Signature, issuer, audience and expiry are checked by the oidc verifier.
func (a *AppleClient) VerifyIdentity(ctx context.Context, idToken string) (*Identity, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: apple: empty id token", ErrIdentityVerificationFailed)
	}
	tok, err := a.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: apple: %v", ErrIdentityVerificationFailed, err)
	}
	var claims appleIDClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: apple: decode claims: %v", ErrIdentityVerificationFailed, err)
	}
	if tok.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: apple: token is missing sub or email", ErrIdentityVerificationFailed)
	}
	return &Identity{
		SubjectID:      tok.Subject,
		Email:          strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified:  bool(claims.EmailVerified),
		IsPrivateEmail: bool(claims.IsPrivateEmail),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
