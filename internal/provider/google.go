package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
)

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Overridable for tests; the zero values mean Google's endpoints.
	Endpoint     oauth2.Endpoint
	TokenInfoURL string
	UserInfoURL  string
}

type GoogleClient struct {
	oauth        oauth2.Config
	http         *http.Client
	tokenInfoURL string
	userInfoURL  string
}

func NewGoogle(cfg GoogleConfig, hc *http.Client) (*GoogleClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google: client id and secret are required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	g := &GoogleClient{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		http:         hc,
		tokenInfoURL: cfg.TokenInfoURL,
		userInfoURL:  cfg.UserInfoURL,
	}
	if g.tokenInfoURL == "" {
		g.tokenInfoURL = googleTokenInfoURL
	}
	if g.userInfoURL == "" {
		g.userInfoURL = googleUserInfoURL
	}
	return g, nil
}

func (g *GoogleClient) RedirectURI() string { return g.oauth.RedirectURL }

func (g *GoogleClient) config(redirectURI string) *oauth2.Config {
	c := g.oauth
	if redirectURI != "" {
		c.RedirectURL = redirectURI
	}
	return &c
}

func (g *GoogleClient) AuthCodeURL(state, redirectURI string) string {
	return g.config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (g *GoogleClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResult, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.http)
	tok, err := g.config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrCodeExchangeFailed, err)
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

type googleTokenInfo struct {
	Aud string `json:"aud"`
	Azp string `json:"azp"`
	Sub string `json:"sub"`
}

type googleUserInfo struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// VerifyIdentity checks that the access token was issued to this client
// and then reads the account profile with it.
func (g *GoogleClient) VerifyIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: google: empty access token", ErrIdentityVerificationFailed)
	}

	var info googleTokenInfo
	infoURL := g.tokenInfoURL + "?access_token=" + url.QueryEscape(accessToken)
	if err := getJSON(ctx, g.http, infoURL, "", &info); err != nil {
		return nil, fmt.Errorf("%w: google tokeninfo: %v", ErrIdentityVerificationFailed, err)
	}
	if info.Aud != g.oauth.ClientID && info.Azp != g.oauth.ClientID {
		return nil, fmt.Errorf("%w: google: token audience %q", ErrIdentityVerificationFailed, info.Aud)
	}

	var ui googleUserInfo
	if err := getJSON(ctx, g.http, g.userInfoURL, accessToken, &ui); err != nil {
		return nil, fmt.Errorf("%w: google userinfo: %v", ErrIdentityVerificationFailed, err)
	}
	switch {
	case ui.Sub == "" || ui.Email == "":
		return nil, fmt.Errorf("%w: google: profile is missing sub or email", ErrIdentityVerificationFailed)
	case info.Sub != "" && info.Sub != ui.Sub:
		return nil, fmt.Errorf("%w: google: subject mismatch", ErrIdentityVerificationFailed)
	case !bool(ui.EmailVerified):
		return nil, fmt.Errorf("%w: google: email is not verified", ErrIdentityVerificationFailed)
	}

	return &Identity{
		SubjectID:     ui.Sub,
		Email:         strings.ToLower(strings.TrimSpace(ui.Email)),
		EmailVerified: bool(ui.EmailVerified),
		DisplayName:   ui.Name,
		Picture:       ui.Picture,
	}, nil
}
