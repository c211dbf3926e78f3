// Package provider talks to the external identity providers.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Provider string

const (
	Google Provider = "google"
	Apple  Provider = "apple"
)

// defaultHTTPTimeout applies when a client is built without an http.Client.
const defaultHTTPTimeout = 5 * time.Second

var (
	ErrUnknownProvider            = errors.New("unknown provider")
	ErrCodeExchangeFailed         = errors.New("code exchange failed")
	ErrIdentityVerificationFailed = errors.New("identity verification failed")
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case Google, Apple:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// TokenResult is what a provider hands back for an authorization code.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Identity is the verified profile of a provider account.
type Identity struct {
	SubjectID      string
	Email          string
	EmailVerified  bool
	DisplayName    string
	Picture        string
	IsPrivateEmail bool
}

// Client is one provider's half of the authorization code flow.
type Client interface {
	AuthCodeURL(state, redirectURI string) string
	RedirectURI() string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResult, error)
	VerifyIdentity(ctx context.Context, credential string) (*Identity, error)
}

// Registry maps providers to their clients. It is built once and never
// modified afterwards.
type Registry struct {
	clients map[Provider]Client
}

func NewRegistry(clients map[Provider]Client) *Registry {
	cp := make(map[Provider]Client, len(clients))
	for p, c := range clients {
		if c != nil {
			cp[p] = c
		}
	}
	return &Registry{clients: cp}
}

func (r *Registry) client(p Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrUnknownProvider, p)
	}
	return c, nil
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) AuthCodeURL(p Provider, state, redirectURI string) (string, error) {
	c, err := r.client(p)
	if err != nil {
		return "", err
	}
	return c.AuthCodeURL(state, redirectURI), nil
}

func (r *Registry) RedirectURI(p Provider) string {
	c, err := r.client(p)
	if err != nil {
		return ""
	}
	return c.RedirectURI()
}

func (r *Registry) ExchangeCode(ctx context.Context, p Provider, code, redirectURI string) (*TokenResult, error) {
	c, err := r.client(p)
	if err != nil {
		return nil, err
	}
	return c.ExchangeCode(ctx, code, redirectURI)
}

func (r *Registry) VerifyIdentity(ctx context.Context, p Provider, credential string) (*Identity, error) {
	c, err := r.client(p)
	if err != nil {
		return nil, err
	}
	return c.VerifyIdentity(ctx, credential)
}

// flexBool accepts both JSON booleans and "true"/"false" strings, which
// providers use interchangeably.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", data)
	}
	*b = flexBool(v)
	return nil
}

const maxBody = 1 << 20

// getJSON issues a GET and decodes a 2xx JSON body into out.
func getJSON(ctx context.Context, hc *http.Client, url, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
