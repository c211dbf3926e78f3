// Package authclient lets other services talk to autho. It rotates and
// revokes refresh tokens and verifies access tokens locally.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/Skotchmaster/autho/internal/keys"
	"github.com/Skotchmaster/autho/pkg/tokens"
)

const (
	jwksPath = "/.well-known/jwks.json"

	defaultRefetchEvery = time.Minute
)

var ErrUnknownKey = errors.New("authclient: unknown signing key")

// StatusError is a non-2xx answer from autho.
type StatusError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("autho: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL      string
	issuer       string
	httpClient   *http.Client
	refetchEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	remote keyfunc.Keyfunc
	pinned *keys.Manager
}

type Option func(*Client)

// WithRefetchInterval bounds how often unknown key ids may refetch the
// published key set.
func WithRefetchInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refetchEvery = d
		}
	}
}

// NewClient targets the autho instance at authServiceURL. A non-empty
// issuer is enforced when verifying access tokens. Call Close when done.
func NewClient(authServiceURL, issuer string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:      strings.TrimRight(authServiceURL, "/"),
		issuer:       issuer,
		refetchEvery: defaultRefetchEvery,
		ctx:          ctx,
		cancel:       cancel,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(se)
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RefreshTokens redeems refreshToken for a new pair. The old token is
// spent whether or not the caller receives the answer.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var result TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: refreshToken}, nil)
}

// PinPublicKey verifies access tokens against the PEM public key at path
// instead of the published key set. Nothing is fetched from autho.
func (c *Client) PinPublicKey(path string) error {
	m, err := keys.LoadPublic(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pinned = m
	c.mu.Unlock()
	return nil
}

// Close stops the background key set refresh.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) resolver(ctx context.Context) (jwt.Keyfunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := c.pinned; m != nil {
		return func(t *jwt.Token) (any, error) {
			if kid, _ := t.Header["kid"].(string); kid != m.KeyID() {
				return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
			}
			return m.PublicKey(), nil
		}, nil
	}
	if c.remote == nil {
		kf, err := keyfunc.NewDefaultOverrideCtx(c.ctx, []string{c.baseURL + jwksPath}, keyfunc.Override{
			Client:            c.httpClient,
			HTTPTimeout:       c.httpClient.Timeout,
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: rate.NewLimiter(rate.Every(c.refetchEvery), 1),
			RateLimitWaitMax:  time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		c.remote = kf
	}
	remote := c.remote.KeyfuncCtx(ctx)
	return func(t *jwt.Token) (any, error) {
		key, err := remote(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
		}
		return key, nil
	}, nil
}

// VerifyAccess checks an access token locally. A key id missing from the
// cached set refetches it at most once per refetch interval, which covers
// key rotation without letting forged key ids drive traffic to autho.
func (c *Client) VerifyAccess(ctx context.Context, raw string) (*tokens.Claims, error) {
	kf, err := c.resolver(ctx)
	if err != nil {
		return nil, err
	}
	var opts []jwt.ParserOption
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return tokens.ParseWithKeyfunc(raw, kf, tokens.TypeAccess, opts...)
}
