package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/autho/internal/db"
	"github.com/Skotchmaster/autho/internal/events"
	"github.com/Skotchmaster/autho/internal/keys"
	"github.com/Skotchmaster/autho/internal/models"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/internal/repo"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	keyErr  error
)

func signingKey(t *testing.T) *keys.Manager {
	t.Helper()
	keyOnce.Do(func() { testKey, keyErr = keys.Generate(2048) })
	require.NoError(t, keyErr)
	m, err := keys.New(testKey)
	require.NoError(t, err)
	return m
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu  sync.Mutex
	got []events.Event
}

func (e *eventLog) Publish(_ context.Context, ev events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
	return nil
}

func (e *eventLog) Close() error { return nil }

func (e *eventLog) Types() []events.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.Type, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Type)
	}
	return out
}

// fakeAdapter maps authorization codes to identities.
type fakeAdapter struct {
	mu         sync.Mutex
	identities map[string]*provider.Identity
	exchangeFn func(code string) (*provider.TokenResult, error)
	lastCred   string
	lastRedir  string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{identities: make(map[string]*provider.Identity)}
}

func (f *fakeAdapter) add(code string, id *provider.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[code] = id
}

func (f *fakeAdapter) AuthCodeURL(p provider.Provider, state, redirectURI string) (string, error) {
	if p != provider.Google && p != provider.Apple {
		return "", provider.ErrUnknownProvider
	}
	return "https://idp.example/" + string(p) + "?state=" + state, nil
}

func (f *fakeAdapter) RedirectURI(p provider.Provider) string {
	return "https://app.example/" + string(p) + "/callback"
}

func (f *fakeAdapter) ExchangeCode(_ context.Context, p provider.Provider, code, redirectURI string) (*provider.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRedir = redirectURI
	if f.exchangeFn != nil {
		return f.exchangeFn(code)
	}
	if _, ok := f.identities[code]; !ok {
		return nil, provider.ErrCodeExchangeFailed
	}
	res := &provider.TokenResult{AccessToken: "cred:" + code, RefreshToken: "prt:" + code}
	if p == provider.Apple {
		res.AccessToken = "apple-at"
		res.IDToken = "cred:" + code
	}
	return res, nil
}

func (f *fakeAdapter) VerifyIdentity(_ context.Context, _ provider.Provider, credential string) (*provider.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCred = credential
	const prefix = "cred:"
	if len(credential) <= len(prefix) || credential[:len(prefix)] != prefix {
		return nil, provider.ErrIdentityVerificationFailed
	}
	id, ok := f.identities[credential[len(prefix):]]
	if !ok {
		return nil, errors.Join(provider.ErrIdentityVerificationFailed, errors.New("unknown credential"))
	}
	cp := *id
	return &cp, nil
}

type harness struct {
	repo    *repo.GormRepo
	clock   *clock
	events  *eventLog
	adapter *fakeAdapter
	tokens  *TokenService
	auth    *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	gdb, err := db.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, gdb, db.SQLite))
	t.Cleanup(func() { _ = db.Close(gdb) })

	h := &harness{
		repo:    repo.New(gdb),
		clock:   &clock{now: time.Now().UTC().Truncate(time.Second)},
		events:  &eventLog{},
		adapter: newFakeAdapter(),
	}
	h.tokens = &TokenService{
		Keys:             signingKey(t),
		Store:            h.repo,
		Events:           h.events,
		Issuer:           "autho-test",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		RevokeAllOnReuse: true,
		Now:              h.clock.Now,
	}
	h.auth = &AuthService{
		Providers:         h.adapter,
		Tokens:            h.tokens,
		Store:             h.repo,
		Events:            h.events,
		RedirectAllowlist: []string{"https://spa.example/done"},
		RequireState:      true,
	}
	return h
}

func (h *harness) pendingStates(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.repo.DB.Model(&models.PendingState{}).Count(&n).Error)
	return n
}

func googleIdentity(sub, email string) *provider.Identity {
	return &provider.Identity{SubjectID: sub, Email: email, EmailVerified: true, DisplayName: "Test " + sub}
}

// login runs a full begin+callback for code and returns the issued pair.
func (h *harness) login(t *testing.T, p provider.Provider, code string) *Pair {
	t.Helper()
	ctx := context.Background()
	start, err := h.auth.BeginLogin(ctx, p, "", "")
	require.NoError(t, err)
	pair, err := h.auth.Callback(ctx, CallbackInput{
		Provider:    p,
		Code:        code,
		State:       start.State,
		CookieState: start.State,
		Meta:        ClientMeta{UserAgent: "test-agent", IPAddress: "10.0.0.1"},
	})
	require.NoError(t, err)
	return pair
}
