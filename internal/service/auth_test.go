package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/autho/internal/events"
	"github.com/Skotchmaster/autho/internal/models"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/pkg/tokens"
)

func TestBeginLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, err := h.auth.BeginLogin(ctx, provider.Google, "", "")
	require.NoError(t, err)
	assert.Contains(t, start.AuthorizationURL, "state="+start.State)
	assert.Len(t, start.State, 43)
	assert.Equal(t, h.clock.Now().Add(DefaultStateTTL), start.ExpiresAt)

	clientState := "client-provided-state-value"
	start, err = h.auth.BeginLogin(ctx, provider.Apple, "https://spa.example/done", clientState)
	require.NoError(t, err)
	assert.Equal(t, clientState, start.State)

	_, err = h.auth.BeginLogin(ctx, provider.Apple, "", clientState)
	require.ErrorIs(t, err, ErrInvalidRequest, "a state can only be pending once")

	_, err = h.auth.BeginLogin(ctx, provider.Google, "https://evil.example/cb", "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.auth.BeginLogin(ctx, provider.Google, "", "short")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCallbackCreatesUserAndIssuesTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "New@Example.com"))

	pair := h.login(t, provider.Google, "c1")

	claims, err := h.tokens.Verify(ctx, pair.AccessToken, tokens.TypeAccess)
	require.NoError(t, err)

	user, err := h.repo.FindUserByID(ctx, claims.Subject)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, "Test g-1", user.FullName)

	link, err := h.repo.FindProviderLink(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, link.UserID)
	assert.Equal(t, "cred:c1", link.AccessToken)
	require.NotNil(t, link.ExpiresAt)

	rec, err := h.repo.FindActiveRefreshRecord(ctx, tokens.Fingerprint(pair.RefreshToken), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "test-agent", rec.UserAgent)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)

	assert.Equal(t, []events.Type{events.UserCreated, events.LoginSucceeded}, h.events.Types())
}

func TestCallbackReusesUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))
	h.adapter.add("c2", googleIdentity("g-1", "a@example.com"))
	h.adapter.add("apple", &provider.Identity{SubjectID: "apple-1", Email: "A@example.com", EmailVerified: true})

	first := h.login(t, provider.Google, "c1")
	second := h.login(t, provider.Google, "c2")
	third := h.login(t, provider.Apple, "apple")

	var subs []string
	for _, p := range []*Pair{first, second, third} {
		c, err := h.tokens.Verify(ctx, p.AccessToken, tokens.TypeAccess)
		require.NoError(t, err)
		subs = append(subs, c.Subject)
	}
	assert.Equal(t, subs[0], subs[1])
	assert.Equal(t, subs[0], subs[2])

	link, err := h.repo.FindProviderLink(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "cred:c2", link.AccessToken)

	appleLink, err := h.repo.FindProviderLink(ctx, "apple", "apple-1")
	require.NoError(t, err)
	assert.Equal(t, subs[0], appleLink.UserID)

	// both earlier sessions stay valid
	for _, p := range []*Pair{first, second} {
		_, err := h.repo.FindActiveRefreshRecord(ctx, tokens.Fingerprint(p.RefreshToken), h.clock.Now())
		require.NoError(t, err)
	}
}

func TestCallbackAppleCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("a1", &provider.Identity{SubjectID: "apple-1", Email: "relay@privaterelay.appleid.com", IsPrivateEmail: true})

	_, err := h.auth.Callback(ctx, CallbackInput{Provider: provider.Apple, Code: "a1", NameHint: "Ada Lovelace"})
	require.ErrorIs(t, err, ErrAuthenticationFailed, "state is required")

	h.auth.RequireState = false
	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Apple, Code: "a1", NameHint: "Ada Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "cred:a1", h.adapter.lastCred, "exchanged id_token is verified")

	user, err := h.repo.FindUserByEmail(ctx, "relay@privaterelay.appleid.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.FullName)
	assert.False(t, user.EmailVerified)

	// without an id_token from the exchange the posted one is used
	h.adapter.exchangeFn = func(string) (*provider.TokenResult, error) {
		return &provider.TokenResult{AccessToken: "apple-at"}, nil
	}
	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Apple, Code: "a1", IDToken: "cred:a1"})
	require.NoError(t, err)
	assert.Equal(t, "cred:a1", h.adapter.lastCred)
}

func TestCallbackStateHandling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))

	start, err := h.auth.BeginLogin(ctx, provider.Google, "https://spa.example/done", "")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   CallbackInput
	}{
		{name: "missing state", in: CallbackInput{Provider: provider.Google, Code: "c1"}},
		{name: "unknown state", in: CallbackInput{Provider: provider.Google, Code: "c1", State: "never-issued-state-value"}},
		{name: "cookie mismatch", in: CallbackInput{Provider: provider.Google, Code: "c1", State: start.State, CookieState: "other"}},
		{name: "browser without cookie", in: CallbackInput{Provider: provider.Google, Code: "c1", State: start.State, RequireCookie: true}},
		{name: "other provider", in: CallbackInput{Provider: provider.Apple, Code: "c1", State: start.State}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.auth.Callback(ctx, tc.in)
			require.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}

	in := CallbackInput{Provider: provider.Google, Code: "c1", State: start.State, CookieState: start.State}
	_, err = h.auth.Callback(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "https://spa.example/done", h.adapter.lastRedir, "pending redirect is reused")

	_, err = h.auth.Callback(ctx, in)
	require.ErrorIs(t, err, ErrAuthenticationFailed, "state is single use")
}

func TestCallbackRedirectMustMatchLoginStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))

	start, err := h.auth.BeginLogin(ctx, provider.Google, "https://spa.example/done", "")
	require.NoError(t, err)
	_, err = h.auth.Callback(ctx, CallbackInput{
		Provider:    provider.Google,
		Code:        "c1",
		State:       start.State,
		RedirectURI: "https://app.example/google/callback",
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	// the configured redirect is what a login without one was started with
	start, err = h.auth.BeginLogin(ctx, provider.Google, "", "")
	require.NoError(t, err)
	_, err = h.auth.Callback(ctx, CallbackInput{
		Provider:    provider.Google,
		Code:        "c1",
		State:       start.State,
		RedirectURI: "https://app.example/google/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/google/callback", h.adapter.lastRedir)
}

func TestBeginLoginPurgesExpiredStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.auth.BeginLogin(ctx, provider.Google, "", "")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), h.pendingStates(t))

	h.clock.Advance(DefaultStateTTL + time.Second)
	fresh, err := h.auth.BeginLogin(ctx, provider.Apple, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.pendingStates(t))

	h.adapter.add("a1", &provider.Identity{SubjectID: "apple-1", Email: "a@example.com"})
	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Apple, Code: "a1", State: fresh.State})
	require.NoError(t, err)
	assert.Zero(t, h.pendingStates(t))
}

func TestCallbackExpiredState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))

	start, err := h.auth.BeginLogin(ctx, provider.Google, "", "")
	require.NoError(t, err)
	h.clock.Advance(DefaultStateTTL + time.Second)

	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "c1", State: start.State})
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCallbackProviderFailures(t *testing.T) {
	h := newHarness(t)
	h.auth.RequireState = false
	ctx := context.Background()
	h.adapter.add("unverifiable", googleIdentity("", "x@example.com"))

	_, err := h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "unknown-code"})
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "unverifiable"})
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "x", RedirectURI: "https://evil.example"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	var n int64
	require.NoError(t, h.repo.DB.Model(&models.User{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCallbackRejectsDisabledAndInactiveUsers(t *testing.T) {
	h := newHarness(t)
	h.auth.RequireState = false
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))
	h.login(t, provider.Google, "c1")

	user, err := h.repo.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)

	_, err = h.repo.UpdateUser(ctx, user.ID, models.UserUpdate{IsDisabled: models.Set(true)})
	require.NoError(t, err)
	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "c1"})
	require.ErrorIs(t, err, ErrUserDisabled)

	_, err = h.repo.UpdateUser(ctx, user.ID, models.UserUpdate{IsDisabled: models.Set(false), IsActive: models.Set(false)})
	require.NoError(t, err)
	_, err = h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "c1"})
	require.ErrorIs(t, err, ErrUserInactive)
}

func TestCallbackPersistsAfterClientDisconnect(t *testing.T) {
	h := newHarness(t)
	h.auth.RequireState = false
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pair, err := h.auth.Callback(ctx, CallbackInput{Provider: provider.Google, Code: "c1"})
	require.NoError(t, err)

	_, err = h.repo.FindActiveRefreshRecord(context.Background(), tokens.Fingerprint(pair.RefreshToken), h.clock.Now())
	require.NoError(t, err)
}

func TestLogoutAndLogoutAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))
	h.adapter.add("c2", googleIdentity("g-1", "a@example.com"))
	h.adapter.add("other", googleIdentity("g-2", "b@example.com"))

	a1 := h.login(t, provider.Google, "c1")
	a2 := h.login(t, provider.Google, "c2")
	b1 := h.login(t, provider.Google, "other")

	require.NoError(t, h.auth.Logout(ctx, a1.RefreshToken))
	require.NoError(t, h.auth.Logout(ctx, a1.RefreshToken))
	require.NoError(t, h.auth.Logout(ctx, ""))
	require.NoError(t, h.auth.Logout(ctx, "not-a-token"))

	_, err := h.auth.Refresh(ctx, a1.RefreshToken, ClientMeta{})
	require.ErrorIs(t, err, ErrTokenRevoked)

	user, err := h.auth.Authenticate(ctx, a2.AccessToken)
	require.NoError(t, err)
	n, err := h.auth.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = h.auth.Refresh(ctx, a2.RefreshToken, ClientMeta{})
	require.ErrorIs(t, err, ErrTokenRevoked)

	n, err = h.auth.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// other users keep their sessions
	_, err = h.auth.Refresh(ctx, b1.RefreshToken, ClientMeta{})
	require.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))
	pair := h.login(t, provider.Google, "c1")

	user, err := h.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)

	_, err = h.auth.Authenticate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = h.repo.UpdateUser(ctx, user.ID, models.UserUpdate{IsDisabled: models.Set(true)})
	require.NoError(t, err)
	_, err = h.auth.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrUserDisabled)

	ghost, err := h.tokens.IssuePair(ctx, &models.User{ID: "7a0f3f0e-8f44-4d1a-9b61-5b1d0f6e2c11", Email: "ghost@example.com"})
	require.NoError(t, err)
	_, err = h.auth.Authenticate(ctx, ghost.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestUpdateProfileAndDeactivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.add("c1", googleIdentity("g-1", "a@example.com"))
	pair := h.login(t, provider.Google, "c1")
	user, err := h.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)

	updated, err := h.auth.UpdateProfile(ctx, user.ID, models.UserUpdate{
		FullName:   models.Set("Renamed"),
		IsDisabled: models.Set(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.FullName)
	assert.False(t, updated.IsDisabled, "admin fields are not user editable")

	require.NoError(t, h.auth.Deactivate(ctx, user.ID))
	_, err = h.auth.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrUserInactive)
	_, err = h.auth.Refresh(ctx, pair.RefreshToken, ClientMeta{})
	require.ErrorIs(t, err, ErrTokenRevoked)

	rec, err := h.repo.FindRefreshRecord(ctx, tokens.Fingerprint(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, models.RevokedDeactivated, rec.RevokedReason)
	assert.Contains(t, h.events.Types(), events.UserDeactivated)
}
