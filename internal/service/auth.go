package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/autho/internal/events"
	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/models"
	"github.com/Skotchmaster/autho/internal/provider"
	"github.com/Skotchmaster/autho/internal/repo"
	"github.com/Skotchmaster/autho/pkg/tokens"
)

const (
	DefaultStateTTL = 10 * time.Minute

	minClientState = 16
	maxClientState = 512
	// Apple does not report how long its access tokens live.
	defaultProviderTokenTTL = time.Hour
)

// Adapter is the provider surface the login flow needs.
type Adapter interface {
	AuthCodeURL(p provider.Provider, state, redirectURI string) (string, error)
	RedirectURI(p provider.Provider) string
	ExchangeCode(ctx context.Context, p provider.Provider, code, redirectURI string) (*provider.TokenResult, error)
	VerifyIdentity(ctx context.Context, p provider.Provider, credential string) (*provider.Identity, error)
}

type AuthService struct {
	Providers Adapter
	Tokens    *TokenService
	Store     repo.Store
	Events    events.Publisher

	// RedirectAllowlist holds redirect URIs accepted in addition to each
	// provider's configured one.
	RedirectAllowlist []string
	RequireState      bool
	StateTTL          time.Duration
}

type LoginStart struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

type CallbackInput struct {
	Provider    provider.Provider
	Code        string
	RedirectURI string
	State       string
	// CookieState is the state echoed back by the browser cookie set at
	// login start; empty when the client did not send it.
	CookieState string
	// RequireCookie is set for browser callbacks that must carry the state
	// cookie, binding the callback to the browser that started the login.
	RequireCookie bool
	// IDToken is the id_token Apple posts alongside the code.
	IDToken string
	// NameHint is the display name Apple only reveals on first login.
	NameHint string
	Meta     ClientMeta
}

func (a *AuthService) now() time.Time { return a.Tokens.now() }

func (a *AuthService) stateTTL() time.Duration {
	if a.StateTTL > 0 {
		return a.StateTTL
	}
	return DefaultStateTTL
}

func (a *AuthService) redirectAllowed(p provider.Provider, uri string) bool {
	if uri == a.Providers.RedirectURI(p) {
		return true
	}
	for _, allowed := range a.RedirectAllowlist {
		if uri == allowed {
			return true
		}
	}
	return false
}

// loginRedirect is the redirect URI the authorization request was sent with.
func (a *AuthService) loginRedirect(p provider.Provider, pending *models.PendingState) string {
	if pending.RedirectURI != "" {
		return pending.RedirectURI
	}
	return a.Providers.RedirectURI(p)
}

// BeginLogin prepares the provider authorization URL and remembers the
// state so the callback can be bound to it.
func (a *AuthService) BeginLogin(ctx context.Context, p provider.Provider, redirectURI, clientState string) (*LoginStart, error) {
	l := logging.FromContext(ctx).With("svc", "auth.begin_login", "provider", p)

	if redirectURI != "" && !a.redirectAllowed(p, redirectURI) {
		l.Warn("login_start_rejected", "reason", "redirect_uri not allowed", "redirect_uri", redirectURI)
		return nil, fmt.Errorf("%w: redirect_uri is not allowed", ErrInvalidRequest)
	}

	state := clientState
	if state == "" {
		var err error
		if state, err = provider.NewState(); err != nil {
			return nil, err
		}
	} else if len(state) < minClientState || len(state) > maxClientState {
		return nil, fmt.Errorf("%w: state must be %d to %d characters", ErrInvalidRequest, minClientState, maxClientState)
	}

	authURL, err := a.Providers.AuthCodeURL(p, state, redirectURI)
	if err != nil {
		return nil, err
	}

	now := a.now()
	expires := now.Add(a.stateTTL())
	sctx, cancel := a.Tokens.detach(ctx)
	defer cancel()
	// Abandoned attempts are cleared here so unauthenticated login starts
	// cannot grow the table between restarts.
	if n, err := a.Store.PurgeExpiredStates(sctx, now); err != nil {
		l.Warn("state_purge_failed", "error", err)
	} else if n > 0 {
		l.Debug("expired_states_purged", "count", n)
	}
	err = a.Store.CreatePendingState(sctx, &models.PendingState{
		Provider:    string(p),
		StateHash:   tokens.Fingerprint(state),
		RedirectURI: redirectURI,
		ExpiresAt:   expires,
	})
	if errors.Is(err, repo.ErrDuplicateCredential) {
		return nil, fmt.Errorf("%w: state already in use", ErrInvalidRequest)
	}
	if err != nil {
		l.Error("login_start_failed", "error", err)
		return nil, fmt.Errorf("store login state: %w", err)
	}

	return &LoginStart{AuthorizationURL: authURL, State: state, ExpiresAt: expires}, nil
}

// Callback completes a provider login and issues an autho token pair.
func (a *AuthService) Callback(ctx context.Context, in CallbackInput) (*Pair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.callback", "provider", in.Provider)
	fail := func(reason string, err error) error {
		l.Warn("login_failed", "reason", reason, "error", err)
		return ErrAuthenticationFailed
	}

	if in.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	redirectURI := in.RedirectURI
	switch {
	case in.State != "":
		if in.RequireCookie && in.CookieState == "" {
			return nil, fail("missing state cookie", nil)
		}
		if in.CookieState != "" && !provider.ValidateState(in.State, in.CookieState) {
			return nil, fail("state mismatch", nil)
		}
		pending, err := a.Store.ConsumePendingState(ctx, string(in.Provider), tokens.Fingerprint(in.State), a.now())
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fail("unknown or expired state", nil)
		}
		if err != nil {
			return nil, fmt.Errorf("consume login state: %w", err)
		}
		if redirectURI == "" {
			redirectURI = pending.RedirectURI
		} else if redirectURI != a.loginRedirect(in.Provider, pending) {
			return nil, fmt.Errorf("%w: redirect_uri does not match the login start", ErrInvalidRequest)
		}
	case a.RequireState:
		return nil, fail("missing state", nil)
	}
	if redirectURI != "" && !a.redirectAllowed(in.Provider, redirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri is not allowed", ErrInvalidRequest)
	}

	res, err := a.Providers.ExchangeCode(ctx, in.Provider, in.Code, redirectURI)
	if errors.Is(err, provider.ErrUnknownProvider) {
		return nil, err
	}
	if err != nil {
		return nil, fail("code exchange", err)
	}

	credential := res.AccessToken
	if in.Provider == provider.Apple {
		credential = res.IDToken
		if credential == "" {
			credential = in.IDToken
		}
	}
	ident, err := a.Providers.VerifyIdentity(ctx, in.Provider, credential)
	if err != nil {
		return nil, fail("identity verification", err)
	}
	if ident.SubjectID == "" || ident.Email == "" {
		return nil, fail("incomplete identity", nil)
	}

	pair, user, created, err := a.completeLogin(ctx, in, ident, res)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserDisabled), errors.Is(err, ErrUserInactive):
			l.Warn("login_rejected", "reason", err.Error())
			return nil, err
		default:
			l.Error("login_persist_failed", "error", err)
			return nil, fmt.Errorf("complete login: %w", err)
		}
	}

	now := a.now()
	if created {
		ev := events.New(events.UserCreated, user.ID, now)
		ev.Provider = string(in.Provider)
		events.Emit(ctx, a.Events, ev)
	}
	ev := events.New(events.LoginSucceeded, user.ID, now)
	ev.Provider = string(in.Provider)
	ev.IPAddress, ev.UserAgent = in.Meta.IPAddress, in.Meta.UserAgent
	events.Emit(ctx, a.Events, ev)

	l.Info("login_succeeded", "user_id", user.ID, "new_user", created)
	return pair, nil
}

// completeLogin resolves the user and issues tokens in one transaction that
// is not tied to the request lifetime. A concurrent first login for the
// same email loses the insert race; retrying then finds the winner's user.
func (a *AuthService) completeLogin(ctx context.Context, in CallbackInput, ident *provider.Identity, res *provider.TokenResult) (*Pair, *models.User, bool, error) {
	sctx, cancel := a.Tokens.detach(ctx)
	defer cancel()

	var (
		pair    *Pair
		user    *models.User
		created bool
	)
	attempt := func() error {
		return a.Store.WithTx(sctx, func(tx repo.Store) error {
			var err error
			user, created, err = resolveUser(sctx, tx, in, ident)
			if err != nil {
				return err
			}
			if err := checkUser(user); err != nil {
				return err
			}

			expiry := res.Expiry
			if expiry.IsZero() {
				expiry = a.now().Add(defaultProviderTokenTTL)
			}
			expiry = expiry.UTC()
			err = tx.UpsertProviderLink(sctx, &models.ProviderLink{
				UserID:       user.ID,
				Provider:     string(in.Provider),
				SubjectID:    ident.SubjectID,
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
				ExpiresAt:    &expiry,
			})
			if err != nil {
				return err
			}

			pair, err = a.Tokens.IssuePair(ctx, user)
			if err != nil {
				return err
			}
			return a.Tokens.persist(sctx, tx, user.ID, pair, in.Meta)
		})
	}

	err := attempt()
	if errors.Is(err, repo.ErrDuplicateCredential) {
		err = attempt()
	}
	if err != nil {
		return nil, nil, false, err
	}
	return pair, user, created, nil
}

// resolveUser finds the user by provider identity first, then by email,
// and creates one as a last resort.
func resolveUser(ctx context.Context, tx repo.Store, in CallbackInput, ident *provider.Identity) (*models.User, bool, error) {
	link, err := tx.FindProviderLink(ctx, string(in.Provider), ident.SubjectID)
	switch {
	case err == nil:
		u, err := tx.FindUserByID(ctx, link.UserID)
		return u, false, err
	case !errors.Is(err, repo.ErrNotFound):
		return nil, false, err
	}

	u, err := tx.FindUserByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		return u, false, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, false, err
	}

	name := ident.DisplayName
	if name == "" {
		name = in.NameHint
	}
	u = &models.User{
		Email:         ident.Email,
		EmailVerified: ident.EmailVerified,
		FullName:      name,
		Picture:       ident.Picture,
	}
	if err := tx.CreateUser(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (a *AuthService) Refresh(ctx context.Context, raw string, meta ClientMeta) (*Pair, error) {
	return a.Tokens.RedeemRefresh(ctx, raw, meta)
}

// Logout revokes one refresh token. Unknown or already revoked tokens are
// not an error.
func (a *AuthService) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	fp := tokens.Fingerprint(raw)
	sctx, cancel := a.Tokens.detach(ctx)
	defer cancel()

	rec, err := a.Store.FindRefreshRecord(sctx, fp)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	revoked, err := a.Store.RevokeRefreshRecord(sctx, fp, models.RevokedLogout, a.now())
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if revoked {
		events.Emit(ctx, a.Events, events.New(events.Logout, rec.UserID, a.now()))
		logging.FromContext(ctx).Info("logout", "svc", "auth.logout", "user_id", rec.UserID)
	}
	return nil
}

// LogoutAll revokes every active refresh token of the user.
func (a *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	sctx, cancel := a.Tokens.detach(ctx)
	defer cancel()

	n, err := a.Store.RevokeAllForUser(sctx, userID, models.RevokedLogoutAll, a.now())
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}
	ev := events.New(events.LogoutAll, userID, a.now())
	ev.Attrs = map[string]string{"revoked": fmt.Sprint(n)}
	events.Emit(ctx, a.Events, ev)
	logging.FromContext(ctx).Info("logout_all", "svc", "auth.logout_all", "user_id", userID, "revoked", n)
	return n, nil
}

// Authenticate resolves a bearer access token to an active user.
func (a *AuthService) Authenticate(ctx context.Context, bearer string) (*models.User, error) {
	claims, err := a.Tokens.Verify(ctx, bearer, tokens.TypeAccess)
	if err != nil {
		return nil, err
	}
	user, err := a.Store.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if err := checkUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateProfile applies the user-editable part of upd.
func (a *AuthService) UpdateProfile(ctx context.Context, userID string, upd models.UserUpdate) (*models.User, error) {
	user, err := a.Store.UpdateUser(ctx, userID, upd.Profile())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// Deactivate soft-deletes the account and ends all of its sessions.
func (a *AuthService) Deactivate(ctx context.Context, userID string) error {
	sctx, cancel := a.Tokens.detach(ctx)
	defer cancel()

	err := a.Store.WithTx(sctx, func(tx repo.Store) error {
		if _, err := tx.UpdateUser(sctx, userID, models.UserUpdate{IsActive: models.Set(false)}); err != nil {
			return err
		}
		_, err := tx.RevokeAllForUser(sctx, userID, models.RevokedDeactivated, a.now())
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	events.Emit(ctx, a.Events, events.New(events.UserDeactivated, userID, a.now()))
	logging.FromContext(ctx).Info("user_deactivated", "svc", "auth.deactivate", "user_id", userID)
	return nil
}
