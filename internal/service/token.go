package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/autho/internal/events"
	"github.com/Skotchmaster/autho/internal/keys"
	"github.com/Skotchmaster/autho/internal/logging"
	"github.com/Skotchmaster/autho/internal/models"
	"github.com/Skotchmaster/autho/internal/repo"
	"github.com/Skotchmaster/autho/pkg/tokens"
)

const (
	DefaultAccessTTL    = 15 * time.Minute
	DefaultRefreshTTL   = 7 * 24 * time.Hour
	DefaultStoreTimeout = 5 * time.Second
)

// Pair is a freshly signed access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshJTI       string
	RefreshExpiresAt time.Time
}

// ClientMeta describes the client a refresh token is handed to.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

type TokenService struct {
	Keys   *keys.Manager
	Store  repo.Store
	Events events.Publisher

	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
	// RevokeAllOnReuse revokes every session of a user whose rotated
	// refresh token is presented again.
	RevokeAllOnReuse bool

	Now func() time.Time
}

func (t *TokenService) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *TokenService) accessTTL() time.Duration {
	if t.AccessTTL > 0 {
		return t.AccessTTL
	}
	return DefaultAccessTTL
}

func (t *TokenService) refreshTTL() time.Duration {
	if t.RefreshTTL > 0 {
		return t.RefreshTTL
	}
	return DefaultRefreshTTL
}

func (t *TokenService) storeTimeout() time.Duration {
	if t.StoreTimeout > 0 {
		return t.StoreTimeout
	}
	return DefaultStoreTimeout
}

// detach lets a write finish even if the client goes away.
func (t *TokenService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), t.storeTimeout())
}

// IssuePair signs a new pair for user. Nothing is persisted.
func (t *TokenService) IssuePair(ctx context.Context, user *models.User) (*Pair, error) {
	now := t.now()
	accessExp := now.Add(t.accessTTL())
	refreshExp := now.Add(t.refreshTTL())

	access, err := t.Keys.Sign(tokens.Claims{
		Type:  tokens.TypeAccess,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.Issuer,
			Subject:   user.ID,
			ID:        tokens.NewJTI(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshJTI := tokens.NewJTI()
	refresh, err := t.Keys.Sign(tokens.Claims{
		Type: tokens.TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.Issuer,
			Subject:   user.ID,
			ID:        refreshJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	logging.FromContext(ctx).Debug("token_pair_issued", "svc", "tokens.issue", "user_id", user.ID, "jti", refreshJTI)
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(t.accessTTL() / time.Second),
		RefreshJTI:       refreshJTI,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// persist stores the refresh half of pair through store, which may be a
// transaction.
func (t *TokenService) persist(ctx context.Context, store repo.Store, userID string, pair *Pair, meta ClientMeta) error {
	return store.CreateRefreshRecord(ctx, &models.RefreshToken{
		UserID:      userID,
		Fingerprint: tokens.Fingerprint(pair.RefreshToken),
		JTI:         pair.RefreshJTI,
		ExpiresAt:   pair.RefreshExpiresAt,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
	})
}

// Verify checks a token of the expected type. Every failure is reported as
// ErrInvalidToken; the reason is only logged.
func (t *TokenService) Verify(ctx context.Context, raw string, want tokens.Type) (*tokens.Claims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(t.now)}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}
	claims, err := tokens.Parse(raw, t.Keys.PublicKey(), want, opts...)
	if err != nil {
		logging.FromContext(ctx).Debug("token_rejected", "svc", "tokens.verify", "type", want, "reason", err.Error())
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// reuseError carries the owner of a rotated token that was presented again.
type reuseError struct{ userID string }

func (e *reuseError) Error() string { return "refresh token reused" }

// RedeemRefresh rotates a refresh token: the presented one is consumed and
// a new pair is issued in the same transaction.
func (t *TokenService) RedeemRefresh(ctx context.Context, raw string, meta ClientMeta) (*Pair, error) {
	l := logging.FromContext(ctx).With("svc", "tokens.redeem")

	claims, err := t.Verify(ctx, raw, tokens.TypeRefresh)
	if err != nil {
		return nil, err
	}
	fp := tokens.Fingerprint(raw)
	now := t.now()

	sctx, cancel := t.detach(ctx)
	defer cancel()

	var (
		pair *Pair
		user *models.User
	)
	err = t.Store.WithTx(sctx, func(tx repo.Store) error {
		rec, err := tx.FindRefreshRecord(sctx, fp)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if rec.UserID != claims.Subject || rec.JTI != claims.ID {
			return ErrInvalidToken
		}

		ok, err := tx.ConsumeRefreshRecord(sctx, fp, now)
		if err != nil {
			return err
		}
		if !ok {
			// re-read: a concurrent redeem may have consumed it meanwhile
			if cur, err := tx.FindRefreshRecord(sctx, fp); err == nil {
				rec = cur
			}
			if rec.Revoked && rec.RevokedReason == models.RevokedRotated {
				return &reuseError{userID: rec.UserID}
			}
			return ErrTokenRevoked
		}

		user, err = tx.FindUserByID(sctx, rec.UserID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if err := checkUser(user); err != nil {
			return err
		}

		pair, err = t.IssuePair(ctx, user)
		if err != nil {
			return err
		}
		return t.persist(sctx, tx, user.ID, pair, meta)
	})

	var reuse *reuseError
	switch {
	case errors.As(err, &reuse):
		t.onReuse(ctx, reuse.userID, meta)
		return nil, ErrTokenRevoked
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrUserInactive), errors.Is(err, ErrUserDisabled):
		l.Info("refresh_rejected", "reason", err.Error())
		return nil, err
	case err != nil:
		l.Error("refresh_failed", "error", err)
		return nil, fmt.Errorf("redeem refresh token: %w", err)
	}

	ev := events.New(events.TokenRefreshed, user.ID, now)
	ev.IPAddress, ev.UserAgent = meta.IPAddress, meta.UserAgent
	events.Emit(ctx, t.Events, ev)
	l.Info("token_refreshed", "user_id", user.ID)
	return pair, nil
}

func (t *TokenService) onReuse(ctx context.Context, userID string, meta ClientMeta) {
	l := logging.FromContext(ctx).With("svc", "tokens.redeem", "user_id", userID)
	now := t.now()

	ev := events.New(events.RefreshReuseDetected, userID, now)
	ev.IPAddress, ev.UserAgent = meta.IPAddress, meta.UserAgent

	if t.RevokeAllOnReuse {
		sctx, cancel := t.detach(ctx)
		defer cancel()
		n, err := t.Store.RevokeAllForUser(sctx, userID, models.RevokedReuseDetected, now)
		if err != nil {
			l.Error("reuse_revoke_failed", "error", err)
		} else {
			ev.Attrs = map[string]string{"revoked": fmt.Sprint(n)}
		}
		l.Warn("refresh_reuse_detected", "revoked", n)
	} else {
		l.Warn("refresh_reuse_detected")
	}
	events.Emit(ctx, t.Events, ev)
}

func checkUser(u *models.User) error {
	switch {
	case u.IsDisabled:
		return ErrUserDisabled
	case !u.IsActive:
		return ErrUserInactive
	}
	return nil
}
