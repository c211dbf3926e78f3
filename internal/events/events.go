// Package events describes the security events autho emits after a state
// change has been committed.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Skotchmaster/autho/internal/logging"
)

type Type string

const (
	UserCreated          Type = "user_created"
	LoginSucceeded       Type = "login_succeeded"
	TokenRefreshed       Type = "token_refreshed"
	RefreshReuseDetected Type = "refresh_reuse_detected"
	Logout               Type = "logout"
	LogoutAll            Type = "logout_all"
	UserDeactivated      Type = "user_deactivated"
)

type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     string            `json:"user_id"`
	Provider   string            `json:"provider,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

func New(t Type, userID string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, UserID: userID, OccurredAt: now.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to every publisher at once and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, p := range m {
		g.Go(func() error {
			errs[i] = p.Publish(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const publishTimeout = 3 * time.Second

// Emit publishes best-effort. It outlives a cancelled request, and failures
// are only logged. Wrap slow sinks in Async to keep this off the request path.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(pctx, ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "event", ev.Type, "event_id", ev.ID, "error", err)
	}
}
