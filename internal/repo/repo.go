package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/autho/internal/models"
)

// Store is the persistence surface the services depend on.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)

	FindProviderLink(ctx context.Context, provider, subjectID string) (*models.ProviderLink, error)
	UpsertProviderLink(ctx context.Context, link *models.ProviderLink) error

	CreateRefreshRecord(ctx context.Context, rec *models.RefreshToken) error
	FindRefreshRecord(ctx context.Context, fingerprint string) (*models.RefreshToken, error)
	FindActiveRefreshRecord(ctx context.Context, fingerprint string, now time.Time) (*models.RefreshToken, error)
	ConsumeRefreshRecord(ctx context.Context, fingerprint string, now time.Time) (bool, error)
	RevokeRefreshRecord(ctx context.Context, fingerprint, reason string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)

	CreatePendingState(ctx context.Context, st *models.PendingState) error
	ConsumePendingState(ctx context.Context, provider, stateHash string, now time.Time) (*models.PendingState, error)
	PurgeExpiredStates(ctx context.Context, now time.Time) (int64, error)

	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

// WithTx runs fn in a transaction. The Store handed to fn is bound to it;
// any error or panic rolls back.
func (r *GormRepo) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepo{DB: tx})
	})
}

func (r *GormRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
