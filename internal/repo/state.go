package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/autho/internal/models"
)

func (r *GormRepo) CreatePendingState(ctx context.Context, st *models.PendingState) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.ExpiresAt = st.ExpiresAt.UTC()
	return wrap("create pending state", r.DB.WithContext(ctx).Create(st).Error)
}

// ConsumePendingState deletes and returns an unexpired state. A state can
// be consumed once; later or concurrent attempts get ErrNotFound.
func (r *GormRepo) ConsumePendingState(ctx context.Context, provider, stateHash string, now time.Time) (*models.PendingState, error) {
	var st models.PendingState
	err := r.DB.WithContext(ctx).
		Where("provider = ? AND state_hash = ? AND expires_at > ?", provider, stateHash, now.UTC()).
		First(&st).Error
	if err != nil {
		return nil, wrap("find pending state", err)
	}
	res := r.DB.WithContext(ctx).Where("id = ?", st.ID).Delete(&models.PendingState{})
	if res.Error != nil {
		return nil, wrap("delete pending state", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, ErrNotFound
	}
	return &st, nil
}

// PurgeExpiredStates drops abandoned login attempts.
func (r *GormRepo) PurgeExpiredStates(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&models.PendingState{})
	if res.Error != nil {
		return 0, wrap("purge pending states", res.Error)
	}
	return res.RowsAffected, nil
}
