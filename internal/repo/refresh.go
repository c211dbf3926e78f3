package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/autho/internal/models"
)

func (r *GormRepo) CreateRefreshRecord(ctx context.Context, rec *models.RefreshToken) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return wrap("create refresh record", r.DB.WithContext(ctx).Omit("User").Create(rec).Error)
}

func (r *GormRepo) FindRefreshRecord(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&rec).Error; err != nil {
		return nil, wrap("find refresh record", err)
	}
	return &rec, nil
}

// FindActiveRefreshRecord returns the record only if it is neither revoked
// nor expired at now.
func (r *GormRepo) FindActiveRefreshRecord(ctx context.Context, fingerprint string, now time.Time) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	err := r.DB.WithContext(ctx).
		Where("fingerprint = ? AND revoked = ? AND expires_at > ?", fingerprint, false, now.UTC()).
		First(&rec).Error
	if err != nil {
		return nil, wrap("find active refresh record", err)
	}
	return &rec, nil
}

// ConsumeRefreshRecord revokes an active record as rotated. Only one of
// any number of concurrent callers sees true for the same fingerprint.
func (r *GormRepo) ConsumeRefreshRecord(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	now = now.UTC()
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("fingerprint = ? AND revoked = ? AND expires_at > ?", fingerprint, false, now).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": models.RevokedRotated,
		})
	if res.Error != nil {
		return false, wrap("consume refresh record", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeRefreshRecord is idempotent; it reports whether a live record was
// revoked by this call.
func (r *GormRepo) RevokeRefreshRecord(ctx context.Context, fingerprint, reason string, now time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("fingerprint = ? AND revoked = ?", fingerprint, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now.UTC(),
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return false, wrap("revoke refresh record", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RevokeAllForUser revokes every active record of the user in one statement.
func (r *GormRepo) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	now = now.UTC()
	res := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return 0, wrap("revoke user refresh records", res.Error)
	}
	return res.RowsAffected, nil
}
