package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/autho/internal/models"
)

func (r *GormRepo) FindProviderLink(ctx context.Context, provider, subjectID string) (*models.ProviderLink, error) {
	var link models.ProviderLink
	err := r.DB.WithContext(ctx).
		Where("provider = ? AND subject_id = ?", provider, subjectID).
		First(&link).Error
	if err != nil {
		return nil, wrap("find provider link", err)
	}
	return &link, nil
}

// UpsertProviderLink inserts the link or refreshes the cached provider
// tokens of the existing one. The owning user is never changed, and an
// empty provider refresh token does not erase a stored one.
func (r *GormRepo) UpsertProviderLink(ctx context.Context, link *models.ProviderLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	update := []string{"access_token", "expires_at", "updated_at"}
	if link.RefreshToken != "" {
		update = append(update, "refresh_token")
	}
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Omit("User").Create(link).Error
	return wrap("upsert provider link", err)
}
