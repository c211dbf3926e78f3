package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/Skotchmaster/autho/internal/models"
)

func (r *GormRepo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, wrap("find user by email", err)
	}
	return &user, nil
}

func (r *GormRepo) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, wrap("find user by id", err)
	}
	return &user, nil
}

// CreateUser inserts an active user. An email that is already taken fails
// with ErrDuplicateCredential.
func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = models.NormalizeEmail(u.Email)
	u.IsActive = true
	return wrap("create user", r.DB.WithContext(ctx).Create(u).Error)
}

// UpdateUser writes only the fields present in upd.
func (r *GormRepo) UpdateUser(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	cols := upd.Columns()
	if len(cols) > 0 {
		cols["updated_at"] = r.DB.NowFunc()
		res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, wrap("update user", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return r.FindUserByID(ctx, id)
}
