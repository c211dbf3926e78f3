package transport

import (
	"strings"
	"time"

	"github.com/Skotchmaster/autho/internal/models"
)

// AppleUser is the user object Apple posts on the first authorization
// only.
type AppleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email"`
}

func (u *AppleUser) DisplayName() string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
}

type CallbackRequest struct {
	Code        string     `json:"code"         form:"code"`
	RedirectURI string     `json:"redirect_uri" form:"redirect_uri"`
	State       string     `json:"state"        form:"state"`
	IDToken     string     `json:"id_token"     form:"id_token"`
	User        *AppleUser `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LoginResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type UserResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	FullName      string    `json:"full_name"`
	Picture       string    `json:"picture"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FullName:      u.FullName,
		Picture:       u.Picture,
		IsActive:      u.IsActive,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// UserUpdateRequest is a partial profile update; absent fields are left
// unchanged.
type UserUpdateRequest struct {
	FullName *string `json:"full_name"`
	Picture  *string `json:"picture"`
}

func (r UserUpdateRequest) Update() models.UserUpdate {
	return models.UserUpdate{
		FullName: models.FromPtr(r.FullName),
		Picture:  models.FromPtr(r.Picture),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LogoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}
