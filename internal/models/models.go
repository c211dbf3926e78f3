package models

import (
	"strings"
	"time"
)

const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// Refresh record revocation reasons.
const (
	RevokedRotated       = "rotated"
	RevokedLogout        = "logout"
	RevokedLogoutAll     = "logout_all"
	RevokedReuseDetected = "reuse_detected"
	RevokedDeactivated   = "deactivated"
)

type User struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"   json:"id"`
	Email         string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	EmailVerified bool      `gorm:"not null;default:false"        json:"email_verified"`
	FullName      string    `gorm:"size:255"                      json:"full_name"`
	Picture       string    `gorm:"type:text"                     json:"picture"`
	IsActive      bool      `gorm:"not null;default:true"         json:"is_active"`
	IsDisabled    bool      `gorm:"not null;default:false"        json:"is_disabled"`
	CreatedAt     time.Time `                                     json:"created_at"`
	UpdatedAt     time.Time `                                     json:"updated_at"`
}

type ProviderLink struct {
	ID           string     `gorm:"type:varchar(36);primaryKey"                               json:"id"`
	UserID       string     `gorm:"type:varchar(36);index;not null"                           json:"user_id"`
	User         *User      `gorm:"constraint:OnDelete:CASCADE"                               json:"-"`
	Provider     string     `gorm:"size:32;not null;uniqueIndex:idx_provider_subject,priority:1" json:"provider"`
	SubjectID    string     `gorm:"size:255;not null;uniqueIndex:idx_provider_subject,priority:2" json:"subject_id"`
	AccessToken  string     `gorm:"type:text"                                                 json:"-"`
	RefreshToken string     `gorm:"type:text"                                                 json:"-"`
	ExpiresAt    *time.Time `                                                                 json:"-"`
	CreatedAt    time.Time  `                                                                 json:"created_at"`
	UpdatedAt    time.Time  `                                                                 json:"updated_at"`
}

type RefreshToken struct {
	ID            string     `gorm:"type:varchar(36);primaryKey"     json:"id"`
	UserID        string     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	User          *User      `gorm:"constraint:OnDelete:CASCADE"     json:"-"`
	Fingerprint   string     `gorm:"size:64;uniqueIndex;not null"    json:"-"`
	JTI           string     `gorm:"size:36;uniqueIndex;not null"    json:"jti"`
	ExpiresAt     time.Time  `gorm:"not null;index"                  json:"expires_at"`
	Revoked       bool       `gorm:"not null;default:false"          json:"revoked"`
	RevokedAt     *time.Time `                                       json:"revoked_at,omitempty"`
	RevokedReason string     `gorm:"size:32"                         json:"revoked_reason,omitempty"`
	UserAgent     string     `gorm:"type:text"                       json:"user_agent"`
	IPAddress     string     `gorm:"size:45"                         json:"ip_address"`
	CreatedAt     time.Time  `                                       json:"created_at"`
}

// Active reports whether the record can still be redeemed at now.
func (r *RefreshToken) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// PendingState binds a login start to its callback. Only the hash of the
// state value is stored.
type PendingState struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"  json:"id"`
	Provider    string    `gorm:"size:32;not null"             json:"provider"`
	StateHash   string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	RedirectURI string    `gorm:"type:text"                    json:"redirect_uri"`
	ExpiresAt   time.Time `gorm:"not null;index"               json:"expires_at"`
	CreatedAt   time.Time `                                    json:"created_at"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
