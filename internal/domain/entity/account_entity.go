package entity

import (
	"time"
)

// Account is the aggregate root for the profile domain.
// PasswordHash holds a bcrypt hash and is never serialized.
//
// AvatarKey is a logical store key (avatars/<id>/<file>), resolved to a
// path or URL by the avatar store, never a filesystem path.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	AvatarKey    string    `json:"avatar_key,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Touch refreshes UpdatedAt, never letting it fall behind CreatedAt.
func (a *Account) Touch(now time.Time) {
	now = now.UTC()
	if now.Before(a.CreatedAt) {
		now = a.CreatedAt
	}
	a.UpdatedAt = now
}

func (a *Account) HasAvatar() bool {
	return a.AvatarKey != ""
}
