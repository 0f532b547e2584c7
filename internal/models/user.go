package models

import "time"

type AuthProvider string

const (
	AuthProviderPassword AuthProvider = "password"
	AuthProviderGoogle   AuthProvider = "google"
	AuthProviderApple    AuthProvider = "apple"
)

// User is an identity record. PasswordHash is nil for users that signed in
// through a third-party identity provider.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	DisplayName  string
	AvatarURL    *string
	Provider     AuthProvider
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate carries the fields a user may change; nil means unchanged.
// An empty AvatarURL clears the avatar.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.AvatarURL == nil
}

type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}
