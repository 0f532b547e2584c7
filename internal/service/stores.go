package service

import (
	"context"
	"time"

	"plantscan/api/internal/models"
	"plantscan/api/internal/payments"
	"plantscan/api/internal/storage"
)

// UserStore is satisfied by repository.UserRepository and memstore.Users.
type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (models.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash []byte) error
}

type ResetTokenStore interface {
	Replace(ctx context.Context, reset models.PasswordReset) error
	Consume(ctx context.Context, tokenHash []byte, now time.Time, passwordHash []byte) (string, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type SubscriptionStore interface {
	GetActive(ctx context.Context, userID string) (models.Subscription, error)
	GetByPaymentReference(ctx context.Context, reference string) (models.Subscription, error)
	Activate(ctx context.Context, sub models.Subscription) (models.Subscription, error)
	Cancel(ctx context.Context, userID string) (models.Subscription, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

type ScanStore interface {
	Get(ctx context.Context, userID, day string) (models.ScanCounter, error)
	Increment(ctx context.Context, userID, day string) (models.ScanCounter, error)
	Reserve(ctx context.Context, userID, day string, limit int) (models.ScanCounter, bool, error)
	Release(ctx context.Context, userID, day string) (models.ScanCounter, error)
}

type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Notifier hands outbound mail to the worker, or sends it inline.
type Notifier interface {
	NotifyPasswordReset(ctx context.Context, email, link string, ttl time.Duration) error
	NotifySubscriptionActivated(ctx context.Context, email string, sub models.Subscription) error
}

type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (payments.Verification, error)
}

type AvatarPresigner interface {
	PresignAvatarUpload(ctx context.Context, userID, contentType string) (storage.AvatarUpload, error)
}

// Principal is the caller identified by a verified session token.
type Principal struct {
	UserID    string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}
