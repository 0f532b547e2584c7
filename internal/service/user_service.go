package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"plantscan/api/internal/models"
	"plantscan/api/internal/repository"
	"plantscan/api/internal/storage"
)

const maxDisplayName = 100

type UserService struct {
	users   UserStore
	avatars AvatarPresigner
	log     zerolog.Logger
}

// NewUserService builds the profile service. avatars may be nil when object
// storage is not configured.
func NewUserService(users UserStore, avatars AvatarPresigner, log zerolog.Logger) *UserService {
	return &UserService{users: users, avatars: avatars, log: log}
}

func (s *UserService) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (models.User, error) {
	if update.Empty() {
		return models.User{}, ErrNothingToUpdate
	}
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if len([]rune(name)) > maxDisplayName {
			return models.User{}, ErrDisplayNameTooLong
		}
		update.DisplayName = &name
	}
	if update.AvatarURL != nil {
		avatar := strings.TrimSpace(*update.AvatarURL)
		if avatar != "" && validate.Var(avatar, "http_url") != nil {
			return models.User{}, ErrInvalidAvatarURL
		}
		update.AvatarURL = &avatar
	}

	user, err := s.users.UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	s.log.Info().Str("user_id", userID).Msg("profile updated")
	return user, nil
}

// PresignAvatar returns an upload URL for a new avatar. The caller stores the
// returned public URL with UpdateProfile once the upload finished.
func (s *UserService) PresignAvatar(ctx context.Context, userID, contentType string) (storage.AvatarUpload, error) {
	if s.avatars == nil {
		return storage.AvatarUpload{}, ErrAvatarUploadsDisabled
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return storage.AvatarUpload{}, err
	}

	upload, err := s.avatars.PresignAvatarUpload(ctx, userID, contentType)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedContentType) {
			return storage.AvatarUpload{}, ErrUnsupportedAvatarType
		}
		return storage.AvatarUpload{}, fmt.Errorf("presign avatar: %w", err)
	}
	return upload, nil
}
