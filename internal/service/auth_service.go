package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"plantscan/api/internal/config"
	"plantscan/api/internal/ids"
	"plantscan/api/internal/metrics"
	"plantscan/api/internal/models"
	"plantscan/api/internal/repository"
	"plantscan/api/internal/security"
)

const (
	ResetTokenTTL     = time.Hour
	minPasswordLength = 6
	maxPasswordBytes  = 72
)

var validate = validator.New()

type AuthService struct {
	users    UserStore
	resets   ResetTokenStore
	tokens   *security.TokenService
	denylist TokenDenylist
	notifier Notifier
	cfg      *config.AppConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(
	users UserStore,
	resets ResetTokenStore,
	tokens *security.TokenService,
	denylist TokenDenylist,
	notifier Notifier,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		resets:   resets,
		tokens:   tokens,
		denylist: denylist,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

type AuthResult struct {
	User  models.User
	Token string
}

func (s *AuthService) SignUp(ctx context.Context, input SignUpInput) (AuthResult, error) {
	email := normalizeEmail(input.Email)
	if err := validateCredentials(email, input.Password); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if err := validateNewPassword(input.Password); err != nil {
		return AuthResult{}, err
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if len([]rune(displayName)) > maxDisplayName {
		return AuthResult{}, ErrDisplayNameTooLong
	}

	passwordHash, err := security.HashPassword(input.Password, s.cfg.Security.BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Provider:     models.AuthProviderPassword,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			metrics.RecordAuth("signup", "duplicate")
			return AuthResult{}, ErrDuplicateEmail
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	metrics.RecordAuth("signup", "success")
	s.log.Info().Str("user_id", user.ID).Msg("user signed up")
	return AuthResult{User: user, Token: token}, nil
}

// SignIn answers ErrInvalidCredentials for unknown emails and wrong passwords
// alike, and spends a bcrypt comparison in both cases.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, fmt.Errorf("find user: %w", err)
		}
		security.BurnPasswordCheck(password, s.cfg.Security.BcryptCost)
		return AuthResult{}, s.failSignIn("", "unknown email")
	}

	if len(user.PasswordHash) == 0 {
		security.BurnPasswordCheck(password, s.cfg.Security.BcryptCost)
		return AuthResult{}, s.failSignIn(user.ID, "account has no password")
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
		return AuthResult{}, s.failSignIn(user.ID, "unreadable hash")
	}
	if !ok {
		return AuthResult{}, s.failSignIn(user.ID, "wrong password")
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	metrics.RecordAuth("signin", "success")
	return AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) failSignIn(userID, reason string) error {
	metrics.RecordAuth("signin", "failure")
	event := s.log.Warn().Str("reason", reason)
	if userID != "" {
		event = event.Str("user_id", userID)
	}
	event.Msg("sign in rejected")
	return ErrInvalidCredentials
}

// Authenticate verifies a bearer token and checks it has not been revoked.
// Every failure, including an unreadable denylist, is ErrUnauthenticated.
func (s *AuthService) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.log.Debug().Err(err).Msg("bearer token rejected")
		return Principal{}, ErrUnauthenticated
	}

	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", claims.UserID).Msg("token denylist unavailable")
			return Principal{}, ErrUnauthenticated
		}
		if revoked {
			return Principal{}, ErrUnauthenticated
		}
	}

	principal := Principal{
		UserID:  claims.UserID,
		Email:   claims.Email,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

// SignOut revokes the caller's token until it would have expired.
func (s *AuthService) SignOut(ctx context.Context, principal Principal) error {
	if s.denylist == nil {
		return nil
	}
	if err := s.denylist.Revoke(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	metrics.RecordAuth("signout", "success")
	s.log.Info().Str("user_id", principal.UserID).Msg("user signed out")
	return nil
}

// RequestPasswordReset never reveals whether email belongs to an account.
// Only malformed input is reported.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	if err := validateEmail(email); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.log.Error().Err(err).Msg("reset lookup failed")
		}
		return nil
	}
	if user.Provider != models.AuthProviderPassword {
		s.log.Info().Str("user_id", user.ID).Str("provider", string(user.Provider)).Msg("reset skipped for federated account")
		return nil
	}

	raw, hash, err := security.GenerateResetToken()
	if err != nil {
		s.log.Error().Err(err).Msg("generate reset token failed")
		return nil
	}

	now := s.now()
	if err := s.resets.Replace(ctx, models.PasswordReset{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ResetTokenTTL),
	}); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("store reset token failed")
		return nil
	}

	link, err := resetLink(s.cfg.Security.ResetLinkBase, raw)
	if err != nil {
		s.log.Error().Err(err).Msg("build reset link failed")
		return nil
	}
	if err := s.notifier.NotifyPasswordReset(ctx, user.Email, link, ResetTokenTTL); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("queue reset mail failed")
		return nil
	}

	metrics.RecordAuth("reset_request", "issued")
	s.log.Info().Str("user_id", user.ID).Msg("password reset requested")
	return nil
}

// ConfirmPasswordReset spends a reset token and sets the new password in one
// store operation.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrResetTokenRequired
	}
	if newPassword == "" {
		return ErrPasswordRequired
	}
	if err := validateNewPassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := security.HashPassword(newPassword, s.cfg.Security.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.resets.Consume(ctx, security.HashResetToken(rawToken), s.now(), passwordHash)
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			metrics.RecordAuth("reset_confirm", "rejected")
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	metrics.RecordAuth("reset_confirm", "success")
	s.log.Info().Str("user_id", userID).Msg("password reset completed")
	return nil
}

func (s *AuthService) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	return s.resets.PurgeExpired(ctx, s.now())
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if password == "" {
		return ErrPasswordRequired
	}
	return nil
}

func validateEmail(email string) error {
	if err := validate.Var(email, "email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func validateNewPassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
