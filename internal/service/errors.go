package service

import "plantscan/api/internal/apperr"

// Errors returned to API clients. Match with errors.Is.
var (
	ErrEmailRequired    = apperr.Validation("email is required")
	ErrPasswordRequired = apperr.Validation("password is required")
	ErrInvalidEmail     = apperr.Validation("invalid email address")
	ErrPasswordTooShort = apperr.Validation("password must be at least 6 characters")
	ErrPasswordTooLong  = apperr.Validation("password must be at most 72 bytes")
	ErrDuplicateEmail   = apperr.Conflict("email already registered")

	ErrInvalidCredentials    = apperr.Authentication("invalid email or password")
	ErrUnauthenticated       = apperr.Authentication("unauthorized")
	ErrResetTokenRequired    = apperr.Validation("token is required")
	ErrInvalidOrExpiredToken = apperr.Validation("invalid or expired reset token")

	ErrForbidden          = apperr.Forbidden("forbidden")
	ErrUserNotFound       = apperr.NotFound("user not found")
	ErrNothingToUpdate    = apperr.Validation("no profile fields to update")
	ErrDisplayNameTooLong = apperr.Validation("full name must be at most 100 characters")
	ErrInvalidAvatarURL   = apperr.Validation("avatar url must be an http or https url")

	ErrAvatarUploadsDisabled = apperr.NotFound("avatar uploads are not available")
	ErrUnsupportedAvatarType = apperr.Validation("avatar must be image/jpeg, image/png or image/webp")

	ErrInvalidScanDate      = apperr.Validation("invalid date, expected YYYY-MM-DD")
	ErrNoScansRecorded      = apperr.NotFound("no scans recorded for that day")
	ErrNoReservedScan       = apperr.Conflict("no reserved scan to release")
	ErrReleaseNotToday      = apperr.Validation("only today's reservations can be released")
	ErrInvalidPlan          = apperr.Validation("invalid plan type")
	ErrInvalidBillingCycle  = apperr.Validation("invalid billing cycle")
	ErrNoActiveSubscription = apperr.NotFound("no active subscription")

	ErrPaymentReferenceRequired   = apperr.Validation("payment reference is required")
	ErrPaymentVerificationFailed  = apperr.Validation("payment verification failed")
	ErrPaymentVerifierUnavailable = apperr.Dependency("payment verification unavailable, try again later")
	ErrPaymentReferenceUsed       = apperr.Conflict("payment reference already used")
	ErrActivationInProgress       = &apperr.Error{
		Kind:      apperr.KindConflict,
		Message:   "another activation is in progress, try again",
		Retryable: true,
	}
)
