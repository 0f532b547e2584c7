package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"plantscan/api/internal/apperr"
	"plantscan/api/internal/config"
	"plantscan/api/internal/ids"
	"plantscan/api/internal/metrics"
	"plantscan/api/internal/models"
	"plantscan/api/internal/payments"
	"plantscan/api/internal/repository"
)

type EntitlementService struct {
	subs           SubscriptionStore
	scans          ScanStore
	users          UserStore
	verifier       PaymentVerifier
	notifier       Notifier
	freeDailyLimit int
	payments       config.PaymentsConfig
	log            zerolog.Logger
	now            func() time.Time
}

func NewEntitlementService(
	subs SubscriptionStore,
	scans ScanStore,
	users UserStore,
	verifier PaymentVerifier,
	notifier Notifier,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *EntitlementService {
	return &EntitlementService{
		subs:           subs,
		scans:          scans,
		users:          users,
		verifier:       verifier,
		notifier:       notifier,
		freeDailyLimit: cfg.Entitlement.FreeDailyLimit,
		payments:       cfg.Payments,
		log:            log,
		now:            time.Now,
	}
}

// ScanReservation is the answer to a reserve request. Remaining is nil for
// unlimited subscribers.
type ScanReservation struct {
	Allowed   bool
	Unlimited bool
	ScanDate  string
	ScanCount int
	Remaining *int
}

type Summary struct {
	CanScan      bool
	Unlimited    bool
	Limit        int
	ScanDate     string
	ScansToday   int
	Remaining    *int
	Subscription *models.Subscription
}

type ActivationInput struct {
	UserID           string
	PaymentReference string
	PlanType         models.PlanType
	BillingCycle     models.BillingCycle
}

// ActiveSubscription returns the subscription that currently grants access,
// or nil. A stored active row whose end date has passed does not count.
func (s *EntitlementService) ActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subs.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	if !sub.GrantsAccess(s.now()) {
		return nil, nil
	}
	return &sub, nil
}

// CanScan reports whether userID may start a scan today.
func (s *EntitlementService) CanScan(ctx context.Context, userID string) (bool, error) {
	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	if sub != nil {
		return true, nil
	}

	count, err := s.ScanCount(ctx, userID, models.ScanDay(s.now()))
	if err != nil {
		return false, err
	}
	return count < s.freeDailyLimit, nil
}

// ScanCount returns the day's count, zero when nothing was recorded.
func (s *EntitlementService) ScanCount(ctx context.Context, userID, day string) (int, error) {
	counter, err := s.scans.Get(ctx, userID, day)
	if err != nil {
		if errors.Is(err, repository.ErrScanCounterNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get scan counter: %w", err)
	}
	return counter.ScanCount, nil
}

// ScanCounter returns the stored counter for day, or nil when none exists.
func (s *EntitlementService) ScanCounter(ctx context.Context, userID, day string) (*models.ScanCounter, error) {
	day, err := parseDay(day)
	if err != nil {
		return nil, err
	}
	counter, err := s.scans.Get(ctx, userID, day)
	if err != nil {
		if errors.Is(err, repository.ErrScanCounterNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scan counter: %w", err)
	}
	return &counter, nil
}

// IncrementScan records one scan for day without consulting the quota.
func (s *EntitlementService) IncrementScan(ctx context.Context, userID, day string) (models.ScanCounter, error) {
	day, err := parseDay(day)
	if err != nil {
		return models.ScanCounter{}, err
	}
	counter, err := s.scans.Increment(ctx, userID, day)
	if err != nil {
		return models.ScanCounter{}, fmt.Errorf("increment scan counter: %w", err)
	}
	metrics.RecordScan("increment", "recorded")
	return counter, nil
}

// ReserveScan checks the quota and takes one scan from today's allowance in a
// single store operation. A denial leaves the counter untouched.
func (s *EntitlementService) ReserveScan(ctx context.Context, userID string) (ScanReservation, error) {
	day := models.ScanDay(s.now())

	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return ScanReservation{}, err
	}
	if sub != nil {
		counter, _, err := s.scans.Reserve(ctx, userID, day, 0)
		if err != nil {
			return ScanReservation{}, fmt.Errorf("reserve scan: %w", err)
		}
		metrics.RecordScan("reserve", "unlimited")
		return ScanReservation{Allowed: true, Unlimited: true, ScanDate: day, ScanCount: counter.ScanCount}, nil
	}

	if s.freeDailyLimit <= 0 {
		count, err := s.ScanCount(ctx, userID, day)
		if err != nil {
			return ScanReservation{}, err
		}
		metrics.RecordScan("reserve", "denied")
		return ScanReservation{ScanDate: day, ScanCount: count, Remaining: remaining(s.freeDailyLimit, count)}, nil
	}

	counter, ok, err := s.scans.Reserve(ctx, userID, day, s.freeDailyLimit)
	if err != nil {
		return ScanReservation{}, fmt.Errorf("reserve scan: %w", err)
	}
	outcome := "allowed"
	if !ok {
		outcome = "denied"
	}
	metrics.RecordScan("reserve", outcome)
	return ScanReservation{
		Allowed:   ok,
		ScanDate:  day,
		ScanCount: counter.ScanCount,
		Remaining: remaining(s.freeDailyLimit, counter.ScanCount),
	}, nil
}

// ReleaseScan gives back a scan taken by ReserveScan after the identification
// failed. Only today's outstanding reservations can be released, so plain
// increments and past days are never undone.
func (s *EntitlementService) ReleaseScan(ctx context.Context, userID, day string) (models.ScanCounter, error) {
	day, err := parseDay(day)
	if err != nil {
		return models.ScanCounter{}, err
	}
	if day != models.ScanDay(s.now()) {
		return models.ScanCounter{}, ErrReleaseNotToday
	}
	counter, err := s.scans.Release(ctx, userID, day)
	if err != nil {
		if errors.Is(err, repository.ErrScanCounterNotFound) {
			return models.ScanCounter{}, ErrNoScansRecorded
		}
		if errors.Is(err, repository.ErrNoReservation) {
			return models.ScanCounter{}, ErrNoReservedScan
		}
		return models.ScanCounter{}, fmt.Errorf("release scan: %w", err)
	}
	metrics.RecordScan("release", "released")
	return counter, nil
}

func (s *EntitlementService) Summary(ctx context.Context, userID string) (Summary, error) {
	day := models.ScanDay(s.now())

	sub, err := s.ActiveSubscription(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	count, err := s.ScanCount(ctx, userID, day)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Limit:        s.freeDailyLimit,
		ScanDate:     day,
		ScansToday:   count,
		Subscription: sub,
	}
	if sub != nil {
		summary.CanScan = true
		summary.Unlimited = true
		return summary, nil
	}
	summary.CanScan = count < s.freeDailyLimit
	summary.Remaining = remaining(s.freeDailyLimit, count)
	return summary, nil
}

// VerifyPayment asks the gateway about reference. Any ambiguous outcome is
// ErrPaymentVerifierUnavailable, never success.
func (s *EntitlementService) VerifyPayment(ctx context.Context, reference string) (payments.Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return payments.Verification{}, ErrPaymentReferenceRequired
	}

	verification, err := s.verifier.Verify(ctx, reference)
	if err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("payment verification unavailable")
		return payments.Verification{}, ErrPaymentVerifierUnavailable
	}
	if !verification.Success {
		s.log.Info().Str("reference", reference).Str("status", verification.Status).Msg("payment not successful")
		return verification, ErrPaymentVerificationFailed
	}
	return verification, nil
}

// VerifyAndActivateSubscription activates a subscription only after the
// gateway confirmed the payment server to server. A payment reference
// activates at most one subscription.
func (s *EntitlementService) VerifyAndActivateSubscription(ctx context.Context, input ActivationInput) (models.Subscription, error) {
	sub, err := s.verifyAndActivate(ctx, input)
	if err != nil {
		metrics.RecordActivation(activationOutcome(err))
		return models.Subscription{}, err
	}
	metrics.RecordActivation("success")
	return sub, nil
}

func (s *EntitlementService) verifyAndActivate(ctx context.Context, input ActivationInput) (models.Subscription, error) {
	reference := strings.TrimSpace(input.PaymentReference)
	if reference == "" {
		return models.Subscription{}, ErrPaymentReferenceRequired
	}
	if !input.PlanType.Valid() {
		return models.Subscription{}, ErrInvalidPlan
	}
	if !input.BillingCycle.Valid() {
		return models.Subscription{}, ErrInvalidBillingCycle
	}

	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Subscription{}, ErrUserNotFound
		}
		return models.Subscription{}, fmt.Errorf("get user: %w", err)
	}

	if _, err := s.subs.GetByPaymentReference(ctx, reference); err == nil {
		return models.Subscription{}, ErrPaymentReferenceUsed
	} else if !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return models.Subscription{}, fmt.Errorf("lookup payment reference: %w", err)
	}

	verification, err := s.VerifyPayment(ctx, reference)
	if err != nil {
		return models.Subscription{}, err
	}
	if err := s.checkPaymentTerms(input, verification); err != nil {
		s.log.Warn().
			Err(err).
			Str("user_id", input.UserID).
			Str("reference", reference).
			Int64("amount", verification.Amount).
			Str("currency", verification.Currency).
			Msg("payment does not cover requested plan")
		return models.Subscription{}, ErrPaymentVerificationFailed
	}

	now := s.now()
	created, err := s.subs.Activate(ctx, models.Subscription{
		ID:               ids.New(),
		UserID:           input.UserID,
		PlanType:         input.PlanType,
		BillingCycle:     input.BillingCycle,
		Status:           models.SubscriptionActive,
		StartDate:        now,
		EndDate:          now.Add(input.BillingCycle.Period()),
		PaymentReference: &reference,
		Amount:           verification.Amount,
		Currency:         verification.Currency,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicatePaymentReference):
			return models.Subscription{}, ErrPaymentReferenceUsed
		case errors.Is(err, repository.ErrActiveSubscriptionConflict):
			return models.Subscription{}, ErrActivationInProgress
		default:
			return models.Subscription{}, fmt.Errorf("activate subscription: %w", err)
		}
	}

	s.log.Info().
		Str("user_id", created.UserID).
		Str("subscription_id", created.ID).
		Str("plan", string(created.PlanType)).
		Str("cycle", string(created.BillingCycle)).
		Time("end_date", created.EndDate).
		Msg("subscription activated")

	if err := s.notifier.NotifySubscriptionActivated(ctx, user.Email, created); err != nil {
		s.log.Error().Err(err).Str("user_id", created.UserID).Msg("queue receipt mail failed")
	}
	return created, nil
}

// checkPaymentTerms matches the verified payment against the requested plan.
func (s *EntitlementService) checkPaymentTerms(input ActivationInput, v payments.Verification) error {
	if owner := v.Metadata["userId"]; owner != "" && owner != input.UserID {
		return fmt.Errorf("payment belongs to user %s", owner)
	}
	if s.payments.Currency != "" && !strings.EqualFold(v.Currency, s.payments.Currency) {
		return fmt.Errorf("currency %q, want %q", v.Currency, s.payments.Currency)
	}
	price := s.payments.Prices.For(string(input.PlanType), string(input.BillingCycle))
	if price > 0 && v.Amount < price {
		return fmt.Errorf("amount %d below price %d", v.Amount, price)
	}
	return nil
}

// HandleWebhookEvent activates the subscription named in a charge.success
// event. Events that cannot lead to an activation are acknowledged and
// logged; only a retryable failure is returned so the gateway redelivers.
func (s *EntitlementService) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error {
	if event.Event != payments.EventChargeSuccess {
		s.log.Debug().Str("event", event.Event).Msg("webhook event ignored")
		return nil
	}

	input := ActivationInput{
		UserID:           event.Metadata["userId"],
		PaymentReference: event.Reference,
		PlanType:         models.PlanType(event.Metadata["planType"]),
		BillingCycle:     models.BillingCycle(event.Metadata["billingCycle"]),
	}
	if input.UserID == "" {
		s.log.Warn().Str("reference", event.Reference).Msg("webhook charge without user metadata")
		return nil
	}

	_, err := s.VerifyAndActivateSubscription(ctx, input)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentReferenceUsed):
		s.log.Debug().Str("reference", event.Reference).Msg("webhook for already activated reference")
		return nil
	default:
		if appErr, ok := apperr.As(err); ok && !appErr.Retryable {
			s.log.Warn().Err(err).Str("reference", event.Reference).Str("user_id", input.UserID).Msg("webhook activation rejected")
			return nil
		}
		return err
	}
}

func (s *EntitlementService) CancelSubscription(ctx context.Context, userID string) (models.Subscription, error) {
	sub, err := s.subs.Cancel(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return models.Subscription{}, ErrNoActiveSubscription
		}
		return models.Subscription{}, fmt.Errorf("cancel subscription: %w", err)
	}
	s.log.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Msg("subscription cancelled")
	return sub, nil
}

// ExpireLapsedSubscriptions marks active subscriptions past their end date
// as expired. Reads never depend on it having run.
func (s *EntitlementService) ExpireLapsedSubscriptions(ctx context.Context) (int64, error) {
	return s.subs.ExpireLapsed(ctx, s.now())
}

func parseDay(day string) (string, error) {
	normalized, err := models.ParseScanDay(day)
	if err != nil {
		return "", ErrInvalidScanDate
	}
	return normalized, nil
}

func remaining(limit, count int) *int {
	left := limit - count
	if left < 0 {
		left = 0
	}
	return &left
}

func activationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrPaymentVerifierUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPaymentReferenceUsed):
		return "reused_reference"
	case errors.Is(err, ErrPaymentVerificationFailed):
		return "failed"
	default:
		return "error"
	}
}
