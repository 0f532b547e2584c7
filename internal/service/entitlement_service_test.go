package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantscan/api/internal/models"
	"plantscan/api/internal/payments"
)

func activation(userID, reference string) ActivationInput {
	return ActivationInput{
		UserID:           userID,
		PaymentReference: reference,
		PlanType:         models.PlanPremium,
		BillingCycle:     models.BillingMonthly,
	}
}

func TestFreeTierAllowsFiveScansPerDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	today := models.ScanDay(env.clock.Now())

	for i := 1; i <= 5; i++ {
		ok, err := env.entitlement.CanScan(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, ok, "scan %d should be allowed", i)

		counter, err := env.entitlement.IncrementScan(ctx, user.ID, today)
		require.NoError(t, err)
		assert.Equal(t, i, counter.ScanCount)
	}

	ok, err := env.entitlement.CanScan(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, ok, "sixth scan must be denied")

	counter, err := env.entitlement.IncrementScan(ctx, user.ID, today)
	require.NoError(t, err)
	assert.Equal(t, 6, counter.ScanCount, "plain increment is not gated")

	env.clock.Advance(24 * time.Hour)
	ok, err = env.entitlement.CanScan(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok, "a new day starts a fresh counter")

	count, err := env.entitlement.ScanCount(ctx, user.ID, models.ScanDay(env.clock.Now()))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConcurrentIncrementsAreAllCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.entitlement.IncrementScan(ctx, "u1", "2025-01-01")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := env.entitlement.ScanCount(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestCanScanHonoursSubscriptionEndDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	_, err := env.store.Subscriptions().Activate(ctx, models.Subscription{
		ID: "s-live", UserID: "live", Status: models.SubscriptionActive, EndDate: now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = env.store.Subscriptions().Activate(ctx, models.Subscription{
		ID: "s-lapsed", UserID: "lapsed", Status: models.SubscriptionActive, EndDate: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := env.entitlement.IncrementScan(ctx, "live", models.ScanDay(now))
		require.NoError(t, err)
		_, err = env.entitlement.IncrementScan(ctx, "lapsed", models.ScanDay(now))
		require.NoError(t, err)
	}

	ok, err := env.entitlement.CanScan(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.entitlement.CanScan(ctx, "lapsed")
	require.NoError(t, err)
	assert.False(t, ok, "stored status active with a past end date grants nothing")

	sub, err := env.entitlement.ActiveSubscription(ctx, "lapsed")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestReserveAndReleaseScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	today := models.ScanDay(env.clock.Now())

	for i := 1; i <= 5; i++ {
		res, err := env.entitlement.ReserveScan(ctx, "u1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, i, res.ScanCount)
		require.NotNil(t, res.Remaining)
		assert.Equal(t, 5-i, *res.Remaining)
	}

	denied, err := env.entitlement.ReserveScan(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 5, denied.ScanCount, "a denial leaves the counter untouched")

	released, err := env.entitlement.ReleaseScan(ctx, "u1", today)
	require.NoError(t, err)
	assert.Equal(t, 4, released.ScanCount)

	again, err := env.entitlement.ReserveScan(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.Allowed)

	_, err = env.entitlement.ReleaseScan(ctx, "u2", today)
	assert.ErrorIs(t, err, ErrNoScansRecorded)
	_, err = env.entitlement.ReleaseScan(ctx, "u1", "yesterday")
	assert.ErrorIs(t, err, ErrInvalidScanDate)
}

func TestReleaseOnlyUndoesTodaysReservations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	today := models.ScanDay(env.clock.Now())
	yesterday := models.ScanDay(env.clock.Now().AddDate(0, 0, -1))

	_, err := env.entitlement.IncrementScan(ctx, "u1", yesterday)
	require.NoError(t, err)
	_, err = env.entitlement.ReleaseScan(ctx, "u1", yesterday)
	assert.ErrorIs(t, err, ErrReleaseNotToday)

	_, err = env.entitlement.IncrementScan(ctx, "u1", today)
	require.NoError(t, err)
	_, err = env.entitlement.ReleaseScan(ctx, "u1", today)
	assert.ErrorIs(t, err, ErrNoReservedScan, "plain increments are not releasable")

	res, err := env.entitlement.ReserveScan(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	released, err := env.entitlement.ReleaseScan(ctx, "u1", today)
	require.NoError(t, err)
	assert.Equal(t, 1, released.ScanCount)

	_, err = env.entitlement.ReleaseScan(ctx, "u1", today)
	assert.ErrorIs(t, err, ErrNoReservedScan, "a reservation is released once")
}

func TestConcurrentReservationsNeverExceedLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.entitlement.ReserveScan(ctx, "u1")
			assert.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestReserveScanForSubscriberIsUnlimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	env.verifier.paid("ref-1", 500000)
	_, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		res, err := env.entitlement.ReserveScan(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.True(t, res.Unlimited)
		assert.Nil(t, res.Remaining)
	}
}

func TestReserveScanWithZeroLimitDenies(t *testing.T) {
	env := newTestEnv(t)
	env.entitlement.freeDailyLimit = 0

	res, err := env.entitlement.ReserveScan(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.ScanCount)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	_, err := env.entitlement.ReserveScan(ctx, user.ID)
	require.NoError(t, err)

	summary, err := env.entitlement.Summary(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, summary.CanScan)
	assert.False(t, summary.Unlimited)
	assert.Equal(t, 5, summary.Limit)
	assert.Equal(t, 1, summary.ScansToday)
	require.NotNil(t, summary.Remaining)
	assert.Equal(t, 4, *summary.Remaining)
	assert.Nil(t, summary.Subscription)

	env.verifier.paid("ref-1", 500000)
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	require.NoError(t, err)

	summary, err = env.entitlement.Summary(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, summary.Unlimited)
	assert.Nil(t, summary.Remaining)
	require.NotNil(t, summary.Subscription)
	assert.Equal(t, models.PlanPremium, summary.Subscription.PlanType)
}

func TestVerifyAndActivateSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	env.verifier.paid("ref-1", 500000)

	sub, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, env.clock.Now(), sub.StartDate)
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), sub.EndDate)
	require.NotNil(t, sub.PaymentReference)
	assert.Equal(t, "ref-1", *sub.PaymentReference)
	assert.Equal(t, int64(500000), sub.Amount)
	assert.Len(t, env.notifier.receipts, 1)

	env.verifier.paid("ref-2", 5000000)
	yearly := activation(user.ID, "ref-2")
	yearly.BillingCycle = models.BillingYearly
	renewed, err := env.entitlement.VerifyAndActivateSubscription(ctx, yearly)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(365*24*time.Hour), renewed.EndDate)

	active, err := env.entitlement.ActiveSubscription(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, renewed.ID, active.ID, "a new activation replaces the prior one")
}

func TestReusedPaymentReferenceActivatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	env.verifier.paid("ref-1", 500000)

	_, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	require.NoError(t, err)

	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	assert.ErrorIs(t, err, ErrPaymentReferenceUsed)
	assert.Len(t, env.store.Subscriptions().All(user.ID), 1)
}

func TestConcurrentDuplicateActivationsGrantOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	env.verifier.paid("ref-1", 500000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrPaymentReferenceUsed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, env.store.Subscriptions().All(user.ID), 1)
}

func TestActivationFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User

	env.verifier.err = payments.ErrUnavailable
	_, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	assert.ErrorIs(t, err, ErrPaymentVerifierUnavailable)

	env.verifier.err = errors.New("context deadline exceeded")
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	assert.ErrorIs(t, err, ErrPaymentVerifierUnavailable)

	env.verifier.err = nil
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "unpaid"))
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)

	assert.Empty(t, env.store.Subscriptions().All(user.ID))
	ok, err := env.entitlement.CanScan(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok, "free tier remains")
}

func TestActivationChecksPaymentTerms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User

	env.verifier.paid("cheap", 200000)
	_, err := env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "cheap"))
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed, "basic price does not buy premium")

	env.verifier.set("usd", payments.Verification{Reference: "usd", Success: true, Amount: 500000, Currency: "USD"})
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "usd"))
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)

	env.verifier.set("theirs", payments.Verification{
		Reference: "theirs", Success: true, Amount: 500000, Currency: "NGN",
		Metadata: map[string]string{"userId": "someone-else"},
	})
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "theirs"))
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)

	assert.Empty(t, env.store.Subscriptions().All(user.ID))
}

func TestActivationValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User

	bad := activation(user.ID, "")
	_, err := env.entitlement.VerifyAndActivateSubscription(ctx, bad)
	assert.ErrorIs(t, err, ErrPaymentReferenceRequired)

	bad = activation(user.ID, "ref-1")
	bad.PlanType = "gold"
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	bad = activation(user.ID, "ref-1")
	bad.BillingCycle = "weekly"
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)

	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation("ghost", "ref-1"))
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.Zero(t, env.verifier.calls, "invalid input never reaches the gateway")
}

func TestVerifyPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verifier.paid("ref-1", 500000)

	v, err := env.entitlement.VerifyPayment(ctx, " ref-1 ")
	require.NoError(t, err)
	assert.True(t, v.Success)
	assert.Equal(t, int64(500000), v.Amount)

	_, err = env.entitlement.VerifyPayment(ctx, "")
	assert.ErrorIs(t, err, ErrPaymentReferenceRequired)
	_, err = env.entitlement.VerifyPayment(ctx, "unknown")
	assert.ErrorIs(t, err, ErrPaymentVerificationFailed)
}

func TestHandleWebhookEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User
	env.verifier.paid("ref-1", 500000)

	event := payments.WebhookEvent{
		Event:     payments.EventChargeSuccess,
		Reference: "ref-1",
		Metadata:  map[string]string{"userId": user.ID, "planType": "premium", "billingCycle": "monthly"},
	}
	require.NoError(t, env.entitlement.HandleWebhookEvent(ctx, event))
	require.NoError(t, env.entitlement.HandleWebhookEvent(ctx, event), "redelivery is acknowledged")
	assert.Len(t, env.store.Subscriptions().All(user.ID), 1)

	assert.NoError(t, env.entitlement.HandleWebhookEvent(ctx, payments.WebhookEvent{Event: "transfer.success"}))
	assert.NoError(t, env.entitlement.HandleWebhookEvent(ctx, payments.WebhookEvent{Event: payments.EventChargeSuccess, Reference: "x"}))

	env.verifier.err = payments.ErrUnavailable
	event.Reference = "ref-2"
	assert.ErrorIs(t, env.entitlement.HandleWebhookEvent(ctx, event), ErrPaymentVerifierUnavailable)
}

func TestCancelAndExpireSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signUp(t, "a@x.com", "secret1").User

	_, err := env.entitlement.CancelSubscription(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	env.verifier.paid("ref-1", 500000)
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-1"))
	require.NoError(t, err)

	cancelled, err := env.entitlement.CancelSubscription(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, cancelled.Status)

	env.verifier.paid("ref-2", 500000)
	_, err = env.entitlement.VerifyAndActivateSubscription(ctx, activation(user.ID, "ref-2"))
	require.NoError(t, err)

	n, err := env.entitlement.ExpireLapsedSubscriptions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(31 * 24 * time.Hour)
	n, err = env.entitlement.ExpireLapsedSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScanCounterLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	counter, err := env.entitlement.ScanCounter(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	assert.Nil(t, counter)

	_, err = env.entitlement.IncrementScan(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	counter, err = env.entitlement.ScanCounter(ctx, "u1", "2025-01-01")
	require.NoError(t, err)
	require.NotNil(t, counter)
	assert.Equal(t, 1, counter.ScanCount)

	_, err = env.entitlement.ScanCounter(ctx, "u1", "2025-02-30")
	assert.ErrorIs(t, err, ErrInvalidScanDate)
}
