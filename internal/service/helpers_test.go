package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"plantscan/api/internal/config"
	"plantscan/api/internal/models"
	"plantscan/api/internal/payments"
	"plantscan/api/internal/repository/memstore"
	"plantscan/api/internal/security"
)

const testSecret = "test-secret-test-secret-test-secret"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentReset struct {
	email string
	link  string
}

type fakeNotifier struct {
	mu       sync.Mutex
	resets   []sentReset
	receipts []models.Subscription
}

func (n *fakeNotifier) NotifyPasswordReset(_ context.Context, email, link string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentReset{email: email, link: link})
	return nil
}

func (n *fakeNotifier) NotifySubscriptionActivated(_ context.Context, _ string, sub models.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, sub)
	return nil
}

// lastResetToken extracts the raw token from the most recent reset link.
func (n *fakeNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset mail sent")
	u, err := url.Parse(n.resets[len(n.resets)-1].link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type fakeVerifier struct {
	mu      sync.Mutex
	results map[string]payments.Verification
	err     error
	calls   int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{results: make(map[string]payments.Verification)}
}

// paid registers a successful payment for reference.
func (v *fakeVerifier) paid(reference string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[reference] = payments.Verification{
		Reference: reference,
		Success:   true,
		Status:    "success",
		Amount:    amount,
		Currency:  "NGN",
	}
}

func (v *fakeVerifier) set(reference string, verification payments.Verification) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[reference] = verification
}

func (v *fakeVerifier) Verify(_ context.Context, reference string) (payments.Verification, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return payments.Verification{}, v.err
	}
	result, ok := v.results[reference]
	if !ok {
		return payments.Verification{Reference: reference, Status: "rejected"}, nil
	}
	return result, nil
}

type fakeDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{revoked: make(map[string]time.Time)}
}

func (d *fakeDenylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.revoked[tokenID] = until
	return nil
}

func (d *fakeDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.revoked[tokenID]
	return ok, nil
}

var errStoreDown = errors.New("store down")

type testEnv struct {
	clock       *testClock
	store       *memstore.Store
	notifier    *fakeNotifier
	verifier    *fakeVerifier
	denylist    *fakeDenylist
	cfg         *config.AppConfig
	auth        *AuthService
	users       *UserService
	entitlement *EntitlementService
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Security: config.SecurityConfig{
			JWTSecret:     testSecret,
			BcryptCost:    bcrypt.MinCost,
			ResetLinkBase: "plantscan://reset-password",
		},
		Entitlement: config.EntitlementConfig{FreeDailyLimit: 5},
		Payments: config.PaymentsConfig{
			Currency: "NGN",
			Prices:   config.PriceTable{BasicMonthly: 200000, PremiumMonthly: 500000, PremiumYearly: 5000000},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	store := memstore.New().WithClock(clock.Now)
	cfg := testConfig()
	env := &testEnv{
		clock:    clock,
		store:    store,
		notifier: &fakeNotifier{},
		verifier: newFakeVerifier(),
		denylist: newFakeDenylist(),
		cfg:      cfg,
	}

	tokens := security.NewTokenService(testSecret).WithClock(clock.Now)
	env.auth = NewAuthService(store.Users(), store.ResetTokens(), tokens, env.denylist, env.notifier, cfg, zerolog.Nop())
	env.auth.now = clock.Now
	env.users = NewUserService(store.Users(), nil, zerolog.Nop())
	env.entitlement = NewEntitlementService(store.Subscriptions(), store.Scans(), store.Users(), env.verifier, env.notifier, cfg, zerolog.Nop())
	env.entitlement.now = clock.Now
	return env
}

func (e *testEnv) signUp(t *testing.T, email, password string) AuthResult {
	t.Helper()
	res, err := e.auth.SignUp(context.Background(), SignUpInput{Email: email, Password: password})
	require.NoError(t, err)
	return res
}
