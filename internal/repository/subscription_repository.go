package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"plantscan/api/internal/models"
)

const (
	constraintPaymentReference = "subscriptions_payment_reference_key"
	constraintOneActive        = "subscriptions_one_active_key"
)

var (
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	ErrDuplicatePaymentReference  = errors.New("payment reference already used")
	ErrActiveSubscriptionConflict = errors.New("concurrent subscription activation")
)

const subscriptionColumns = `id, user_id, plan_type, billing_cycle, status, start_date, end_date,
	payment_reference, amount, currency, created_at, updated_at`

type SubscriptionRepository struct {
	db DB
}

func NewSubscriptionRepository(db DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetActive returns the row stored with status active. The caller decides
// whether its end date still grants access.
func (r *SubscriptionRepository) GetActive(ctx context.Context, userID string) (models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 AND status = 'active'`
	return scanSubscription(r.db.QueryRow(ctx, query, userID))
}

func (r *SubscriptionRepository) GetByPaymentReference(ctx context.Context, reference string) (models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE payment_reference = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, reference))
}

// Activate cancels the user's current active subscription and inserts sub in
// one transaction. A reused payment reference fails with
// ErrDuplicatePaymentReference and leaves the previous subscription in place.
func (r *SubscriptionRepository) Activate(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	var created models.Subscription
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const cancelQuery = `
			UPDATE subscriptions
			SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND status = 'active'
		`
		if _, err := tx.Exec(ctx, cancelQuery, sub.UserID); err != nil {
			return err
		}

		const insertQuery = `
			INSERT INTO subscriptions (
				id, user_id, plan_type, billing_cycle, status, start_date, end_date,
				payment_reference, amount, currency, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
			)
			RETURNING ` + subscriptionColumns

		row := tx.QueryRow(ctx, insertQuery,
			sub.ID,
			sub.UserID,
			sub.PlanType,
			sub.BillingCycle,
			sub.Status,
			sub.StartDate,
			sub.EndDate,
			sub.PaymentReference,
			sub.Amount,
			sub.Currency,
		)
		var err error
		created, err = scanSubscription(row)
		return err
	})
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == constraintPaymentReference {
				return models.Subscription{}, ErrDuplicatePaymentReference
			}
			return models.Subscription{}, ErrActiveSubscriptionConflict
		}
		return models.Subscription{}, err
	}
	return created, nil
}

func (r *SubscriptionRepository) Cancel(ctx context.Context, userID string) (models.Subscription, error) {
	const query = `
		UPDATE subscriptions
		SET status = 'cancelled', updated_at = NOW()
		WHERE user_id = $1 AND status = 'active'
		RETURNING ` + subscriptionColumns

	return scanSubscription(r.db.QueryRow(ctx, query, userID))
}

// ExpireLapsed flips active subscriptions whose end date has passed to expired.
func (r *SubscriptionRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND end_date <= $1
	`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanType,
		&sub.BillingCycle,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.PaymentReference,
		&sub.Amount,
		&sub.Currency,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Subscription{}, ErrSubscriptionNotFound
		}
		return models.Subscription{}, err
	}
	return sub, nil
}
