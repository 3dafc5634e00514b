package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/PortNumber53/agency-portal/internal/models"
)

const subscriptionColumns = `id, domain, plan_id, billing_period, start_date, end_date, status, services,
	grace_ends_at, gateway, gateway_customer_id, gateway_subscription_id, gateway_payment_id,
	superseded_by, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub          models.Subscription
		graceEndsAt  sql.NullTime
		supersededBy sql.NullString
		services     []string
	)
	if err := row.Scan(
		&sub.ID,
		&sub.Domain,
		&sub.PlanID,
		&sub.BillingPeriod,
		&sub.StartDate,
		&sub.EndDate,
		&sub.Status,
		pq.Array(&services),
		&graceEndsAt,
		&sub.Gateway,
		&sub.GatewayCustomerID,
		&sub.GatewaySubscriptionID,
		&sub.GatewayPaymentID,
		&supersededBy,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if services == nil {
		services = []string{}
	}
	sub.Services = services
	sub.GraceEndsAt = nullTimePtr(graceEndsAt)
	sub.SupersededBy = nullStringPtr(supersededBy)
	return &sub, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// authoritativeSubscription returns the domain's most recent subscription
// that has not been superseded, or sql.ErrNoRows.
func authoritativeSubscription(ctx context.Context, db rowQuerier, domain string) (*models.Subscription, error) {
	return scanSubscription(db.QueryRowContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE domain = $1 AND superseded_by IS NULL
ORDER BY created_at DESC
LIMIT 1`, domain))
}

func insertSubscription(ctx context.Context, db execer, sub *models.Subscription) error {
	ensureID(&sub.ID)
	if sub.Services == nil {
		sub.Services = []string{}
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO subscriptions (
	id, domain, plan_id, billing_period, start_date, end_date, status, services,
	grace_ends_at, gateway, gateway_customer_id, gateway_subscription_id, gateway_payment_id,
	superseded_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sub.ID,
		sub.Domain,
		sub.PlanID,
		sub.BillingPeriod,
		sub.StartDate,
		sub.EndDate,
		sub.Status,
		pq.Array(sub.Services),
		sub.GraceEndsAt,
		sub.Gateway,
		sub.GatewayCustomerID,
		sub.GatewaySubscriptionID,
		sub.GatewayPaymentID,
		sub.SupersededBy,
	)
	if err != nil {
		return fmt.Errorf("store: insert subscription: %w", err)
	}
	return nil
}

// CreateSubscription inserts a subscription as given. It does not supersede
// any existing subscription for the domain; RecordPayment does that.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return insertSubscription(ctx, s.db, sub)
}

// GetSubscriptionByDomain returns the authoritative subscription for domain:
// the most recent one that has not been superseded.
func (s *Store) GetSubscriptionByDomain(ctx context.Context, domain string) (*models.Subscription, error) {
	sub, err := authoritativeSubscription(ctx, s.db, domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("store: get subscription by domain: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByID returns a subscription by id, superseded or not.
func (s *Store) GetSubscriptionByID(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("store: get subscription by id: %w", err)
	}
	return sub, nil
}

// UpdateSubscriptionStatus sets the status of a subscription and returns the
// updated row. Leaving EXPIRED clears the grace deadline.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
UPDATE subscriptions
SET status = $2,
	grace_ends_at = CASE WHEN $2 = 'EXPIRED' THEN grace_ends_at ELSE NULL END,
	updated_at = now()
WHERE id = $1
RETURNING `+subscriptionColumns, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("store: update subscription status: %w", err)
	}
	return sub, nil
}

// ExtendSubscription moves the end date, reactivates the subscription, and
// records paymentID when it is non-empty.
func (s *Store) ExtendSubscription(ctx context.Context, id string, newEnd time.Time, paymentID string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
UPDATE subscriptions
SET end_date = $2,
	status = 'ACTIVE',
	grace_ends_at = NULL,
	gateway_payment_id = COALESCE(NULLIF($3, ''), gateway_payment_id),
	updated_at = now()
WHERE id = $1
RETURNING `+subscriptionColumns, id, newEnd, paymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("store: extend subscription: %w", err)
	}
	return sub, nil
}

// SubscriptionFilter narrows ListSubscriptions. Zero fields match anything.
type SubscriptionFilter struct {
	Domain            string
	Status            models.SubscriptionStatus
	IncludeSuperseded bool
	Limit             int
	Offset            int
}

// ListSubscriptions returns subscriptions newest first.
func (s *Store) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE ($1 = '' OR domain = $1)
  AND ($2 = '' OR status = $2)
  AND ($3 OR superseded_by IS NULL)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5`,
		f.Domain, string(f.Status), f.IncludeSuperseded, clampLimit(f.Limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate subscriptions: %w", err)
	}
	return subs, nil
}

// ExpireLapsed moves authoritative ACTIVE subscriptions whose end date is at
// or before now to EXPIRED, opening a grace window of graceDays from the end
// date. It returns the number of subscriptions changed.
func (s *Store) ExpireLapsed(ctx context.Context, now time.Time, graceDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE subscriptions
SET status = 'EXPIRED',
	grace_ends_at = end_date + make_interval(days => $2),
	updated_at = now()
WHERE status = 'ACTIVE' AND end_date <= $1 AND superseded_by IS NULL`, now, graceDays)
	if err != nil {
		return 0, fmt.Errorf("store: expire lapsed subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: expire lapsed rows affected: %w", err)
	}
	return n, nil
}
