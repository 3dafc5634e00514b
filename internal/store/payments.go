package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/agency-portal/internal/models"
)

// ReserveCheckout records an open payment session for sess.Domain unless the
// domain already has a valid authoritative subscription or another contact
// holds an unexpired open session. A previous open session by the same
// contact is abandoned. The checks and the insert run under a per-domain
// transaction lock, so concurrent checkouts for one domain cannot both pass.
func (s *Store) ReserveCheckout(ctx context.Context, sess *models.PaymentSession) error {
	ensureID(&sess.ID)
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin reserve checkout tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockDomain(ctx, tx, sess.Domain); err != nil {
		return err
	}

	current, err := authoritativeSubscription(ctx, tx, sess.Domain)
	switch {
	case err == nil:
		if models.IsValid(current, now) {
			return ErrActiveSubscription
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: lookup subscription for checkout: %w", err)
	}

	var otherID string
	err = tx.QueryRowContext(ctx, `
SELECT id
FROM payment_sessions
WHERE domain = $1 AND status = 'open' AND expires_at > $2 AND LOWER(contact_email) <> LOWER($3)
LIMIT 1`, sess.Domain, now, sess.ContactEmail).Scan(&otherID)
	switch {
	case err == nil:
		return ErrCheckoutInProgress
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: lookup open payment sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE payment_sessions
SET status = 'abandoned'
WHERE domain = $1 AND status = 'open'`, sess.Domain); err != nil {
		return fmt.Errorf("store: abandon stale payment sessions: %w", err)
	}

	sess.Status = models.SessionOpen
	if _, err := tx.ExecContext(ctx, `
INSERT INTO payment_sessions (id, domain, plan_id, gateway, contact_email, status, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.Domain, sess.PlanID, sess.Gateway, sess.ContactEmail, sess.Status, sess.ExpiresAt,
	); err != nil {
		return fmt.Errorf("store: insert payment session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit reserve checkout tx: %w", err)
	}
	return nil
}

// AttachGatewayReference stores the gateway's session or order id on a
// payment session.
func (s *Store) AttachGatewayReference(ctx context.Context, sessionID, ref string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE payment_sessions SET gateway_ref = $2 WHERE id = $1`, sessionID, ref); err != nil {
		return fmt.Errorf("store: attach gateway reference: %w", err)
	}
	return nil
}

// AbandonCheckout releases a reservation whose gateway session could not be
// opened.
func (s *Store) AbandonCheckout(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE payment_sessions SET status = 'abandoned' WHERE id = $1 AND status = 'open'`, sessionID); err != nil {
		return fmt.Errorf("store: abandon payment session: %w", err)
	}
	return nil
}

// AbandonExpiredCheckouts marks open payment sessions past their expiry as
// abandoned and returns how many changed.
func (s *Store) AbandonExpiredCheckouts(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE payment_sessions
SET status = 'abandoned'
WHERE status = 'open' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("store: abandon expired payment sessions: %w", err)
	}
	return res.RowsAffected()
}

// PaymentRecord is everything a successful payment writes.
type PaymentRecord struct {
	Subscription *models.Subscription
	Invoice      *models.Invoice
	// SessionID or GatewayRef identifies the payment session to complete.
	// Both may be empty for payments started outside this portal.
	SessionID  string
	GatewayRef string
}

// RecordPayment persists a paid subscription period in one transaction:
// it inserts the new subscription, supersedes every earlier authoritative
// subscription of the domain, inserts the invoice, and completes the
// payment session. A payment already recorded for the same gateway and
// payment id yields ErrDuplicatePayment and changes nothing.
//
// When the domain gained a valid subscription after the payment's session
// was opened, the payment is a second purchase of the same period. The
// invoice is still recorded, but the subscription is stored PENDING and
// superseded by the current one so the paid period already in force is left
// alone. Callers detect this through rec.Subscription.SupersededBy.
func (s *Store) RecordPayment(ctx context.Context, rec PaymentRecord) error {
	sub, inv := rec.Subscription, rec.Invoice
	if sub == nil || inv == nil {
		return errors.New("store: record payment requires a subscription and an invoice")
	}
	ensureID(&sub.ID)
	ensureID(&inv.ID)
	inv.SubscriptionID = sub.ID
	if inv.InvoiceNumber == "" {
		number, err := invoiceNumber(s.now())
		if err != nil {
			return fmt.Errorf("store: generate invoice number: %w", err)
		}
		inv.InvoiceNumber = number
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin record payment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := lockDomain(ctx, tx, sub.Domain); err != nil {
		return err
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM invoices WHERE gateway = $1 AND gateway_payment_id = $2`,
		inv.Gateway, inv.GatewayPaymentID).Scan(&existing)
	switch {
	case err == nil:
		return ErrDuplicatePayment
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("store: lookup invoice by payment: %w", err)
	}

	winner, err := s.conflictingSubscription(ctx, tx, rec, inv.Gateway)
	if err != nil {
		return err
	}
	if winner != nil {
		sub.Status = models.StatusPending
		sub.SupersededBy = &winner.ID
	}

	if err := insertSubscription(ctx, tx, sub); err != nil {
		return err
	}

	if winner == nil {
		if _, err := tx.ExecContext(ctx, `
UPDATE subscriptions
SET status = 'CANCELLED', superseded_by = $2, updated_at = now()
WHERE domain = $1 AND superseded_by IS NULL AND id <> $2`, sub.Domain, sub.ID); err != nil {
			return fmt.Errorf("store: supersede subscriptions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO invoices (
	id, subscription_id, domain, amount, currency, status, due_date, paid_at,
	invoice_number, gateway, gateway_payment_id, gateway_customer_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID,
		inv.SubscriptionID,
		inv.Domain,
		inv.Amount,
		inv.Currency,
		inv.Status,
		inv.DueDate,
		inv.PaidAt,
		inv.InvoiceNumber,
		inv.Gateway,
		inv.GatewayPaymentID,
		inv.GatewayCustomerID,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("store: insert invoice: %w", err)
	}

	switch {
	case rec.SessionID != "":
		_, err = tx.ExecContext(ctx, `UPDATE payment_sessions SET status = 'completed' WHERE id = $1`, rec.SessionID)
	case rec.GatewayRef != "":
		_, err = tx.ExecContext(ctx, `UPDATE payment_sessions SET status = 'completed' WHERE gateway = $1 AND gateway_ref = $2`, inv.Gateway, rec.GatewayRef)
	}
	if err != nil {
		return fmt.Errorf("store: complete payment session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("store: commit record payment tx: %w", err)
	}
	return nil
}

// conflictingSubscription returns the domain's authoritative subscription
// when it is valid and was created after the payment's session, or nil.
// Payments without a known session never conflict.
func (s *Store) conflictingSubscription(ctx context.Context, tx *sql.Tx, rec PaymentRecord, gw models.Gateway) (*models.Subscription, error) {
	var row *sql.Row
	switch {
	case rec.SessionID != "":
		row = tx.QueryRowContext(ctx, `SELECT created_at FROM payment_sessions WHERE id = $1`, rec.SessionID)
	case rec.GatewayRef != "":
		row = tx.QueryRowContext(ctx, `SELECT created_at FROM payment_sessions WHERE gateway = $1 AND gateway_ref = $2`, gw, rec.GatewayRef)
	default:
		return nil, nil
	}

	var opened time.Time
	if err := row.Scan(&opened); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: lookup payment session: %w", err)
	}

	current, err := authoritativeSubscription(ctx, tx, rec.Subscription.Domain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: lookup subscription for payment: %w", err)
	}
	if current.CreatedAt.After(opened) && models.IsValid(current, s.now()) {
		return current, nil
	}
	return nil, nil
}

const invoiceColumns = `id, subscription_id, domain, amount, currency, status, due_date, paid_at,
	invoice_number, gateway, gateway_payment_id, gateway_customer_id, created_at`

// ListInvoices returns the invoices of a subscription, newest first.
func (s *Store) ListInvoices(ctx context.Context, subscriptionID string) ([]models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE subscription_id = $1
ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("store: list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		var (
			inv    models.Invoice
			paidAt sql.NullTime
		)
		if err := rows.Scan(
			&inv.ID,
			&inv.SubscriptionID,
			&inv.Domain,
			&inv.Amount,
			&inv.Currency,
			&inv.Status,
			&inv.DueDate,
			&paidAt,
			&inv.InvoiceNumber,
			&inv.Gateway,
			&inv.GatewayPaymentID,
			&inv.GatewayCustomerID,
			&inv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan invoice: %w", err)
		}
		inv.PaidAt = nullTimePtr(paidAt)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate invoices: %w", err)
	}
	return invoices, nil
}
