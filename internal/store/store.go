package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/PortNumber53/agency-portal/internal/models"
)

const defaultPageSize = 200

var (
	// ErrSubscriptionNotFound is returned when no subscription matches.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrClientNotFound is returned when no client owns the domain.
	ErrClientNotFound = errors.New("client not found")
	// ErrDuplicatePayment is returned when a gateway payment has already been
	// recorded.
	ErrDuplicatePayment = errors.New("payment already recorded")
	// ErrActiveSubscription is returned when a checkout is attempted for a
	// domain whose authoritative subscription is still valid.
	ErrActiveSubscription = errors.New("domain already has an active subscription")
	// ErrCheckoutInProgress is returned when another contact holds an open
	// payment session for the domain.
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this domain")
)

// Store provides database-backed accessors for billing data.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// lockDomain serializes writers for one domain until tx ends.
func lockDomain(ctx context.Context, tx *sql.Tx, domain string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, domain); err != nil {
		return fmt.Errorf("store: lock domain %s: %w", domain, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// invoiceNumber is a sortable timestamp with a random suffix, so two
// invoices created in the same millisecond do not collide.
func invoiceNumber(now time.Time) (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(suffix)), nil
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > defaultPageSize {
		return defaultPageSize
	}
	return limit
}

// CreateClientIfMissing inserts c unless a client already owns its domain.
// Existing clients are left untouched. It reports whether a row was created.
func (s *Store) CreateClientIfMissing(ctx context.Context, c *models.Client) (bool, error) {
	ensureID(&c.ID)

	res, err := s.db.ExecContext(ctx, `
INSERT INTO clients (id, domain, name, email, phone, address, active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (domain) DO NOTHING`,
		c.ID, c.Domain, c.Name, c.Email, c.Phone, c.Address, c.Active,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert client rows affected: %w", err)
	}
	return n > 0, nil
}

const clientColumns = `id, domain, name, email, phone, address, active, created_at, updated_at`

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(&c.ID, &c.Domain, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClientByDomain returns the client that owns domain.
func (s *Store) GetClientByDomain(ctx context.Context, domain string) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE domain = $1`, domain))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("store: get client: %w", err)
	}
	return c, nil
}

// ListClients returns up to limit clients, newest first.
func (s *Store) ListClients(ctx context.Context, limit int) ([]models.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan client: %w", err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate clients: %w", err)
	}
	return clients, nil
}
