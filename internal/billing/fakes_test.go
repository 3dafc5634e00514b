package billing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/internal/gateway"
	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

// memStore is an in-memory stand-in for *store.Store.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	subs     []*models.Subscription
	invoices []*models.Invoice
	clients  map[string]*models.Client
	sessions map[string]*models.PaymentSession

	lookupErr map[string]error
	recordErr error
	clientErr error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:       now,
		clients:   map[string]*models.Client{},
		sessions:  map[string]*models.PaymentSession{},
		lookupErr: map[string]error{},
	}
}

func (m *memStore) authoritative(domain string) *models.Subscription {
	var latest *models.Subscription
	for _, s := range m.subs {
		if s.Domain == domain && s.SupersededBy == nil {
			latest = s
		}
	}
	return latest
}

func (m *memStore) ReserveCheckout(_ context.Context, sess *models.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if models.IsValid(m.authoritative(sess.Domain), m.now()) {
		return store.ErrActiveSubscription
	}
	for _, other := range m.sessions {
		if other.Domain != sess.Domain || other.Status != models.SessionOpen {
			continue
		}
		if other.ExpiresAt.After(m.now()) && !strings.EqualFold(other.ContactEmail, sess.ContactEmail) {
			return store.ErrCheckoutInProgress
		}
		other.Status = models.SessionAbandoned
	}
	sess.Status = models.SessionOpen
	sess.CreatedAt = m.now()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) AttachGatewayReference(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.GatewayRef = ref
	}
	return nil
}

func (m *memStore) AbandonCheckout(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Status == models.SessionOpen {
		s.Status = models.SessionAbandoned
	}
	return nil
}

func (m *memStore) CreateClientIfMissing(_ context.Context, c *models.Client) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clientErr != nil {
		return false, m.clientErr
	}
	if _, ok := m.clients[c.Domain]; ok {
		return false, nil
	}
	cp := *c
	m.clients[c.Domain] = &cp
	return true, nil
}

func (m *memStore) RecordPayment(_ context.Context, rec store.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	for _, inv := range m.invoices {
		if inv.Gateway == rec.Invoice.Gateway && inv.GatewayPaymentID == rec.Invoice.GatewayPaymentID {
			return store.ErrDuplicatePayment
		}
	}
	rec.Subscription.ID = uuid.NewString()
	rec.Subscription.CreatedAt = m.now()
	rec.Invoice.ID = uuid.NewString()
	rec.Invoice.SubscriptionID = rec.Subscription.ID
	rec.Invoice.InvoiceNumber = "INV-" + rec.Invoice.ID[:8]

	sess := m.paymentSession(rec)
	current := m.authoritative(rec.Subscription.Domain)
	if sess != nil && current != nil && current.CreatedAt.After(sess.CreatedAt) && models.IsValid(current, m.now()) {
		id := current.ID
		rec.Subscription.Status = models.StatusPending
		rec.Subscription.SupersededBy = &id
	} else {
		for _, s := range m.subs {
			if s.Domain == rec.Subscription.Domain && s.SupersededBy == nil {
				id := rec.Subscription.ID
				s.Status = models.StatusCancelled
				s.SupersededBy = &id
			}
		}
	}
	m.subs = append(m.subs, rec.Subscription)
	m.invoices = append(m.invoices, rec.Invoice)
	if sess != nil {
		sess.Status = models.SessionCompleted
	}
	return nil
}

func (m *memStore) paymentSession(rec store.PaymentRecord) *models.PaymentSession {
	if s, ok := m.sessions[rec.SessionID]; ok {
		return s
	}
	if rec.GatewayRef == "" {
		return nil
	}
	for _, s := range m.sessions {
		if s.Gateway == rec.Invoice.Gateway && s.GatewayRef == rec.GatewayRef {
			return s
		}
	}
	return nil
}

// stepClock is a clock tests advance by hand.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (m *memStore) GetSubscriptionByDomain(_ context.Context, domain string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.lookupErr[domain]; err != nil {
		return nil, err
	}
	sub := m.authoritative(domain)
	if sub == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) GetSubscriptionByID(_ context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (m *memStore) UpdateSubscriptionStatus(_ context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			s.Status = status
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (m *memStore) ExtendSubscription(_ context.Context, id string, newEnd time.Time, paymentID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			s.EndDate = newEnd
			s.Status = models.StatusActive
			s.GraceEndsAt = nil
			if paymentID != "" {
				s.GatewayPaymentID = paymentID
			}
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (m *memStore) ListSubscriptions(_ context.Context, f store.SubscriptionFilter) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subs {
		if f.Domain != "" && s.Domain != f.Domain {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) ListInvoices(_ context.Context, subscriptionID string) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.SubscriptionID == subscriptionID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) ListClients(_ context.Context, _ int) ([]models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Client
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) GetClientByDomain(_ context.Context, domain string) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[domain]
	if !ok {
		return nil, store.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ExpireLapsed(_ context.Context, now time.Time, graceDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.subs {
		if s.Status == models.StatusActive && s.SupersededBy == nil && !s.EndDate.After(now) {
			grace := s.EndDate.AddDate(0, 0, graceDays)
			s.Status = models.StatusExpired
			s.GraceEndsAt = &grace
			n++
		}
	}
	return n, nil
}

// fakeGateway records checkout calls.
type fakeGateway struct {
	name  models.Gateway
	err   error
	calls []gateway.CheckoutParams
}

func (f *fakeGateway) Name() models.Gateway { return f.name }

func (f *fakeGateway) CreateCheckout(_ context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	if f.name == models.GatewayRazorpay {
		return &gateway.CheckoutSession{
			Gateway:   f.name,
			Reference: "order_fake",
			WidgetOptions: &gateway.WidgetOptions{
				Amount:   p.Plan.MinorUnits(),
				Currency: p.Plan.Currency,
				OrderID:  "order_fake",
				Notes:    p.Metadata().Map(),
			},
		}, nil
	}
	return &gateway.CheckoutSession{Gateway: f.name, Reference: "cs_fake", RedirectURL: "https://checkout.test/cs_fake"}, nil
}

func (f *fakeGateway) ParseWebhook([]byte, string) (*gateway.Event, error) {
	return nil, errors.New("not implemented")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
