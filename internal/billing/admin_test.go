package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

var adminNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

const adminSubID = "5f0c3d2e-8a41-4b6e-9c7d-2e1f0a9b8c7d"

func newAdminFixture() (*AdminService, *memStore) {
	st := newMemStore(fixedClock(adminNow))
	svc := NewAdminService(st, 7, nil)
	svc.now = fixedClock(adminNow)
	st.subs = append(st.subs, &models.Subscription{
		ID:        adminSubID,
		Domain:    "example.com",
		Status:    models.StatusActive,
		StartDate: adminNow.AddDate(0, -1, 0),
		EndDate:   adminNow.AddDate(0, 0, -1),
	})
	return svc, st
}

func TestAdminUpdateStatus(t *testing.T) {
	svc, _ := newAdminFixture()

	sub, err := svc.UpdateStatus(context.Background(), adminSubID, models.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, sub.Status)

	_, err = svc.UpdateStatus(context.Background(), adminSubID, "PAUSED")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(context.Background(), "00000000-0000-0000-0000-000000000000", models.StatusActive)
	assert.ErrorIs(t, err, store.ErrSubscriptionNotFound)
}

func TestAdminExtend(t *testing.T) {
	svc, _ := newAdminFixture()
	newEnd := adminNow.AddDate(0, 1, 0)

	sub, err := svc.Extend(context.Background(), adminSubID, newEnd, "pay_manual")
	require.NoError(t, err)
	assert.Equal(t, newEnd, sub.EndDate)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, "pay_manual", sub.GatewayPaymentID)
	assert.True(t, models.IsValid(sub, adminNow))
}

func TestAdminExtendRejectsEndBeforeStart(t *testing.T) {
	svc, _ := newAdminFixture()

	_, err := svc.Extend(context.Background(), adminSubID, adminNow.AddDate(0, -2, 0), "")
	assert.ErrorIs(t, err, ErrInvalidEndDate)
}

func TestAdminExpireLapsedOpensGraceWindow(t *testing.T) {
	svc, st := newAdminFixture()

	n, err := svc.ExpireLapsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sub := st.subs[0]
	assert.Equal(t, models.StatusExpired, sub.Status)
	require.NotNil(t, sub.GraceEndsAt)
	assert.Equal(t, sub.EndDate.AddDate(0, 0, 7), *sub.GraceEndsAt)

	got := Evaluate(sub, adminNow)
	assert.True(t, got.IsValid)
	assert.Equal(t, ReasonGracePeriod, got.Reason)
}

func TestAdminListSubscriptionsValidatesStatus(t *testing.T) {
	svc, _ := newAdminFixture()

	_, err := svc.ListSubscriptions(context.Background(), store.SubscriptionFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	subs, err := svc.ListSubscriptions(context.Background(), store.SubscriptionFilter{Domain: "Example.com"})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestAdminInvoicesRequiresSubscription(t *testing.T) {
	svc, _ := newAdminFixture()

	_, err := svc.Invoices(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrSubscriptionNotFound)

	invoices, err := svc.Invoices(context.Background(), adminSubID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

// untouchedStore panics on any call.
type untouchedStore struct {
	AdminStore
}

func TestAdminRejectsMalformedIDsBeforeStore(t *testing.T) {
	svc := NewAdminService(untouchedStore{}, 7, nil)
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "42", "' OR 1=1 --", ""} {
		_, err := svc.Invoices(ctx, id)
		assert.ErrorIs(t, err, store.ErrSubscriptionNotFound, id)

		_, err = svc.UpdateStatus(ctx, id, models.StatusSuspended)
		assert.ErrorIs(t, err, store.ErrSubscriptionNotFound, id)

		_, err = svc.Extend(ctx, id, adminNow, "")
		assert.ErrorIs(t, err, store.ErrSubscriptionNotFound, id)
	}
}

func TestAdminClient(t *testing.T) {
	svc, st := newAdminFixture()
	st.clients["example.com"] = &models.Client{Domain: "example.com", Name: "Owner", Active: true}

	c, err := svc.Client(context.Background(), "https://Example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Owner", c.Name)

	_, err = svc.Client(context.Background(), "unknown.example")
	assert.ErrorIs(t, err, store.ErrClientNotFound)

	_, err = svc.Client(context.Background(), "  ")
	assert.ErrorIs(t, err, store.ErrClientNotFound)
}
