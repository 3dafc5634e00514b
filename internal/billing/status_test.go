package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/agency-portal/internal/models"
)

var statusNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluate(t *testing.T) {
	future := statusNow.Add(24 * time.Hour)
	past := statusNow.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		sub    *models.Subscription
		valid  bool
		reason Reason
	}{
		{"absent", nil, false, ReasonNoSubscription},
		{"active", &models.Subscription{Status: models.StatusActive, EndDate: future}, true, ""},
		{"active ended", &models.Subscription{Status: models.StatusActive, EndDate: past}, false, ReasonExpired},
		{"in grace", &models.Subscription{Status: models.StatusExpired, EndDate: past, GraceEndsAt: timePtr(future)}, true, ReasonGracePeriod},
		{"grace over", &models.Subscription{Status: models.StatusExpired, EndDate: past, GraceEndsAt: timePtr(past)}, false, ReasonGraceExpired},
		{"expired without grace", &models.Subscription{Status: models.StatusExpired, EndDate: past}, false, ReasonExpired},
		{"suspended", &models.Subscription{Status: models.StatusSuspended, EndDate: future}, false, ReasonSuspended},
		{"pending", &models.Subscription{Status: models.StatusPending, EndDate: future}, false, ReasonPending},
		{"cancelled", &models.Subscription{Status: models.StatusCancelled, EndDate: future}, false, ReasonCancelled},
		{"unknown", &models.Subscription{Status: "PAUSED", EndDate: future}, false, ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.sub, statusNow)
			assert.Equal(t, tt.valid, got.IsValid)
			assert.Equal(t, models.IsValid(tt.sub, statusNow), got.IsValid)
			assert.Equal(t, tt.reason, got.Reason)
			if tt.reason != "" {
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func newStatusFixture() (*StatusService, *memStore) {
	st := newMemStore(fixedClock(statusNow))
	svc := NewStatusService(st)
	svc.now = fixedClock(statusNow)
	return svc, st
}

func TestCheck(t *testing.T) {
	svc, st := newStatusFixture()
	st.subs = append(st.subs, &models.Subscription{ID: "sub-1", Domain: "a.com", Status: models.StatusActive, EndDate: statusNow.AddDate(0, 1, 0)})

	got, err := svc.Check(context.Background(), "A.com")
	require.NoError(t, err)
	assert.True(t, got.IsValid)
	require.NotNil(t, got.Subscription)
	assert.Equal(t, "sub-1", got.Subscription.ID)

	got, err = svc.Check(context.Background(), "missing.com")
	require.NoError(t, err)
	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonNoSubscription, got.Reason)
}

func TestCheckPropagatesStoreErrors(t *testing.T) {
	svc, st := newStatusFixture()
	st.lookupErr["down.com"] = errors.New("store unavailable")

	_, err := svc.Check(context.Background(), "down.com")
	assert.Error(t, err)
}

func TestCheckManyIsolatesFailures(t *testing.T) {
	svc, st := newStatusFixture()
	end := statusNow.AddDate(0, 1, 0)
	st.subs = append(st.subs, &models.Subscription{ID: "sub-a", Domain: "a.com", Status: models.StatusActive, EndDate: end})
	st.lookupErr["b.com"] = errors.New("lookup exploded")

	results, err := svc.CheckMany(context.Background(), []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.com", results[0].Domain)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, "ACTIVE", results[0].Status)
	require.NotNil(t, results[0].EndDate)
	assert.Equal(t, end, *results[0].EndDate)

	assert.Equal(t, "b.com", results[1].Domain)
	assert.False(t, results[1].IsValid)
	assert.Equal(t, "error", results[1].Status)
	assert.NotEmpty(t, results[1].Error)

	assert.Equal(t, "c.com", results[2].Domain)
	assert.Equal(t, "no_subscription", results[2].Status)
	assert.Nil(t, results[2].EndDate)
}

func TestCheckManyRejectsOversizedBatch(t *testing.T) {
	svc, _ := newStatusFixture()
	domains := make([]string, MaxBatchDomains+1)
	for i := range domains {
		domains[i] = "example.com"
	}

	_, err := svc.CheckMany(context.Background(), domains)
	assert.ErrorIs(t, err, ErrTooManyDomains)
}
