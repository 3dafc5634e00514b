package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

// Reason explains why a subscription is or is not valid.
type Reason string

const (
	ReasonNoSubscription Reason = "no_subscription"
	ReasonGracePeriod    Reason = "grace_period"
	ReasonGraceExpired   Reason = "grace_expired"
	ReasonExpired        Reason = "expired"
	ReasonSuspended      Reason = "suspended"
	ReasonPending        Reason = "pending"
	ReasonCancelled      Reason = "cancelled"
	ReasonUnknown        Reason = "unknown"
	ReasonError          Reason = "error"
)

// MaxBatchDomains bounds a single CheckMany call.
const MaxBatchDomains = 100

const batchConcurrency = 8

// ErrTooManyDomains is returned by CheckMany for oversized batches.
var ErrTooManyDomains = fmt.Errorf("at most %d domains can be checked at once", MaxBatchDomains)

// Status is the answer to "may this domain be served".
type Status struct {
	IsValid      bool                 `json:"isValid"`
	Reason       Reason               `json:"reason,omitempty"`
	Message      string               `json:"message,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// Evaluate explains models.IsValid for sub at now. Its IsValid always agrees
// with models.IsValid.
func Evaluate(sub *models.Subscription, now time.Time) Status {
	if sub == nil {
		return Status{Reason: ReasonNoSubscription, Message: "No subscription found for this domain"}
	}

	st := Status{IsValid: models.IsValid(sub, now), Subscription: sub}
	switch sub.Status {
	case models.StatusActive:
		if !st.IsValid {
			st.Reason = ReasonExpired
			st.Message = "Subscription ended on " + sub.EndDate.Format(time.DateOnly)
		}
	case models.StatusExpired:
		switch {
		case st.IsValid:
			st.Reason = ReasonGracePeriod
			st.Message = "Subscription expired; grace period ends " + sub.GraceEndsAt.Format(time.DateOnly)
		case sub.GraceEndsAt != nil:
			st.Reason = ReasonGraceExpired
			st.Message = "Subscription expired and the grace period has ended"
		default:
			st.Reason = ReasonExpired
			st.Message = "Subscription has expired"
		}
	case models.StatusSuspended:
		st.Reason = ReasonSuspended
		st.Message = "Subscription is suspended"
	case models.StatusPending:
		st.Reason = ReasonPending
		st.Message = "Subscription is pending activation"
	case models.StatusCancelled:
		st.Reason = ReasonCancelled
		st.Message = "Subscription has been cancelled"
	default:
		st.Reason = ReasonUnknown
		st.Message = "Subscription status is unknown"
	}
	return st
}

// SubscriptionLookup finds a domain's authoritative subscription.
type SubscriptionLookup interface {
	GetSubscriptionByDomain(ctx context.Context, domain string) (*models.Subscription, error)
}

// StatusService answers subscription validity queries.
type StatusService struct {
	store SubscriptionLookup
	now   func() time.Time
}

// NewStatusService creates a StatusService.
func NewStatusService(st SubscriptionLookup) *StatusService {
	return &StatusService{store: st, now: time.Now}
}

// Check evaluates the subscription of one domain.
func (s *StatusService) Check(ctx context.Context, domain string) (Status, error) {
	sub, err := s.store.GetSubscriptionByDomain(ctx, NormalizeDomain(domain))
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return Evaluate(nil, s.now()), nil
		}
		return Status{}, err
	}
	return Evaluate(sub, s.now()), nil
}

// BatchResult is one domain's entry in a batch check.
type BatchResult struct {
	Domain  string     `json:"domain"`
	IsValid bool       `json:"isValid"`
	Status  string     `json:"status"`
	EndDate *time.Time `json:"endDate,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// CheckMany checks domains concurrently. A failing lookup becomes an entry
// with status "error" instead of failing the batch. Results keep input order.
func (s *StatusService) CheckMany(ctx context.Context, domains []string) ([]BatchResult, error) {
	if len(domains) > MaxBatchDomains {
		return nil, ErrTooManyDomains
	}

	results := make([]BatchResult, len(domains))
	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, domain := range domains {
		g.Go(func() error {
			results[i] = s.checkOne(ctx, domain)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *StatusService) checkOne(ctx context.Context, domain string) BatchResult {
	res := BatchResult{Domain: domain}
	st, err := s.Check(ctx, domain)
	if err != nil {
		res.Status = string(ReasonError)
		res.Error = "Failed to check subscription"
		return res
	}
	res.IsValid = st.IsValid
	if st.Subscription == nil {
		res.Status = string(ReasonNoSubscription)
		return res
	}
	res.Status = string(st.Subscription.Status)
	end := st.Subscription.EndDate
	res.EndDate = &end
	return res
}
