package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
)

func TestReconcilePendingPayments(t *testing.T) {
	env := newTestEnv(Options{PendingPaymentMinAge: 10 * time.Minute})
	_, approved := env.seedPending(domain.SubscriptionStatusPending, domain.BillingCycleMonthly, "4001")
	env.seedPending(domain.SubscriptionStatusPending, domain.BillingCycleMonthly, "4002")
	env.seedPending(domain.SubscriptionStatusPending, domain.BillingCycleMonthly, "4003")
	_, fresh := env.seedPending(domain.SubscriptionStatusPending, domain.BillingCycleMonthly, "4004")
	env.repo.mu.Lock()
	env.repo.payments[fresh.ID].CreatedAt = fixedNow.Add(-time.Minute)
	env.repo.mu.Unlock()

	env.gatewayReports("4001", "approved", "")
	env.gatewayReports("4002", "in_process", "pending_review_manual")
	env.gatewayReports("4004", "approved", "")
	// 4003 is unknown to the gateway stub and fails

	result, err := env.svc.ReconcilePendingPayments(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Evaluated)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.PaymentStatusPaid, env.repo.payment(approved.ID).Status)
	assert.Equal(t, domain.PaymentStatusPending, env.repo.payment(fresh.ID).Status)
}

func TestReconcilePendingPayments_AbortsWithoutCredentials(t *testing.T) {
	env := newTestEnv(Options{})
	env.svc.opts.MercadoPagoAccessToken = ""
	env.seedPending(domain.SubscriptionStatusPending, domain.BillingCycleMonthly, "4001")

	_, err := env.svc.ReconcilePendingPayments(testContext(t))

	assert.ErrorIs(t, err, store.ErrCredentialsNotFound)
	assert.Zero(t, env.mp.getCalls)
}

// staleGraceRepo returns grace-period rows with an outdated version.
type staleGraceRepo struct {
	*memoryRepo
}

func (r staleGraceRepo) ListExpiredGracePeriods(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	subs, err := r.memoryRepo.ListExpiredGracePeriods(ctx, now, limit)
	for i := range subs {
		subs[i].Version--
	}
	return subs, err
}

func seedGraceSubscription(repo *memoryRepo, end time.Time) *domain.Subscription {
	return repo.addSubscription(&domain.Subscription{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		PlanID:         "pro",
		BillingCycle:   domain.BillingCycleMonthly,
		Status:         domain.SubscriptionStatusPastDue,
		GracePeriodEnd: &end,
		Version:        3,
	})
}

func TestExpireGracePeriods(t *testing.T) {
	env := newTestEnv(Options{})
	expired := seedGraceSubscription(env.repo, fixedNow.Add(-time.Hour))
	running := seedGraceSubscription(env.repo, fixedNow.Add(48*time.Hour))

	result, err := env.svc.ExpireGracePeriods(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 1, result.Suspended)
	assert.Equal(t, domain.SubscriptionStatusSuspended, env.repo.subscription(expired.ID).Status)
	assert.Equal(t, domain.SubscriptionStatusPastDue, env.repo.subscription(running.ID).Status)
	require.Equal(t, 1, env.repo.logCount())
	assert.Equal(t, domain.LogEventGracePeriodExpired, env.repo.logs[0].EventType)
	assert.Equal(t, []string{domain.RoutingKeySubscriptionStatusChanged}, env.publisher.routingKeys())
}

func TestExpireGracePeriods_SkipsConcurrentlyChangedRows(t *testing.T) {
	env := newTestEnv(Options{})
	stale := staleGraceRepo{memoryRepo: env.repo}
	svc := NewService(stale, env.mp, env.pb, env.publisher, nil, discardLogger(), Options{})
	svc.now = func() time.Time { return fixedNow }
	sub := seedGraceSubscription(env.repo, fixedNow.Add(-time.Hour))

	result, err := svc.ExpireGracePeriods(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Suspended)
	assert.Equal(t, domain.SubscriptionStatusPastDue, env.repo.subscription(sub.ID).Status)
	assert.Empty(t, env.publisher.routingKeys())
}
